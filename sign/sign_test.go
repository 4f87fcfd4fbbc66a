package sign

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docseal/docseal/certs"
	"github.com/docseal/docseal/internal/testpdf"
	"github.com/docseal/docseal/verify"
)

func testSignData(t *testing.T) (SignData, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := certs.NewSelfSigned(key, certs.Identity{
		CommonName:   "Test Signer",
		Email:        "signer@test.example",
		Organization: "Test Org",
	})
	if err != nil {
		t.Fatal(err)
	}

	return SignData{
		Signer:      key,
		Certificate: cert,
		Info: SignatureInfo{
			Name:        "Test Signer",
			Reason:      "Testing",
			Location:    "Test Lab",
			ContactInfo: "signer@test.example",
			Date:        time.Now(),
		},
	}, key
}

func TestSignBytesRoundTrip(t *testing.T) {
	data, _ := testSignData(t)
	input := testpdf.Minimal()

	signed, err := SignBytes(context.Background(), input, data)
	if err != nil {
		t.Fatalf("SignBytes: %v", err)
	}

	if !bytes.HasPrefix(signed, input) {
		t.Error("signing modified the original document bytes")
	}

	result, err := verify.Bytes(signed, data.Certificate)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Errorf("signed document does not verify: %s", result.Message)
	}
	if !result.HashOK || !result.SignatureOK || !result.CertOK {
		t.Errorf("unexpected check results: hash=%v signature=%v cert=%v",
			result.HashOK, result.SignatureOK, result.CertOK)
	}
	if result.SignerName != "Test Signer" {
		t.Errorf("signer name = %q", result.SignerName)
	}
	if result.Reason != "Testing" {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestSignBytesMultiPage(t *testing.T) {
	data, _ := testSignData(t)
	input := testpdf.MultiPage(3, "Hello")

	signed, err := SignBytes(context.Background(), input, data)
	if err != nil {
		t.Fatalf("SignBytes: %v", err)
	}

	result, err := verify.Bytes(signed, data.Certificate)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("multi-page document does not verify: %s", result.Message)
	}
}

func TestSignBytesTamperDetected(t *testing.T) {
	data, _ := testSignData(t)

	signed, err := SignBytes(context.Background(), testpdf.Minimal(), data)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte inside the original page content, well before the
	// signature.
	tampered := bytes.Replace(signed, []byte("(Hello)"), []byte("(Salut)"), 1)
	if bytes.Equal(tampered, signed) {
		t.Fatal("fixture text not found, tamper test is void")
	}

	result, err := verify.Bytes(tampered, data.Certificate)
	if err != nil {
		t.Fatalf("verification of a tampered document must not error: %v", err)
	}
	if result.Valid {
		t.Error("tampered document verified as valid")
	}
	if result.HashOK {
		t.Error("hash check passed on tampered content")
	}
}

func TestSignBytesGrowsPlaceholder(t *testing.T) {
	data, _ := testSignData(t)
	data.ReservedHexLength = 16 // far too small, must trigger the retry

	signed, err := SignBytes(context.Background(), testpdf.Minimal(), data)
	if err != nil {
		t.Fatalf("SignBytes with tiny reservation: %v", err)
	}

	result, err := verify.Bytes(signed, data.Certificate)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid {
		t.Errorf("document signed after placeholder growth does not verify: %s", result.Message)
	}
}

func TestSignBytesReservationFitsWithoutRetry(t *testing.T) {
	data, _ := testSignData(t)

	signed, err := SignBytes(context.Background(), testpdf.Minimal(), data)
	if err != nil {
		t.Fatal(err)
	}

	// The default reservation must hold a plain signature: exactly one
	// Contents placeholder means no grow-and-retry happened.
	if got := bytes.Count(signed, []byte("/Contents<")); got != 1 {
		t.Errorf("expected a single signature object, found %d", got)
	}
}

func TestSignBytesFailingTSA(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	data, _ := testSignData(t)
	data.TSA = TSA{URL: ts.URL, Timeout: 2 * time.Second}

	_, err := SignBytes(context.Background(), testpdf.Minimal(), data)
	if err == nil {
		t.Fatal("expected an error from a failing timestamp authority")
	}
}

func TestSignBytesContextCancelled(t *testing.T) {
	blocked := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-blocked
	}))
	defer ts.Close()
	defer close(blocked)

	data, _ := testSignData(t)
	data.TSA = TSA{URL: ts.URL, Timeout: 30 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := SignBytes(ctx, testpdf.Minimal(), data)
	if err == nil {
		t.Fatal("expected an error when the context expires mid-request")
	}
}

func TestSignMissingSigner(t *testing.T) {
	_, err := SignBytes(context.Background(), testpdf.Minimal(), SignData{})
	if err != ErrNoSigner {
		t.Errorf("expected ErrNoSigner, got %v", err)
	}
}

func TestDocTimeStampRequiresTSA(t *testing.T) {
	_, err := SignBytes(context.Background(), testpdf.Minimal(), SignData{DocTimeStamp: true})
	if err != ErrNoTSAForStamp {
		t.Errorf("expected ErrNoTSAForStamp, got %v", err)
	}
}

func TestSecondSignaturePreservesFirst(t *testing.T) {
	dataA, _ := testSignData(t)

	once, err := SignBytes(context.Background(), testpdf.Minimal(), dataA)
	if err != nil {
		t.Fatal(err)
	}

	dataB, _ := testSignData(t)
	twice, err := SignBytes(context.Background(), once, dataB)
	if err != nil {
		t.Fatalf("second signature: %v", err)
	}

	if !bytes.HasPrefix(twice, once) {
		t.Error("second signature modified the first revision")
	}
	if got := bytes.Count(twice, []byte("/FT /Sig")); got != 2 {
		t.Errorf("expected two signature fields, found %d", got)
	}
}
