package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustECPKCS8(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func testKeyPEM(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block)), key
}

func TestLoadFromPath(t *testing.T) {
	pemString, want := testKeyPEM(t)

	path := filepath.Join(t.TempDir(), "signer.pem")
	if err := os.WriteFile(path, []byte(pemString), 0o600); err != nil {
		t.Fatal(err)
	}

	key, err := Load(Source{Path: path})
	if err != nil {
		t.Fatalf("Load from path: %v", err)
	}
	if key.N.Cmp(want.N) != 0 {
		t.Error("loaded key does not match the written key")
	}
}

func TestLoadFromInlinePEM(t *testing.T) {
	pemString, want := testKeyPEM(t)

	key, err := Load(Source{PEM: pemString})
	if err != nil {
		t.Fatalf("Load from inline PEM: %v", err)
	}
	if key.N.Cmp(want.N) != 0 {
		t.Error("loaded key does not match the source key")
	}
}

func TestLoadNormalizesEscapedNewlines(t *testing.T) {
	pemString, want := testKeyPEM(t)

	escaped := strings.ReplaceAll(pemString, "\n", `\n`)
	key, err := Load(Source{PEM: escaped})
	if err != nil {
		t.Fatalf("Load with escaped newlines: %v", err)
	}
	if key.N.Cmp(want.N) != 0 {
		t.Error("loaded key does not match the source key")
	}
}

func TestLoadPathWinsOverPEM(t *testing.T) {
	pathPEM, want := testKeyPEM(t)
	inlinePEM, _ := testKeyPEM(t)

	path := filepath.Join(t.TempDir(), "signer.pem")
	if err := os.WriteFile(path, []byte(pathPEM), 0o600); err != nil {
		t.Fatal(err)
	}

	key, err := Load(Source{Path: path, PEM: inlinePEM})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if key.N.Cmp(want.N) != 0 {
		t.Error("expected the file key to win over the inline key")
	}
}

func TestLoadNoSource(t *testing.T) {
	_, err := Load(Source{})
	if !errors.Is(err, ErrNoKeySource) {
		t.Errorf("expected ErrNoKeySource, got %v", err)
	}
	if !errors.Is(err, ErrKeyLoad) {
		t.Errorf("expected error to wrap ErrKeyLoad, got %v", err)
	}
}

func TestLoadMissingMarkers(t *testing.T) {
	_, err := Load(Source{PEM: "not a pem key at all"})
	if !errors.Is(err, ErrMissingMarkers) {
		t.Errorf("expected ErrMissingMarkers, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Source{Path: filepath.Join(t.TempDir(), "absent.pem")})
	if !errors.Is(err, ErrKeyLoad) {
		t.Errorf("expected ErrKeyLoad, got %v", err)
	}
}

func TestParsePKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := Parse(pemBytes)
	if err != nil {
		t.Fatalf("Parse PKCS#8: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("parsed key does not match")
	}
}

func TestParseNonRSA(t *testing.T) {
	// An EC key in PKCS#8 form must be rejected.
	der := mustECPKCS8(t)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	_, err := Parse(pemBytes)
	if !errors.Is(err, ErrNotRSA) {
		t.Errorf("expected ErrNotRSA, got %v", err)
	}
}
