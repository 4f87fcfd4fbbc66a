package certs

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"
	"time"
)

func testIdentity() Identity {
	return Identity{
		CommonName:   "Acme Signing Service",
		Email:        "signer@acme.example",
		Organization: "Acme Ltd",
	}
}

func TestNewSelfSignedShape(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := NewSelfSigned(key, testIdentity())
	if err != nil {
		t.Fatalf("NewSelfSigned: %v", err)
	}

	if cert.Subject.String() != cert.Issuer.String() {
		t.Errorf("subject %q and issuer %q differ", cert.Subject, cert.Issuer)
	}
	if got := cert.Subject.Country; len(got) != 1 || got[0] != "IL" {
		t.Errorf("country = %v, want [IL]", got)
	}
	if cert.IsCA {
		t.Error("certificate must not be a CA")
	}
	if cert.KeyUsage != x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment {
		t.Errorf("unexpected key usage %v", cert.KeyUsage)
	}
	if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageEmailProtection {
		t.Errorf("unexpected extended key usage %v", cert.ExtKeyUsage)
	}
	if len(cert.EmailAddresses) != 1 || cert.EmailAddresses[0] != "signer@acme.example" {
		t.Errorf("unexpected email SAN %v", cert.EmailAddresses)
	}
	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "localhost" {
		t.Errorf("unexpected DNS SAN %v", cert.DNSNames)
	}
	if !bytes.Equal(cert.SubjectKeyId, cert.AuthorityKeyId) {
		t.Error("subject and authority key identifiers must match")
	}
	if len(cert.SubjectKeyId) == 0 {
		t.Error("subject key identifier is empty")
	}
}

func TestNewSelfSignedValidity(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now()
	cert, err := NewSelfSigned(key, testIdentity())
	if err != nil {
		t.Fatalf("NewSelfSigned: %v", err)
	}

	if !cert.NotBefore.Before(before) {
		t.Errorf("NotBefore %v is not backdated", cert.NotBefore)
	}
	if cert.NotBefore.Before(before.Add(-6 * time.Minute)) {
		t.Errorf("NotBefore %v is backdated too far", cert.NotBefore)
	}

	lifetime := cert.NotAfter.Sub(cert.NotBefore)
	want := 3650*24*time.Hour + backdate
	if lifetime < want-time.Minute || lifetime > want+time.Minute {
		t.Errorf("lifetime = %v, want about %v", lifetime, want)
	}
}

func TestNewSelfSignedVerifiesAgainstItself(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	cert, err := NewSelfSigned(key, testIdentity())
	if err != nil {
		t.Fatalf("NewSelfSigned: %v", err)
	}

	// CheckSignatureFrom rejects non-CA issuers, so check the signature
	// against the certificate's own public key directly.
	err = cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature)
	if err != nil {
		t.Errorf("certificate does not verify against its own key: %v", err)
	}
}

func TestNewSelfSignedRandomSerial(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	a, err := NewSelfSigned(key, testIdentity())
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSelfSigned(key, testIdentity())
	if err != nil {
		t.Fatal(err)
	}
	if a.SerialNumber.Cmp(b.SerialNumber) == 0 {
		t.Error("two issued certificates share a serial number")
	}
}

func TestNewSelfSignedNilKey(t *testing.T) {
	if _, err := NewSelfSigned(nil, testIdentity()); err == nil {
		t.Error("expected an error for a nil key")
	}
}
