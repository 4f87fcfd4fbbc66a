// Package certs issues the self-signed X.509 certificate that accompanies
// the service signing key.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var ErrIssue = errors.New("certificate issuance failed")

const (
	// validityDays keeps the certificate usable for roughly ten years.
	validityDays = 3650

	// backdate tolerates clock skew between the issuing host and verifiers.
	backdate = 5 * time.Minute
)

// Identity carries the signer details placed in the certificate subject.
type Identity struct {
	CommonName   string
	Email        string
	Organization string
}

// NewSelfSigned issues a certificate for the given key where the subject and
// issuer are the same entity. The certificate is an end-entity document
// signing certificate, not a CA.
func NewSelfSigned(key *rsa.PrivateKey, id Identity) (*x509.Certificate, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no private key", ErrIssue)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssue, err)
	}

	// Subject key identifier derived from the public key, reused as the
	// authority key identifier since issuer and subject share the key.
	ski, err := subjectKeyID(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssue, err)
	}

	subject := pkix.Name{
		CommonName:   id.CommonName,
		Organization: []string{id.Organization},
		Country:      []string{"IL"},
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             now.Add(-backdate),
		NotAfter:              now.Add(validityDays * 24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		EmailAddresses:        []string{id.Email},
		DNSNames:              []string{"localhost"},
		SubjectKeyId:          ski,
		AuthorityKeyId:        ski,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssue, err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssue, err)
	}
	return cert, nil
}

func subjectKeyID(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}
