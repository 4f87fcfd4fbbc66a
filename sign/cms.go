package sign

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// createSignature produces the detached CMS signature over the byte range
// content, with a timestamp token attached when a TSA is configured.
func (c *SignContext) createSignature(content []byte) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("new signed data: %w", err)
	}

	signedData.SetDigestAlgorithm(getOIDFromHashAlgorithm(c.SignData.DigestAlgorithm))

	signingCertificate, err := c.createSigningCertificateAttribute()
	if err != nil {
		return nil, fmt.Errorf("signing certificate attribute: %w", err)
	}

	signerConfig := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{*signingCertificate},
	}

	// The first certificate chain without our own certificate.
	var certificateChain []*x509.Certificate
	if len(c.SignData.CertificateChains) > 0 && len(c.SignData.CertificateChains[0]) > 1 {
		certificateChain = c.SignData.CertificateChains[0][1:]
	}

	if err := signedData.AddSignerChain(c.SignData.Certificate, c.SignData.Signer, certificateChain, signerConfig); err != nil {
		return nil, fmt.Errorf("add signer chain: %w", err)
	}

	// PDF needs a detached signature, meaning the content isn't included.
	signedData.Detach()

	if c.SignData.TSA.URL != "" {
		signatureData := signedData.GetSignedData()

		token, err := c.requestTimestampToken(signatureData.SignerInfos[0].EncryptedDigest)
		if err != nil {
			return nil, fmt.Errorf("get timestamp: %w", err)
		}

		timestampAttribute := pkcs7.Attribute{
			Type:  asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14},
			Value: asn1.RawValue{FullBytes: token},
		}
		if err := signatureData.SignerInfos[0].SetUnauthenticatedAttributes([]pkcs7.Attribute{timestampAttribute}); err != nil {
			return nil, err
		}
	}

	return signedData.Finish()
}

// createSigningCertificateAttribute builds the ESS signing-certificate
// attribute binding the signature to our certificate.
func (c *SignContext) createSigningCertificateAttribute() (*pkcs7.Attribute, error) {
	hash := c.SignData.DigestAlgorithm.New()
	hash.Write(c.SignData.Certificate.Raw)

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificate
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // []ESSCertID, []ESSCertIDv2
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertID, ESSCertIDv2
				if c.SignData.DigestAlgorithm.HashFunc() != crypto.SHA1 &&
					c.SignData.DigestAlgorithm.HashFunc() != crypto.SHA256 { // default SHA-256
					b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // AlgorithmIdentifier
						b.AddASN1ObjectIdentifier(getOIDFromHashAlgorithm(c.SignData.DigestAlgorithm))
					})
				}
				b.AddASN1OctetString(hash.Sum(nil)) // certHash
			})
		})
	})

	sse, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	signingCertificate := pkcs7.Attribute{
		Type:  asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}, // SigningCertificateV2
		Value: asn1.RawValue{FullBytes: sse},
	}
	if c.SignData.DigestAlgorithm.HashFunc() == crypto.SHA1 {
		signingCertificate.Type = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12} // SigningCertificate
	}
	return &signingCertificate, nil
}
