// Package verify checks embedded PDF signatures against a configured trust
// anchor and reports the outcome as independent booleans rather than a
// single pass or fail.
package verify

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// Result reports the outcome of verifying a document. The three check
// booleans are computed independently so a caller can tell content
// tampering apart from an untrusted certificate.
type Result struct {
	Valid       bool   `json:"valid"`
	HashOK      bool   `json:"hash_ok"`
	SignatureOK bool   `json:"signature_ok"`
	CertOK      bool   `json:"cert_ok"`
	Message     string `json:"message"`

	SignerName  string `json:"signer_name,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Location    string `json:"location,omitempty"`
	ContactInfo string `json:"contact_info,omitempty"`

	SignatureCount int        `json:"signature_count"`
	TimestampedAt  *time.Time `json:"timestamped_at,omitempty"`
}

var messageDigestOID = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}

// digestByLength maps a digest size in bytes to its hash function, used to
// recompute the message digest attribute value.
var digestByLength = map[int]crypto.Hash{
	20: crypto.SHA1,
	32: crypto.SHA256,
	48: crypto.SHA384,
	64: crypto.SHA512,
}

// Bytes verifies every signature embedded in the document. The anchor is
// the certificate signatures must chain to; pass the service certificate to
// verify documents signed by this service. A tampered or unsigned document
// yields an invalid Result, not an error. Errors are reserved for input
// that cannot be read as a PDF at all.
func Bytes(data []byte, anchor *x509.Certificate) (*Result, error) {
	return Reader(bytes.NewReader(data), int64(len(data)), anchor)
}

// Reader is like Bytes for a random access reader of known size.
func Reader(file io.ReaderAt, size int64, anchor *x509.Certificate) (result *Result, err error) {
	// The pdf package panics on malformed input.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("failed to verify document: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(file, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}

	result = &Result{HashOK: true, SignatureOK: true, CertOK: true}
	var problems []string

	// AcroForm carries a SigFlags value when the document holds a digital
	// signature.
	sigFlags := rdr.Trailer().Key("Root").Key("AcroForm").Key("SigFlags")
	if sigFlags.IsNull() {
		return unsigned(), nil
	}

	// Walk the cross references to find every signature dictionary.
	for _, x := range rdr.Xref() {
		v, err := rdr.GetObject(x.Ptr().GetID())
		if err != nil {
			continue
		}

		if v.Key("Filter").Name() != "Adobe.PPKLite" {
			continue
		}

		content, err := byteRangeContent(file, v)
		if err != nil {
			markBroken(result, &problems, fmt.Sprintf("unreadable byte range: %v", err))
			continue
		}

		raw := []byte(v.Key("Contents").RawString())

		if v.Key("SubFilter").Name() == "ETSI.RFC3161" {
			checkDocTimeStamp(result, &problems, raw, content)
			continue
		}

		result.SignatureCount++
		result.SignerName = v.Key("Name").Text()
		result.Reason = v.Key("Reason").Text()
		result.Location = v.Key("Location").Text()
		result.ContactInfo = v.Key("ContactInfo").Text()

		p7, err := pkcs7.Parse(raw)
		if err != nil {
			markBroken(result, &problems, fmt.Sprintf("unparseable signature: %v", err))
			continue
		}

		if !checkMessageDigest(p7, content) {
			result.HashOK = false
			problems = append(problems, "document content does not match the signed digest")
		}

		p7.Content = content
		if err := p7.Verify(); err != nil {
			result.SignatureOK = false
			problems = append(problems, fmt.Sprintf("signature verification failed: %v", err))
		}

		if !checkAnchor(p7, anchor) {
			result.CertOK = false
			problems = append(problems, "signing certificate is not the trusted certificate")
		}

		checkEmbeddedTimestamp(result, p7)
	}

	if result.SignatureCount == 0 {
		return unsigned(), nil
	}

	result.Valid = result.HashOK && result.SignatureOK && result.CertOK
	if result.Valid {
		result.Message = "signature valid"
	} else {
		result.Message = strings.Join(problems, "; ")
	}
	return result, nil
}

func unsigned() *Result {
	return &Result{Message: "no digital signature in document"}
}

func markBroken(result *Result, problems *[]string, message string) {
	result.SignatureCount++
	result.HashOK = false
	result.SignatureOK = false
	result.CertOK = false
	*problems = append(*problems, message)
}

// byteRangeContent reads the byte ranges covered by the signature. The
// ranges come in offset and length pairs and exclude the signature value
// itself.
func byteRangeContent(file io.ReaderAt, v pdf.Value) ([]byte, error) {
	byteRange := v.Key("ByteRange")
	if byteRange.Len() < 2 || byteRange.Len()%2 != 0 {
		return nil, fmt.Errorf("malformed ByteRange of length %d", byteRange.Len())
	}

	var content []byte
	for i := 0; i < byteRange.Len(); i += 2 {
		offset := byteRange.Index(i).Int64()
		length := byteRange.Index(i + 1).Int64()

		part, err := io.ReadAll(io.NewSectionReader(file, offset, length))
		if err != nil {
			return nil, err
		}
		content = append(content, part...)
	}
	return content, nil
}

// checkMessageDigest recomputes the digest over the byte range content and
// compares it with the messageDigest signed attribute. The hash function is
// inferred from the attribute length.
func checkMessageDigest(p7 *pkcs7.PKCS7, content []byte) bool {
	var signedDigest []byte
	if err := p7.UnmarshalSignedAttribute(messageDigestOID, &signedDigest); err != nil {
		return false
	}

	hash, ok := digestByLength[len(signedDigest)]
	if !ok || !hash.Available() {
		return false
	}

	h := hash.New()
	h.Write(content)
	return bytes.Equal(h.Sum(nil), signedDigest)
}

// checkAnchor reports whether the signing certificate is the anchor itself
// or was issued by the anchor's key. The anchor is an end-entity
// certificate, so the standard chain builder cannot be used here.
func checkAnchor(p7 *pkcs7.PKCS7, anchor *x509.Certificate) bool {
	signer := signerCertificate(p7)
	if signer == nil {
		return false
	}

	now := time.Now()
	if now.Before(signer.NotBefore) || now.After(signer.NotAfter) {
		return false
	}

	if anchor == nil {
		// Without an anchor, accept any certificate that is properly
		// self-signed.
		return signer.CheckSignature(signer.SignatureAlgorithm, signer.RawTBSCertificate, signer.Signature) == nil
	}

	if bytes.Equal(signer.Raw, anchor.Raw) {
		return true
	}
	return anchor.CheckSignature(signer.SignatureAlgorithm, signer.RawTBSCertificate, signer.Signature) == nil
}

// signerCertificate matches the embedded certificates against the signer
// info by issuer and serial number.
func signerCertificate(p7 *pkcs7.PKCS7) *x509.Certificate {
	for _, signer := range p7.Signers {
		issuer := signer.IssuerAndSerialNumber.IssuerName.FullBytes
		serial := signer.IssuerAndSerialNumber.SerialNumber
		for _, cert := range p7.Certificates {
			if bytes.Equal(issuer, cert.RawIssuer) && serial != nil && serial.Cmp(cert.SerialNumber) == 0 {
				return cert
			}
		}
	}

	if len(p7.Certificates) > 0 {
		return p7.Certificates[0]
	}
	return nil
}

// checkEmbeddedTimestamp extracts the RFC 3161 token attached to the
// signature, when present.
func checkEmbeddedTimestamp(result *Result, p7 *pkcs7.PKCS7) {
	for _, signer := range p7.Signers {
		for _, attr := range signer.UnauthenticatedAttributes {
			if !attr.Type.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}) {
				continue
			}
			ts, err := timestamp.Parse(attr.Value.Bytes)
			if err == nil {
				result.TimestampedAt = &ts.Time
			}
			return
		}
	}
}

// checkDocTimeStamp validates a document timestamp entry by comparing the
// token's message imprint with a fresh digest of the byte range.
func checkDocTimeStamp(result *Result, problems *[]string, raw, content []byte) {
	ts, err := timestamp.Parse(raw)
	if err != nil {
		result.HashOK = false
		*problems = append(*problems, fmt.Sprintf("unparseable document timestamp: %v", err))
		return
	}

	h := ts.HashAlgorithm.New()
	h.Write(content)
	if !bytes.Equal(h.Sum(nil), ts.HashedMessage) {
		result.HashOK = false
		*problems = append(*problems, "document modified after it was timestamped")
		return
	}

	result.TimestampedAt = &ts.Time
}
