package sign

import (
	"context"
	"crypto"
	"crypto/x509"
	"time"

	"github.com/digitorus/pdf"

	"github.com/docseal/docseal/internal/pdfinc"
)

// Reserved placeholder sizes for the hex-encoded signature contents. The
// reservation with a timestamp token is twice the plain one, since the TSA
// response is embedded inside the CMS structure.
const (
	DefaultReservedHexLength uint32 = 8192
	TSAReservedHexLength     uint32 = 16384
)

// SignatureInfo holds the human-readable fields written into the signature
// dictionary.
type SignatureInfo struct {
	Name        string
	Location    string
	Reason      string
	ContactInfo string
	Date        time.Time
}

// TSA points at an RFC 3161 timestamp authority. An empty URL disables
// timestamping.
type TSA struct {
	URL      string
	Username string
	Password string

	// Timeout bounds a single timestamp request. Zero means the default.
	Timeout time.Duration
}

// SignData describes one signing pass over a document.
type SignData struct {
	Signer            crypto.Signer
	Certificate       *x509.Certificate
	CertificateChains [][]*x509.Certificate
	DigestAlgorithm   crypto.Hash
	Info              SignatureInfo
	TSA               TSA

	// ReservedHexLength overrides the placeholder size in hex characters.
	// Zero selects the default for the signature kind.
	ReservedHexLength uint32

	// DocTimeStamp embeds a document timestamp instead of a content
	// signature. Only the TSA configuration is used in that mode.
	DocTimeStamp bool
}

// SignContext carries the state of one incremental signing pass.
type SignContext struct {
	InputBufferSize int64
	PDFReader       *pdf.Reader
	SignData        SignData

	updater *pdfinc.Updater
	ctx     context.Context

	// Placeholder size in hex characters for this attempt.
	maxHexLength uint32

	// Absolute offsets of the ByteRange placeholder and the opening '<'
	// of the Contents hex string.
	byteRangeOffset int64
	contentsOffset  int64

	byteRangeValues [4]int64
}
