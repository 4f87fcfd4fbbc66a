// Package signer is the document signing service. It owns the key material,
// the one certificate issued for the process lifetime, the visual stamp
// engine and the timestamp authority fallback chain, and exposes the
// operations the transport layers call.
package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/docseal/docseal/certs"
	"github.com/docseal/docseal/config"
	"github.com/docseal/docseal/internal/metrics"
	"github.com/docseal/docseal/keys"
	"github.com/docseal/docseal/sign"
	"github.com/docseal/docseal/stamp"
	"github.com/docseal/docseal/verify"
)

// fallbackTSAs are tried in order after the configured authority.
var fallbackTSAs = []string{
	"http://timestamp.sectigo.com",
	"http://timestamp.globalsign.com/tsa/r6advanced1",
	"https://timestamp.digicert.com",
}

// SigningError is returned when a document could not be signed at all, even
// without a trusted timestamp.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("document signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// Metadata describes the detached signature over the raw document bytes.
type Metadata struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	Algorithm string `json:"algorithm"`
}

// Outcome reports how the timestamp chain ended for one signed document.
// Exactly one of TSAURL or Degraded is meaningful: TSAURL names the
// authority that answered, Degraded means every candidate failed and the
// signature carries no trusted timestamp.
type Outcome struct {
	TSAURL   string
	Degraded bool
}

// Options carries the signing parameters that do not change per document.
type Options struct {
	Reason      string
	Location    string
	ContactInfo string

	TSAURL      string
	TSAUsername string
	TSAPassword string
	TSATimeout  time.Duration

	// AddDocTimeStamp appends a document timestamp as a second
	// incremental update after signing.
	AddDocTimeStamp bool
}

// Service signs and verifies documents. All dependencies are fixed at
// construction, so a single instance is safe for concurrent use.
type Service struct {
	key     *rsa.PrivateKey
	cert    *x509.Certificate
	stamper *stamp.Engine
	opts    Options
	log     *zap.Logger
}

// New assembles a service from explicit dependencies. The stamper may be
// nil when no visual stamp is wanted.
func New(key *rsa.PrivateKey, cert *x509.Certificate, stamper *stamp.Engine, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{key: key, cert: cert, stamper: stamper, opts: opts, log: log}
}

// NewFromConfig loads the key, issues the certificate and wires the stamp
// engine from the service configuration.
func NewFromConfig(cfg *config.Config, log *zap.Logger) (*Service, error) {
	key, err := keys.Load(keys.Source{Path: cfg.Key.Path, PEM: cfg.Key.PEM})
	if err != nil {
		return nil, err
	}

	cert, err := certs.NewSelfSigned(key, certs.Identity{
		CommonName:   cfg.Cert.CommonName,
		Email:        cfg.Cert.Email,
		Organization: cfg.Cert.Organization,
	})
	if err != nil {
		return nil, err
	}

	var stamper *stamp.Engine
	if cfg.Stamp.ImagePath != "" {
		stamper = stamp.NewEngine(cfg.Stamp.ImagePath, stamp.Placement{
			X:      cfg.Stamp.X,
			Y:      cfg.Stamp.Y,
			Width:  cfg.Stamp.Width,
			Height: cfg.Stamp.Height,
			Page:   cfg.Stamp.Page,
		}, log)
	}

	opts := Options{
		Reason:          cfg.Sign.Reason,
		Location:        cfg.Sign.Location,
		ContactInfo:     cfg.Sign.ContactInfo,
		TSAURL:          cfg.TSA.URL,
		TSAUsername:     cfg.TSA.Username,
		TSAPassword:     cfg.TSA.Password,
		TSATimeout:      cfg.TSA.Timeout,
		AddDocTimeStamp: cfg.TSA.AddDocTimeStamp,
	}

	return New(key, cert, stamper, opts, log), nil
}

// Certificate returns the certificate documents are signed with. Verifiers
// use it as their trust anchor.
func (s *Service) Certificate() *x509.Certificate {
	return s.cert
}

// SignDocument produces a detached signature over arbitrary bytes: the
// SHA-256 digest in hex and an RSA-PSS signature in base64.
func (s *Service) SignDocument(data []byte) (Metadata, error) {
	digest := sha256.Sum256(data)

	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to sign document digest: %w", err)
	}

	return Metadata{
		Hash:      hex.EncodeToString(digest[:]),
		Signature: base64.StdEncoding.EncodeToString(signature),
		Algorithm: "RSA-SHA256",
	}, nil
}

// SignPDF stamps, signs and optionally timestamps a PDF document. The
// returned metadata covers the stamped document, so the hash matches what is
// actually delivered. The visual stamp is best effort; losing every timestamp
// authority degrades to an untimestamped signature; only failing to sign at
// all is an error.
func (s *Service) SignPDF(ctx context.Context, input []byte) ([]byte, Metadata, error) {
	start := time.Now()

	doc, stamped := s.stamper.TryApply(input)
	if s.stamper != nil && !stamped {
		metrics.RecordStampSkip()
	}

	meta, err := s.SignDocument(doc)
	if err != nil {
		metrics.RecordSignature("failed", time.Since(start))
		return nil, Metadata{}, &SigningError{Err: err}
	}

	signed, outcome, err := s.embedSignature(ctx, doc)
	if err != nil {
		metrics.RecordSignature("failed", time.Since(start))
		return nil, Metadata{}, err
	}

	if outcome.TSAURL != "" && s.opts.AddDocTimeStamp {
		signed = s.addDocTimeStamp(ctx, signed, outcome.TSAURL)
	}

	result := "timestamped"
	if outcome.Degraded || outcome.TSAURL == "" {
		result = "degraded"
	}
	metrics.RecordSignature(result, time.Since(start))

	s.log.Info("document signed",
		zap.Int("input_bytes", len(input)),
		zap.Int("output_bytes", len(signed)),
		zap.String("tsa_url", outcome.TSAURL),
		zap.Bool("degraded", outcome.Degraded))

	return signed, meta, nil
}

// Verify checks a document against the service certificate.
func (s *Service) Verify(data []byte) (*verify.Result, error) {
	result, err := verify.Bytes(data, s.cert)
	switch {
	case err != nil:
		metrics.RecordVerification("error")
	case result.Valid:
		metrics.RecordVerification("valid")
	default:
		metrics.RecordVerification("invalid")
	}
	return result, err
}

func (s *Service) signData(tsaURL string) sign.SignData {
	return sign.SignData{
		Signer:      s.key,
		Certificate: s.cert,
		Info: sign.SignatureInfo{
			Name:        s.cert.Subject.CommonName,
			Reason:      s.opts.Reason,
			Location:    s.opts.Location,
			ContactInfo: s.opts.ContactInfo,
			Date:        time.Now(),
		},
		TSA: sign.TSA{
			URL:      tsaURL,
			Username: s.opts.TSAUsername,
			Password: s.opts.TSAPassword,
			Timeout:  s.opts.TSATimeout,
		},
	}
}

func (s *Service) embedSignature(ctx context.Context, doc []byte) ([]byte, Outcome, error) {
	attempt := func(ctx context.Context, tsaURL string) ([]byte, error) {
		return sign.SignBytes(ctx, doc, s.signData(tsaURL))
	}
	return signWithFallback(ctx, candidates(s.opts.TSAURL), s.log, attempt)
}

// addDocTimeStamp appends a document timestamp from the authority that
// already answered. Failure here is logged and ignored, the content
// signature stands on its own.
func (s *Service) addDocTimeStamp(ctx context.Context, signed []byte, tsaURL string) []byte {
	stamped, err := sign.SignBytes(ctx, signed, sign.SignData{
		DocTimeStamp: true,
		TSA: sign.TSA{
			URL:      tsaURL,
			Username: s.opts.TSAUsername,
			Password: s.opts.TSAPassword,
			Timeout:  s.opts.TSATimeout,
		},
	})
	if err != nil {
		s.log.Warn("document timestamp skipped",
			zap.String("tsa_url", tsaURL),
			zap.Error(err))
		return signed
	}
	return stamped
}

// candidates builds the ordered timestamp authority list: the configured
// authority first, then the fallbacks it does not duplicate. An empty
// primary disables timestamping entirely.
func candidates(primary string) []string {
	if primary == "" {
		return nil
	}

	urls := []string{primary}
	for _, url := range fallbackTSAs {
		seen := false
		for _, existing := range urls {
			if existing == url {
				seen = true
				break
			}
		}
		if !seen {
			urls = append(urls, url)
		}
	}
	return urls
}

// signWithFallback walks the candidate authorities until one attempt
// succeeds, then falls back to signing without a timestamp. Cancellation is
// honored between attempts so one slow authority cannot be skipped mid
// request but a canceled caller stops the chain.
func signWithFallback(ctx context.Context, urls []string, log *zap.Logger, attempt func(context.Context, string) ([]byte, error)) ([]byte, Outcome, error) {
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, Outcome{}, &SigningError{Err: err}
		}

		signed, err := attempt(ctx, url)
		if err == nil {
			metrics.RecordTSAAttempt(url, "ok")
			return signed, Outcome{TSAURL: url}, nil
		}

		metrics.RecordTSAAttempt(url, "error")
		log.Warn("timestamp authority attempt failed",
			zap.String("tsa_url", url),
			zap.Error(err))
	}

	if len(urls) > 0 {
		log.Warn("all timestamp authorities failed, signing without trusted timestamp")
	}

	signed, err := attempt(ctx, "")
	if err != nil {
		return nil, Outcome{}, &SigningError{Err: err}
	}
	return signed, Outcome{Degraded: len(urls) > 0}, nil
}
