// Package keys loads the RSA private key used for document signing.
//
// The key comes from one of two sources: a PEM file on disk or a PEM string
// delivered through the environment. Environment values often arrive with
// literal backslash-n sequences instead of real newlines, so those are
// normalized before parsing.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrKeyLoad is the parent of every key loading failure.
	ErrKeyLoad = errors.New("private key load failed")

	ErrNoKeySource    = fmt.Errorf("%w: no key path or inline PEM configured", ErrKeyLoad)
	ErrMissingMarkers = fmt.Errorf("%w: PEM markers not found", ErrKeyLoad)
	ErrNotRSA         = fmt.Errorf("%w: key is not an RSA private key", ErrKeyLoad)
)

// Source describes where the private key comes from. When both fields are
// set, Path wins.
type Source struct {
	Path string
	PEM  string
}

// Load reads and parses the RSA private key from the configured source.
func Load(src Source) (*rsa.PrivateKey, error) {
	pemBytes, err := readPEM(src)
	if err != nil {
		return nil, err
	}
	return Parse(pemBytes)
}

func readPEM(src Source) ([]byte, error) {
	if src.Path != "" {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
		}
		return data, nil
	}

	if src.PEM != "" {
		return []byte(normalizePEM(src.PEM)), nil
	}

	return nil, ErrNoKeySource
}

// normalizePEM turns literal \n sequences into real newlines. Values that
// already contain real newlines are left alone, since a literal backslash-n
// inside such a value would be part of the key material itself.
func normalizePEM(s string) string {
	if strings.Contains(s, "\n") {
		return s
	}
	return strings.ReplaceAll(s, `\n`, "\n")
}

// Parse decodes a PEM-encoded RSA private key in either PKCS#1 or PKCS#8
// form.
func Parse(pemBytes []byte) (*rsa.PrivateKey, error) {
	s := string(pemBytes)
	if !strings.Contains(s, "-----BEGIN ") || !strings.Contains(s, "-----END ") {
		return nil, ErrMissingMarkers
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyLoad)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrNotRSA
	}
	return key, nil
}
