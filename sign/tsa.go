package sign

import (
	"bytes"
	"crypto"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

const defaultTSATimeout = 15 * time.Second

// requestTimestampToken sends an RFC 3161 request for the given message to
// the configured timestamp authority and returns the raw timestamp token.
// The message is hashed locally, only the digest leaves the process.
func (c *SignContext) requestTimestampToken(message []byte) ([]byte, error) {
	tsRequest, err := timestamp.CreateRequest(bytes.NewReader(message), &timestamp.RequestOptions{
		Certificates: true,
		Hash:         crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create timestamp request: %w", err)
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.SignData.TSA.URL, bytes.NewReader(tsRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare timestamp request (%s): %w", c.SignData.TSA.URL, err)
	}

	req.Header.Add("Content-Type", "application/timestamp-query")
	req.Header.Add("Content-Transfer-Encoding", "binary")

	if c.SignData.TSA.Username != "" && c.SignData.TSA.Password != "" {
		req.SetBasicAuth(c.SignData.TSA.Username, c.SignData.TSA.Password)
	}

	timeout := c.SignData.TSA.Timeout
	if timeout <= 0 {
		timeout = defaultTSATimeout
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timestamp request failed (%s): %w", c.SignData.TSA.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamp response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("timestamp authority returned status %s: %s",
			strconv.Itoa(resp.StatusCode), string(body))
	}

	ts, err := timestamp.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp response: %w", err)
	}

	// The token must itself be a valid CMS structure before embedding it.
	if _, err := pkcs7.Parse(ts.RawToken); err != nil {
		return nil, fmt.Errorf("failed to parse timestamp token: %w", err)
	}

	return ts.RawToken, nil
}
