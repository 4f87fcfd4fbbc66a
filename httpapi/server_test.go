package httpapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"encoding/pem"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docseal/docseal/certs"
	"github.com/docseal/docseal/internal/testpdf"
	"github.com/docseal/docseal/signer"
	"github.com/docseal/docseal/storage"
	"github.com/docseal/docseal/verify"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert, err := certs.NewSelfSigned(key, certs.Identity{
		CommonName: "API Test",
		Email:      "api@test.example",
	})
	require.NoError(t, err)

	svc := signer.New(key, cert, nil, signer.Options{Reason: "API test"}, zap.NewNop())

	store, err := storage.New(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	srv := New(svc, store, nil, nil, nil, zap.NewNop())
	ts := httptest.NewServer(srv.Router(nil))
	t.Cleanup(ts.Close)
	return srv, ts
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignDocumentEndToEnd(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "report.pdf", testpdf.Minimal(), nil)
	resp, err := http.Post(ts.URL+"/api/v1/documents/sign", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var signResp signResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&signResp))
	assert.NotEmpty(t, signResp.DocumentID)
	assert.Equal(t, "report-signed.pdf", signResp.Filename)
	assert.NotEmpty(t, signResp.DownloadToken)
	assert.Equal(t, "RSA-SHA256", signResp.Metadata.Algorithm)
	assert.Empty(t, signResp.Delivered)

	// The issued token must download the stored signed document.
	dl, err := http.Get(ts.URL + "/api/v1/documents/" + signResp.DownloadToken)
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "application/pdf", dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "report-signed.pdf",
		"download must carry the original filename, not the storage id")

	signed, err := io.ReadAll(dl.Body)
	require.NoError(t, err)

	// And the signed document must verify through the API too.
	vbody, vtype := multipartUpload(t, "report-signed.pdf", signed, nil)
	vresp, err := http.Post(ts.URL+"/api/v1/documents/verify", vtype, vbody)
	require.NoError(t, err)
	defer vresp.Body.Close()
	require.Equal(t, http.StatusOK, vresp.StatusCode)

	var result verify.Result
	require.NoError(t, json.NewDecoder(vresp.Body).Decode(&result))
	assert.True(t, result.Valid, result.Message)
	assert.Equal(t, "API test", result.Reason)
}

func TestSignDocumentRaw(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "report.pdf", testpdf.Minimal(), nil)
	resp, err := http.Post(ts.URL+"/api/v1/documents/sign?raw=true", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "report-signed.pdf")

	signed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(signed, []byte("%PDF-")))
}

func TestSignRejectsBrokenPDF(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "junk.pdf", []byte("not a pdf"), nil)
	resp, err := http.Post(ts.URL+"/api/v1/documents/sign", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSignRejectsMissingFile(t *testing.T) {
	_, ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("unrelated", "value"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/v1/documents/sign", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVerifyUnsignedDocument(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "plain.pdf", testpdf.Minimal(), nil)
	resp, err := http.Post(ts.URL+"/api/v1/documents/verify", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result verify.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.Valid)
	assert.Equal(t, "no digital signature in document", result.Message)
}

func TestVerifyUnreadableDocument(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "junk.pdf", []byte("garbage"), nil)
	resp, err := http.Post(ts.URL+"/api/v1/documents/verify", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadUnknownToken(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/documents/no-such-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignaturesEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/signatures", "application/octet-stream",
		bytes.NewReader([]byte("arbitrary payload")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta signer.Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Len(t, meta.Hash, 64, "hash must be hex encoded SHA-256")
	assert.Equal(t, "RSA-SHA256", meta.Algorithm)
	assert.NotEmpty(t, meta.Signature)
}

func TestSignaturesRejectsEmptyBody(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/signatures", "application/octet-stream", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCertificateEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/certificate")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-pem-file", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)
	assert.Equal(t, srv.signer.Certificate().Raw, block.Bytes)
}

func TestSignedFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report-signed.pdf"},
		{"report", "report-signed.pdf"},
		{"", "document-signed.pdf"},
		{".pdf", ".pdf-signed.pdf"},
		{"a.pdf.pdf", "a.pdf-signed.pdf"},
	}
	for _, c := range cases {
		if got := signedFilename(c.in); got != c.want {
			t.Errorf("signedFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
