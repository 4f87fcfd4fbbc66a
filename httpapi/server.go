// Package httpapi exposes signing, verification, download and delivery over
// HTTP.
package httpapi

import (
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/docseal/docseal/audit"
	"github.com/docseal/docseal/delivery"
	"github.com/docseal/docseal/signer"
	"github.com/docseal/docseal/storage"
)

// maxUploadSize bounds the documents accepted for signing.
const maxUploadSize = 64 << 20

// Server wires the service layers into HTTP handlers.
type Server struct {
	signer *signer.Service
	store  *storage.Store
	email  delivery.Deliverer
	sms    delivery.Deliverer
	trail  *audit.Trail
	log    *zap.Logger
}

// New builds the server. Email and sms deliverers may be nil when the
// channel is not configured.
func New(svc *signer.Service, store *storage.Store, email, sms delivery.Deliverer, trail *audit.Trail, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if trail == nil {
		trail = audit.New(log)
	}
	return &Server{signer: svc, store: store, email: email, sms: sms, trail: trail, log: log}
}

// Router assembles all routes. The metrics handler is mounted as-is so the
// caller controls the registry.
func (s *Server) Router(metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents/sign", s.handleSignPDF)
		r.Post("/documents/verify", s.handleVerifyPDF)
		r.Get("/documents/{token}", s.handleDownload)
		r.Post("/signatures", s.handleSignDocument)
		r.Get("/certificate", s.handleCertificate)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signResponse struct {
	DocumentID    string          `json:"document_id"`
	Filename      string          `json:"filename"`
	DownloadToken string          `json:"download_token"`
	Metadata      signer.Metadata `json:"metadata"`
	Delivered     []string        `json:"delivered,omitempty"`
}

// handleSignPDF signs an uploaded PDF, stores the result and optionally
// delivers it. With raw=true the signed document itself is returned instead
// of the JSON envelope.
func (s *Server) handleSignPDF(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	signed, meta, err := s.signer.SignPDF(r.Context(), data)
	if err != nil {
		var sigErr *signer.SigningError
		if errors.As(err, &sigErr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to sign document")
		return
	}

	signedName := signedFilename(filename)

	if r.URL.Query().Get("raw") == "true" {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", signedName))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(signed)
		return
	}

	doc, err := s.store.Save(signedName, signed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store signed document")
		return
	}
	token := s.store.IssueToken(doc)

	s.trail.DocumentSigned(doc.ID, signedName, len(signed))

	resp := signResponse{
		DocumentID:    doc.ID,
		Filename:      signedName,
		DownloadToken: token,
		Metadata:      meta,
	}

	attachment := delivery.Attachment{Filename: signedName, Data: signed}
	if to := r.FormValue("deliver_to_email"); to != "" && s.email != nil {
		msg := r.FormValue("message")
		if msg == "" {
			msg = "Your document has been signed. A copy is attached."
		}
		if err := delivery.Dispatch(r.Context(), s.email, to, msg, attachment, s.log); err == nil {
			s.trail.DocumentDelivered(s.email.Channel(), to, doc.ID)
			resp.Delivered = append(resp.Delivered, s.email.Channel())
		}
	}
	if to := r.FormValue("deliver_to_phone"); to != "" && s.sms != nil {
		msg := fmt.Sprintf("Your signed document is ready. Download token: %s", token)
		if err := delivery.Dispatch(r.Context(), s.sms, to, msg, delivery.Attachment{}, s.log); err == nil {
			s.trail.DocumentDelivered(s.sms.Channel(), to, doc.ID)
			resp.Delivered = append(resp.Delivered, s.sms.Channel())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyPDF(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	result, err := s.signer.Verify(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("not a readable PDF document: %v", err))
		return
	}

	s.trail.DocumentVerified(filename, result.Valid, result.Message)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	data, doc, err := s.store.Resolve(token)
	if err != nil {
		writeError(w, http.StatusNotFound, "download link is invalid or expired")
		return
	}

	s.trail.DocumentDownloaded(doc.ID)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleSignDocument signs the raw request body and returns the detached
// signature metadata.
func (s *Server) handleSignDocument(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty request body")
		return
	}

	meta, err := s.signer.SignDocument(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign data")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleCertificate serves the signing certificate in PEM so clients can
// verify documents offline.
func (s *Server) handleCertificate(w http.ResponseWriter, _ *http.Request) {
	cert := s.signer.Certificate()

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_ = pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form upload")
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return nil, "", false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return nil, "", false
	}

	return data, header.Filename, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func signedFilename(original string) string {
	const suffix = ".pdf"
	base := original
	if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
		base = base[:len(base)-len(suffix)]
	}
	if base == "" {
		base = "document"
	}
	return base + "-signed.pdf"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
