// Package audit writes the structured audit trail for signing, verification
// and delivery events.
package audit

import (
	"go.uber.org/zap"
)

// Trail records security-relevant events. Entries go through the service
// logger under a fixed "audit" name so they can be routed separately.
type Trail struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Trail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Trail{log: log.Named("audit")}
}

func (t *Trail) DocumentSigned(documentID, filename string, size int) {
	t.log.Info("document signed",
		zap.String("document_id", documentID),
		zap.String("filename", filename),
		zap.Int("size", size))
}

func (t *Trail) DocumentVerified(filename string, valid bool, message string) {
	t.log.Info("document verified",
		zap.String("filename", filename),
		zap.Bool("valid", valid),
		zap.String("message", message))
}

func (t *Trail) DocumentDelivered(channel, recipient, documentID string) {
	t.log.Info("document delivered",
		zap.String("channel", channel),
		zap.String("recipient", recipient),
		zap.String("document_id", documentID))
}

func (t *Trail) DocumentDownloaded(documentID string) {
	t.log.Info("document downloaded",
		zap.String("document_id", documentID))
}
