// Package delivery sends signed documents to recipients over email or an
// SMS gateway.
package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/docseal/docseal/internal/metrics"
)

// Attachment is the signed document to deliver.
type Attachment struct {
	Filename string
	Data     []byte
}

// Deliverer sends one message with an attached document to a recipient. The
// recipient format depends on the channel: an address for email, a phone
// number for SMS.
type Deliverer interface {
	Channel() string
	Deliver(ctx context.Context, recipient, message string, att Attachment) error
}

// Dispatch runs the delivery and records the outcome. It exists so every
// transport reports metrics and logs the same way.
func Dispatch(ctx context.Context, d Deliverer, recipient, message string, att Attachment, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	err := d.Deliver(ctx, recipient, message, att)
	if err != nil {
		metrics.RecordDelivery(d.Channel(), "error")
		log.Warn("delivery failed",
			zap.String("channel", d.Channel()),
			zap.String("recipient", recipient),
			zap.Error(err))
		return err
	}

	metrics.RecordDelivery(d.Channel(), "ok")
	log.Info("document delivered",
		zap.String("channel", d.Channel()),
		zap.String("recipient", recipient),
		zap.String("filename", att.Filename))
	return nil
}
