package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SMSDeliverer notifies a recipient through an HTTP SMS gateway. The
// document itself is too large for SMS, so the message should carry a
// download link issued by the storage layer.
type SMSDeliverer struct {
	gatewayURL string
	client     *http.Client
}

func NewSMS(gatewayURL string) *SMSDeliverer {
	return &SMSDeliverer{
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SMSDeliverer) Channel() string { return "sms" }

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *SMSDeliverer) Deliver(ctx context.Context, recipient, message string, _ Attachment) error {
	if s.gatewayURL == "" {
		return errors.New("sms gateway not configured")
	}

	body, err := json.Marshal(smsPayload{To: recipient, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
