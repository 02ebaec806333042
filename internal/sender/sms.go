package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskfleet/notifier/internal/model"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
)

type SMSConfig struct {
	// GatewayURL is a JSON POST endpoint; empty means SMS is not provisioned
	// and every send fails without attempting the network.
	GatewayURL string
	From       string
}

type SMSSender struct {
	client     *http.Client
	gatewayURL string
	from       string
}

func NewSMSSender(cfg SMSConfig) *SMSSender {
	return &SMSSender{
		client:     &http.Client{Timeout: 10 * time.Second},
		gatewayURL: cfg.GatewayURL,
		from:       cfg.From,
	}
}

func (s *SMSSender) Channel() model.Channel {
	return model.ChannelSMS
}

type smsPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *SMSSender) Send(ctx context.Context, n *model.Notification, recipient *model.User) (*Result, error) {
	if s.gatewayURL == "" {
		return nil, apperrors.Transient("sms gateway not configured", nil)
	}
	if recipient == nil {
		return nil, apperrors.Permanent("no recipient for sms", nil)
	}

	// The directory does not carry phone numbers; the gateway resolves the
	// user id to a verified number on its side.
	body, err := json.Marshal(smsPayload{
		From:    s.from,
		To:      recipient.ID.String(),
		Message: n.Message,
	})
	if err != nil {
		return nil, apperrors.Transient("failed to encode sms payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Transient("failed to build sms request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Transient("sms gateway unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{Delivered: false}, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.Permanent(fmt.Sprintf("sms gateway rejected recipient: %d", resp.StatusCode), nil)
	default:
		return nil, apperrors.Transient(fmt.Sprintf("sms gateway returned %d", resp.StatusCode), nil)
	}
}
