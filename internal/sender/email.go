package sender

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/taskfleet/notifier/internal/model"
	"github.com/taskfleet/notifier/pkg/circuitbreaker"
	apperrors "github.com/taskfleet/notifier/pkg/errors"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// SendRate caps outgoing messages per second; SMTP relays throttle hard.
	SendRate float64
}

type EmailSender struct {
	dialer  *gomail.Dialer
	from    string
	limiter *rate.Limiter
	cb      *circuitbreaker.CircuitBreaker
}

func NewEmailSender(cfg EmailConfig) *EmailSender {
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = 10
	}
	return &EmailSender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Limit(sendRate), int(sendRate)+1),
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
	}
}

func (s *EmailSender) Channel() model.Channel {
	return model.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, n *model.Notification, recipient *model.User) (*Result, error) {
	if recipient == nil || recipient.Email == "" {
		return nil, apperrors.Permanent("recipient has no email address", nil)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Transient("rate limit wait aborted", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", recipient.Email)
	m.SetHeader("Subject", n.Title)
	m.SetBody("text/plain", n.Message)
	if n.HTMLContent != nil {
		m.AddAlternative("text/html", *n.HTMLContent)
	}

	err := s.cb.Execute(func() error {
		return s.dialer.DialAndSend(m)
	})
	if err != nil {
		return nil, apperrors.Transient(fmt.Sprintf("smtp send to %s failed", recipient.Email), err)
	}

	// SMTP acceptance is not end-user delivery.
	return &Result{Delivered: false}, nil
}
