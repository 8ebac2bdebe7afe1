package notify

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Email struct {
	dialer    Dialer
	from      string
	receivers []string
}

func NewEmail(host string, port int, from, password string, receivers []string) *Email {
	return &Email{
		dialer:    gomail.NewDialer(host, port, from, password),
		from:      from,
		receivers: receivers,
	}
}

func NewEmailWithDialer(dialer Dialer, from string, receivers []string) *Email {
	return &Email{dialer: dialer, from: from, receivers: receivers}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, msg Message) error {
	if len(e.receivers) == 0 {
		return fmt.Errorf("no email receivers configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.receivers...)
	m.SetHeader("Subject", fmt.Sprintf("LinkEye %s: %s", msg.Level, msg.Title))

	body := fmt.Sprintf(`Link: %s
Origin: %s
Level: %s
Current Loss: %.2f dB
Reference: %.2f dB
Change: %+.2f dB

%s

Time: %s
`, msg.LinkName, msg.OriginSerial, msg.Level, msg.CurrentLoss, msg.Reference, msg.Delta,
		msg.Text, msg.FiredAt.Format(time.RFC3339))
	m.SetBody("text/plain", body)

	if err := e.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
