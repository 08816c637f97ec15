package syncworker

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/rakunlabs/kaizen/internal/config"
)

// emailAlerter sends a summary email once a sync run's error count crosses
// AlertThreshold. Grounded on
// rakunlabs-at/internal/service/workflow/nodes/email.go's go-mail usage,
// simplified since kaizen only ever sends one fixed-shape message.
type emailAlerter struct {
	cfg config.AlertEmail
}

func newEmailAlerter(cfg config.AlertEmail) *emailAlerter {
	return &emailAlerter{cfg: cfg}
}

func (a *emailAlerter) send(ctx context.Context, namespace string, result Result) error {
	m := mail.NewMsg()
	if err := m.From(a.cfg.From); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := m.To(a.cfg.To); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	m.Subject(fmt.Sprintf("kaizen sync: %d errors in namespace %q", len(result.Errors), namespace))
	m.SetBodyString(mail.TypeTextPlain, body(namespace, result))

	client, err := mail.NewClient(a.cfg.SMTPHost,
		mail.WithPort(a.cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(a.cfg.Username),
		mail.WithPassword(a.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	return client.DialAndSend(m)
}

func body(namespace string, result Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync run for namespace %q:\n", namespace)
	fmt.Fprintf(&b, "  processed:      %d\n", result.Processed)
	fmt.Fprintf(&b, "  skipped:        %d\n", result.Skipped)
	fmt.Fprintf(&b, "  tips generated: %d\n", result.TipsGenerated)
	fmt.Fprintf(&b, "  errors:         %d\n\n", len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "  - %s\n", e)
	}
	return b.String()
}
