// Package notify dispatches the end-of-run summary email with the resolved
// report link and the report artifacts attached.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"github.com/devsecflow/secpipe/pkg/log"
	"github.com/devsecflow/secpipe/pkg/models"
)

// Config carries the SMTP endpoint and addressing. Passed in explicitly at
// construction.
type Config struct {
	Host     string   `yaml:"host"     validate:"required"`
	Port     int      `yaml:"port"     validate:"gt=0,lte=65535"`
	Username string   `yaml:"username" validate:"required"`
	Password string   `yaml:"password" validate:"required"`
	From     string   `yaml:"from"     validate:"required,email"`
	To       []string `yaml:"to"       validate:"min=1,dive,email"`
}

type Mailer struct {
	cfg    Config
	logger *slog.Logger
}

func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: log.WithModule(logger, "notify"),
	}
}

// Send dispatches exactly one message. Attachment references that do not
// exist on disk are skipped rather than failing the send.
func (m *Mailer) Send(ctx context.Context, subject, htmlBody string, attachments []models.ArtifactRef) error {
	msg := mail.NewMsg()

	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}

	if err := msg.To(m.cfg.To...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	attached := 0

	for _, ref := range attachments {
		if !ref.Exists {
			m.logger.WarnContext(ctx, "Skipping absent attachment", "artifact", ref.Name)

			continue
		}

		msg.AttachFile(ref.Path, mail.WithFileName(ref.Name))
		attached++
	}

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("failed to build SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	m.logger.InfoContext(ctx, "Notification sent",
		"recipients", len(m.cfg.To), "attachments", attached)

	return nil
}
