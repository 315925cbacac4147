package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/notification.html"))

// ErrInvalidConfig reports a missing or malformed e-mail setting
var ErrInvalidConfig = errors.New("invalid email configuration")

// EmailConfig holds Postmark credentials and sender identity
type EmailConfig struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	SupportEmail string
	// BaseURL overrides the Postmark API endpoint (tests)
	BaseURL string
}

// Validate checks the settings required to send
func (c EmailConfig) Validate() error {
	if c.ServerToken == "" {
		return fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if c.SenderEmail == "" || !strings.Contains(c.SenderEmail, "@") {
		return fmt.Errorf("%w: sender email must be a valid address", ErrInvalidConfig)
	}
	return nil
}

// EmailNotifier sends lifecycle notifications to the subscription's customer
// through Postmark
type EmailNotifier struct {
	client *postmark.Client
	config EmailConfig
	logger *zap.Logger
}

var _ ports.Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates a Postmark-backed notifier
func NewEmailNotifier(cfg EmailConfig, httpClient *http.Client, logger *zap.Logger) (*EmailNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &EmailNotifier{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Notify renders and sends the notification. A subscription without a
// customer address is skipped.
func (e *EmailNotifier) Notify(ctx context.Context, n models.Notification) error {
	if n.Subscription == nil || n.Subscription.CustomerEmail == "" {
		e.logger.Debug("Skipping e-mail notification without recipient",
			zap.String("kind", string(n.Kind)))
		return nil
	}

	msg := compose(n)
	html, err := renderHTML(msg, e.config.SupportEmail)
	if err != nil {
		return fmt.Errorf("render %s email: %w", n.Kind, err)
	}

	email := postmark.Email{
		From:       e.config.SenderEmail,
		To:         n.Subscription.CustomerEmail,
		Subject:    msg.Subject,
		Tag:        string(n.Kind),
		HTMLBody:   html,
		TextBody:   strings.Join(msg.Lines, "\n\n"),
		TrackOpens: true,
	}
	if e.config.SupportEmail != "" {
		email.ReplyTo = e.config.SupportEmail
	}

	resp, err := e.client.SendEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("send %s email: %w", n.Kind, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
	}

	e.logger.Info("Notification e-mail sent",
		zap.String("kind", string(n.Kind)),
		zap.String("subscription_id", n.Subscription.ID),
		zap.String("message_id", resp.MessageID),
	)
	return nil
}

func renderHTML(msg message, supportEmail string) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]interface{}{
		"Subject":      msg.Subject,
		"Heading":      msg.Heading,
		"Lines":        msg.Lines,
		"SupportEmail": supportEmail,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
