// Package mail renders and delivers transactional storefront emails.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is the provider-facing shape of one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Provider delivers a single email. Delivery is not retried: a transient
// provider failure loses one notification, which is acceptable for this
// class of email.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds the sender identity.
type Config struct {
	FromEmail string
	FromName  string
}

// Service renders the embedded templates and hands the result to the
// provider.
type Service struct {
	provider Provider
	from     string
	tmpl     *template.Template
}

// NewService creates a mail Service. It fails only when the embedded
// templates do not parse, which a test catches at build time.
func NewService(provider Provider, cfg Config) (*Service, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}
	return &Service{
		provider: provider,
		from:     fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		tmpl:     tmpl,
	}, nil
}

// BackInStockParams fills the back-in-stock template.
type BackInStockParams struct {
	To           string
	CustomerName string
	ProductName  string
	ProductURL   string
}

// SendBackInStock notifies a customer that a watched product is available
// again.
func (s *Service) SendBackInStock(ctx context.Context, p BackInStockParams) error {
	html, err := s.render("back_in_stock.html", p)
	if err != nil {
		return err
	}
	return s.send(ctx, Message{
		From:    s.from,
		To:      p.To,
		Subject: fmt.Sprintf("%s is back in stock", p.ProductName),
		HTML:    html,
	})
}

// WelcomeParams fills the welcome template.
type WelcomeParams struct {
	To           string
	CustomerName string
	Code         string
}

// SendWelcome delivers the first-purchase discount code to a new customer.
func (s *Service) SendWelcome(ctx context.Context, p WelcomeParams) error {
	html, err := s.render("welcome.html", p)
	if err != nil {
		return err
	}
	return s.send(ctx, Message{
		From:    s.from,
		To:      p.To,
		Subject: "Your welcome discount is here",
		HTML:    html,
	})
}

func (s *Service) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "render %s", name)
	}
	return buf.String(), nil
}

func (s *Service) send(ctx context.Context, msg Message) error {
	if err := s.provider.Send(ctx, msg); err != nil {
		return errors.Wrap(err, "send email")
	}
	zctx.From(ctx).Info("Email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
