package mail

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/resend/resend-go/v2"
)

// Compile-time check ensuring ResendProvider satisfies Provider.
var _ Provider = (*ResendProvider)(nil)

// ResendProvider delivers email through the Resend API.
type ResendProvider struct {
	client *resend.Client
}

// NewResendProvider creates a ResendProvider with the given API key.
func NewResendProvider(apiKey string) *ResendProvider {
	return &ResendProvider{client: resend.NewClient(apiKey)}
}

func (p *ResendProvider) Send(ctx context.Context, msg Message) error {
	_, err := p.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return errors.Wrap(err, "resend")
	}
	return nil
}
