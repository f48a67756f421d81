// Package notify sends account e-mails.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog/log"
)

// Welcome is the data of the account-created e-mail.
type Welcome struct {
	Email    string
	FullName string
	Role     string
	LoginURL string
}

// Mailer delivers account e-mails.
type Mailer interface {
	SendWelcome(ctx context.Context, w Welcome) error
}

var welcomeTmpl = template.Must(template.New("welcome").Parse(`<p>{{.FullName}}님, 계정이 생성되었습니다.</p>
<p>아이디: {{.Email}}<br>권한: {{.Role}}</p>
{{if .LoginURL}}<p><a href="{{.LoginURL}}">로그인</a></p>{{end}}`))

func renderWelcome(w Welcome) (string, error) {
	var buf bytes.Buffer
	if err := welcomeTmpl.Execute(&buf, w); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{client: resend.NewClient(apiKey), from: from}
}

func (m *ResendMailer) SendWelcome(ctx context.Context, w Welcome) error {
	body, err := renderWelcome(w)
	if err != nil {
		return err
	}
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{w.Email},
		Subject: "CRM 계정이 생성되었습니다",
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}
	log.Info().Str("message_id", sent.Id).Str("to", w.Email).Msg("welcome e-mail sent")
	return nil
}

// NoopMailer logs instead of sending. Used when no API key is configured.
type NoopMailer struct{}

func (NoopMailer) SendWelcome(ctx context.Context, w Welcome) error {
	log.Debug().Str("to", w.Email).Msg("welcome e-mail skipped, mail disabled")
	return nil
}
