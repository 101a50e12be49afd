// Package mailer delivers account emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/observability"
)

// Sender delivers the verification email carrying link to the given address.
type Sender interface {
	SendVerification(ctx context.Context, to, username, link string) error
}

// Message is a rendered email.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

const verificationSubject = "Verify your Weather Reporter account"

var verificationText = texttemplate.Must(texttemplate.New("verify.txt").Parse(
	`Hi {{.Username}},

Thanks for signing up. Open the link below to verify your email address:

{{.Link}}

If you did not create an account you can ignore this message.
`))

var verificationHTML = htmltemplate.Must(htmltemplate.New("verify.html").Parse(
	`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
  <p>Hi {{.Username}},</p>
  <p>Thanks for signing up. Click the button below to verify your email address.</p>
  <p><a href="{{.Link}}" style="padding: 10px 16px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 4px">Verify email</a></p>
  <p>Or paste this link into your browser:<br>{{.Link}}</p>
  <p>If you did not create an account you can ignore this message.</p>
</body>
</html>
`))

// RenderVerification builds the verification email for username.
func RenderVerification(username, link string) (Message, error) {
	data := struct{ Username, Link string }{username, link}
	var text, html bytes.Buffer
	if err := verificationText.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := verificationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{Subject: verificationSubject, Text: text.String(), HTML: html.String()}, nil
}

// LogSender writes verification links to the log instead of sending mail. Used in development.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendVerification(ctx context.Context, to, username, link string) error {
	s.logger.Info("verification email (log only)",
		zap.String("to", to),
		zap.String("username", username),
		zap.String("link", link),
		zap.String("correlation_id", observability.CorrelationIDFrom(ctx)),
	)
	observability.EmailsSentTotal.WithLabelValues("logged").Inc()
	return nil
}
