// Package mailer renders account mails and hands them to a delivery provider.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"
)

// Message is one outbound HTML mail.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message. An error means the provider did not accept it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const (
	SubjectOTP      = "OTP Verification"
	SubjectVerified = "Account Verified Successfully"

	product = "pitchfork chat"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type templateData struct {
	Username string
	Code     string
	Minutes  int
	Product  string
}

// OTPMessage renders the one-time code mail sent at signup.
func OTPMessage(to, username, code string, ttl time.Duration) (Message, error) {
	body, err := render("otp.html", templateData{
		Username: username,
		Code:     code,
		Minutes:  int(ttl / time.Minute),
		Product:  product,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: SubjectOTP, HTML: body}, nil
}

// VerifiedMessage renders the confirmation mail sent after verification.
func VerifiedMessage(to, username string) (Message, error) {
	body, err := render("verified.html", templateData{Username: username, Product: product})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: SubjectVerified, HTML: body}, nil
}

func render(name string, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
