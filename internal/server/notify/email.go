package notify

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/flyfile/internal/logging"
)

// Email is an outbound message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, msg Email) error
}

// LogSender writes messages to the log instead of delivering them. It is the
// default until a mail provider is configured.
type LogSender struct {
	Logger logging.Logger
}

func (s LogSender) Send(ctx context.Context, msg Email) error {
	s.Logger.Info(ctx, "email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// TransferReady is the message sent to a recipient of an email-delivered
// transfer.
func TransferReady(to, title, link string) Email {
	return Email{
		To:      to,
		Subject: fmt.Sprintf("Files shared with you: %s", title),
		Body:    fmt.Sprintf("You have received files via FlyFile.\n\n%s\n\nDownload: %s\n", title, link),
	}
}

// VerificationCode is the message carrying an anonymous sender OTP.
func VerificationCode(to, code string, ttlMinutes int) Email {
	return Email{
		To:      to,
		Subject: "Your FlyFile verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.\n", code, ttlMinutes),
	}
}
