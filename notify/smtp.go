package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	stepup "github.com/BlakeMcBride1625/stepup"
	mail "github.com/go-mail/mail"
)

// SMTPNotifier delivers messages by email. The principal must be resolvable
// to an address through Resolve; typically this is the same
// [stepup.DirectoryProvider] the engine was built with, so the allow-list
// check and the delivery target agree.
//
// Delivered email cannot be recalled, so Delete always succeeds without
// doing anything.
type SMTPNotifier struct {
	Host    string
	Port    int
	From    string
	User    string
	Pass    string
	Subject string
	// SSL switches from STARTTLS negotiation to implicit TLS.
	SSL bool
	// InsecureSkipVerify disables certificate verification. Dev only.
	InsecureSkipVerify bool
	// Resolve maps a principal to a destination address. Returning false
	// fails the send.
	Resolve func(principal string) (string, bool)
}

func (n *SMTPNotifier) Send(ctx context.Context, principal, text string) (stepup.MessageHandle, error) {
	if n.Resolve == nil {
		return "", fmt.Errorf("smtp: no principal resolver configured")
	}
	to, ok := n.Resolve(principal)
	if !ok {
		return "", fmt.Errorf("smtp: no address for principal")
	}

	subject := n.Subject
	if subject == "" {
		subject = "Verification code"
	}

	m := mail.NewMessage()
	m.SetHeader("From", n.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)

	d := mail.NewDialer(n.Host, n.Port, n.User, n.Pass)
	d.SSL = n.SSL
	d.TLSConfig = &tls.Config{
		ServerName:         n.Host,
		InsecureSkipVerify: n.InsecureSkipVerify,
	}

	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp: send to %s: %w", to, err)
		}
	case <-ctx.Done():
		return "", fmt.Errorf("smtp: send to %s: %w", to, ctx.Err())
	}

	// there is nothing to delete later; the handle only marks that a
	// message went out
	return stepup.MessageHandle("smtp:" + to), nil
}

func (n *SMTPNotifier) Delete(ctx context.Context, principal string, handle stepup.MessageHandle) error {
	return nil
}
