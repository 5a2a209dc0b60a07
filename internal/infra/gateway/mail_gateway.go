package gateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

var tracer = otel.Tracer("gateway")

type SMTPConfig struct {
	Host     string
	Port     int
	Address  string
	Password string
	FromName string
}

// SMTPGateway submits mail to a relay with PLAIN auth.
type SMTPGateway struct {
	config SMTPConfig
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now    func() time.Time
}

func NewSMTPGateway(config SMTPConfig) *SMTPGateway {
	if config.Port == 0 {
		config.Port = 587
	}
	return &SMTPGateway{
		config: config,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

func (g *SMTPGateway) Send(ctx context.Context, m domain.Mail) error {
	ctx, span := tracer.Start(ctx, "Gateway.SMTP.Send")
	defer span.End()

	msg, err := g.compose(m)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addr := net.JoinHostPort(g.config.Host, strconv.Itoa(g.config.Port))
	auth := smtp.PlainAuth("", g.config.Address, g.config.Password, g.config.Host)

	// smtp.SendMail has no context; abandon the result once ctx is done.
	done := make(chan error, 1)
	go func() {
		done <- g.send(addr, auth, g.config.Address, []string{m.To}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("smtp send to %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return ctx.Err()
	}
}

func (g *SMTPGateway) compose(m domain.Mail) ([]byte, error) {
	from := mail.Address{Name: g.config.FromName, Address: g.config.Address}
	to := mail.Address{Name: m.ToName, Address: m.To}
	if _, err := mail.ParseAddress(to.String()); err != nil {
		return nil, domain.ValidationError{Field: "email", Reason: err.Error()}
	}

	domainPart := "localhost"
	if at := strings.LastIndex(g.config.Address, "@"); at >= 0 {
		domainPart = g.config.Address[at+1:]
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", g.now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainPart))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return buf.Bytes(), nil
}

// LogGateway writes mail to the log. Used when no relay is configured.
type LogGateway struct{}

func (LogGateway) Send(ctx context.Context, m domain.Mail) error {
	slog.InfoContext(
		ctx, "mail relay not configured, logging message",
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("body", m.Body),
		slog.String("module", "mail"),
	)
	return nil
}
