// Package email renders and delivers the site's outgoing mail.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(
	template.New("email").Funcs(sprig.FuncMap()).Funcs(template.FuncMap{
		"nl2br": nl2br,
	}).ParseFS(templateFS, "templates/*.html"),
)

func nl2br(s string) template.HTML {
	return template.HTML(strings.ReplaceAll(template.HTMLEscapeString(s), "\n", "<br>\n"))
}

// Message is a single outgoing email
type Message struct {
	To      string
	ToName  string
	ReplyTo string
	Subject string
	HTML    string
}

// Mailer delivers messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var EmailRegex = regexp.MustCompile(`^[^:\p{Cc} ]+@[^:\p{Cc} ]+\.[^:\p{Cc} ]+$`)

func IsEmail(address string) bool {
	return EmailRegex.MatchString(address)
}

// Render executes one of the embedded email templates
func Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render email template %s: %w", name, err)
	}
	return strings.ReplaceAll(buf.String(), "\n", "\r\n"), nil
}

// SMTPConfig holds the mail server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

// SMTPMailer sends mail through an SMTP server, upgrading to TLS when offered
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	contents := prepMailContents(
		makeHeaderAddress(msg.To, msg.ToName),
		makeHeaderAddress(m.cfg.From, m.cfg.FromName),
		msg.ReplyTo,
		msg.Subject,
		msg.HTML,
		time.Now(),
	)

	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	dialer := net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(m.cfg.Timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start smtp session: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("failed to start tls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(contents); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return c.Quit()
}

// ConsoleMailer writes messages to a writer instead of sending them. It is
// the development backend.
type ConsoleMailer struct {
	mu       sync.Mutex
	out      io.Writer
	from     string
	fromName string
}

func NewConsoleMailer(out io.Writer, from string) *ConsoleMailer {
	return &ConsoleMailer{out: out, from: from}
}

func (m *ConsoleMailer) Send(ctx context.Context, msg Message) error {
	contents := prepMailContents(
		makeHeaderAddress(msg.To, msg.ToName),
		makeHeaderAddress(m.from, m.fromName),
		msg.ReplyTo,
		msg.Subject,
		msg.HTML,
		time.Now(),
	)

	m.mu.Lock()
	defer m.mu.Unlock()

	log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("Writing email to console")
	sep := strings.Repeat("-", 72)
	_, err := fmt.Fprintf(m.out, "%s\r\n%s%s\r\n", sep, contents, sep)
	return err
}

// Recorder keeps every message in memory
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func makeHeaderAddress(email, fullname string) string {
	if fullname == "" {
		return email
	}
	encoded := mime.BEncoding.Encode("utf-8", fullname)
	if encoded == fullname {
		encoded = strings.ReplaceAll(encoded, `"`, `\"`)
		encoded = fmt.Sprintf("\"%s\"", encoded)
	}
	return fmt.Sprintf("%s <%s>", encoded, email)
}

func prepMailContents(toLine, fromLine, replyTo, subject, contentHtml string, date time.Time) []byte {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("To: %s\r\n", toLine))
	builder.WriteString(fmt.Sprintf("From: %s\r\n", fromLine))
	if replyTo != "" {
		builder.WriteString(fmt.Sprintf("Reply-To: %s\r\n", replyTo))
	}
	builder.WriteString(fmt.Sprintf("Date: %s\r\n", date.UTC().Format(time.RFC1123Z)))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	builder.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	builder.WriteString("\r\n")
	writer := quotedprintable.NewWriter(&builder)
	writer.Write([]byte(contentHtml))
	writer.Close()
	builder.WriteString("\r\n")

	return []byte(builder.String())
}
