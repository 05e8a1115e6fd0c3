package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/baha0x13/E-commerce/internal/config"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Dispatcher отправляет шаблонизированное письмо на адрес.
// Ошибка доставки никогда не откатывает уже зафиксированный переход заказа:
// вызывающая сторона логирует её как предупреждение и продолжает работу.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, templateName string, data any) error
}

// SMTPDispatcher отправляет письма через SMTP (gomail), тело собирается из html/template.
type SMTPDispatcher struct {
	log    *slog.Logger
	dialer *gomail.Dialer
	from   string
	tmpl   *template.Template
}

func NewSMTPDispatcher(log *slog.Logger, cfg config.MailConfig) (*SMTPDispatcher, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	return &SMTPDispatcher{
		log:    log,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		tmpl:   tmpl,
	}, nil
}

func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, templateName string, data any) error {
	const op = "notify.SMTPDispatcher.Send"

	var body bytes.Buffer
	if err := d.tmpl.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("%s: failed to render template %s: %w", op, templateName, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())

	if err := d.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("%s: failed to send mail to %s: %w", op, to, err)
	}

	d.log.Info("mail sent", slog.String("op", op), slog.String("to", to), slog.String("template", templateName))
	return nil
}

// LogDispatcher пишет письма в лог вместо отправки; используется в локальном окружении.
type LogDispatcher struct {
	log  *slog.Logger
	tmpl *template.Template
}

func NewLogDispatcher(log *slog.Logger) (*LogDispatcher, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	return &LogDispatcher{log: log, tmpl: tmpl}, nil
}

func (d *LogDispatcher) Send(ctx context.Context, to, subject, templateName string, data any) error {
	var body bytes.Buffer
	if err := d.tmpl.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("notify.LogDispatcher.Send: failed to render template %s: %w", templateName, err)
	}
	d.log.Info("mail (not sent, log only)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("template", templateName),
		slog.String("body", body.String()),
	)
	return nil
}
