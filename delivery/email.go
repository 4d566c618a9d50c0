package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wneessen/go-mail"

	"github.com/shohei81/HN-summarizer/config"
)

const emailSendRetries = 2

const emailStyle = `<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
h1 { color: #2c3e50; }
h2 { color: #3498db; margin-top: 20px; }
.story { margin-bottom: 30px; border-bottom: 1px solid #eee; padding-bottom: 20px; }
.meta { color: #7f8c8d; font-size: 0.9em; margin-bottom: 10px; }
.summary { line-height: 1.8; }
a { color: #3498db; text-decoration: none; }
a:hover { text-decoration: underline; }
.restricted { color: #95a5a6; font-style: italic; }
</style>`

// EmailChannel sends the whole digest as one multipart message over
// authenticated SMTP with STARTTLS.
type EmailChannel struct {
	settings      config.EmailSettings
	timeout       time.Duration
	retryInterval time.Duration
	send          func(ctx context.Context, msg *mail.Msg) error
}

// NewEmail creates the email channel. The timeout bounds each SMTP dial and
// send attempt.
func NewEmail(settings config.EmailSettings, timeout time.Duration) *EmailChannel {
	e := &EmailChannel{
		settings:      settings,
		timeout:       timeout,
		retryInterval: defaultRetryInterval,
	}
	e.send = e.smtpSend
	return e
}

func (e *EmailChannel) Name() string {
	return "email"
}

// Deliver formats all items into a single message and sends it once,
// retrying transient transport failures.
func (e *EmailChannel) Deliver(ctx context.Context, items []Item) Result {
	result := Result{Channel: e.Name(), ItemsAttempted: len(items)}

	date := time.Now().Format(dateLayout)

	msg := mail.NewMsg()
	if err := msg.From(e.settings.Sender); err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("invalid sender %q: %w", e.settings.Sender, err)
		return result
	}
	if err := msg.To(e.settings.Recipients...); err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("invalid recipients: %w", err)
		return result
	}
	msg.Subject(strings.ReplaceAll(e.settings.SubjectTemplate, "{date}", date))
	msg.SetBodyString(mail.TypeTextPlain, formatEmailText(items, date))
	msg.AddAlternativeString(mail.TypeTextHTML, formatEmailHTML(items, date))

	op := func() error {
		err := e.send(ctx, msg)
		if err == nil {
			return nil
		}
		if !transientSMTP(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("email send failed, will retry", "error", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, emailSendRetries), ctx)); err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("sending email: %w", err)
		return result
	}

	slog.Info("email sent", "recipients", len(e.settings.Recipients), "stories", len(items))
	result.ItemsDelivered = len(items)
	result.Status = StatusSuccess
	return result
}

func (e *EmailChannel) smtpSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(e.settings.SMTPServer,
		mail.WithPort(e.settings.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.settings.Username),
		mail.WithPassword(e.settings.Password.Value),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(e.timeout),
	)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// transientSMTP reports whether a send failure is worth another attempt.
// SMTP 4xx replies and network errors qualify; permanent rejections such as
// bad credentials do not.
func transientSMTP(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func formatEmailText(items []Item, date string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hacker News Top Stories - %s\n\n", date)

	for i, item := range items {
		url := item.Story.URL
		if url == "" {
			url = "No URL"
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item.Story.Title)
		fmt.Fprintf(&sb, "URL: %s\n", url)
		fmt.Fprintf(&sb, "Points: %d | Comments: %d\n\n", item.Story.Score, item.Story.Descendants)
		sb.WriteString(item.SummaryText())
		sb.WriteString("\n\n")
		sb.WriteString(strings.Repeat("-", 80))
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func formatEmailHTML(items []Item, date string) string {
	var sb strings.Builder
	sb.WriteString("<html>\n<head>\n")
	sb.WriteString(emailStyle)
	sb.WriteString("\n</head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>Hacker News Top Stories - %s</h1>\n", date)

	for i, item := range items {
		sb.WriteString(formatEmailStory(item, i+1))
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func formatEmailStory(item Item, index int) string {
	href := item.Story.URL
	if href == "" {
		href = "#"
	}

	var sb strings.Builder
	sb.WriteString("<div class=\"story\">\n")
	fmt.Fprintf(&sb, "<h2>%d. <a href=\"%s\">%s</a></h2>\n", index, href, escapeHTML(item.Story.Title))

	if item.Degraded() {
		fmt.Fprintf(&sb, "<p class=\"restricted\"><em>%s</em></p>\n", RestrictedNotice)
	} else {
		fmt.Fprintf(&sb, "<div class=\"meta\">%s | <a href=\"https://news.ycombinator.com/item?id=%d\">Discuss on HN</a></div>\n",
			escapeHTML(item.Story.By), item.Story.ID)
		summary := strings.ReplaceAll(escapeHTML(item.Summary.Text), "\n", "<br>")
		fmt.Fprintf(&sb, "<div class=\"summary\">%s</div>\n", summary)
	}

	sb.WriteString("</div>\n")
	return sb.String()
}
