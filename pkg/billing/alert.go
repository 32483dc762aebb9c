package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"sort"

	"github.com/dmitrymomot/billsync/pkg/email"
)

// AlertNotifier delivers a stored alert to operators.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert Alert) error
}

// ErrFailedToNotify is returned when an alert could not be delivered.
var ErrFailedToNotify = errors.New("failed to deliver alert notification")

var alertTemplate = template.Must(template.New("alert").Parse(`<h2>{{.Title}}</h2>
<p>{{.Description}}</p>
<table>
<tr><td>Severity</td><td>{{.Severity}}</td></tr>
<tr><td>Category</td><td>{{.Category}}</td></tr>
<tr><td>Reference</td><td>{{.ExternalReference}}</td></tr>
{{range .Details}}<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>
{{end}}</table>
`))

type alertDetail struct {
	Key   string
	Value string
}

// EmailAlertNotifier mails every alert to a fixed operator address.
type EmailAlertNotifier struct {
	sender email.EmailSender
	to     string
}

// NewEmailAlertNotifier creates a notifier. Panics if sender is nil.
func NewEmailAlertNotifier(sender email.EmailSender, to string) *EmailAlertNotifier {
	if sender == nil {
		panic("billing: email sender is required")
	}
	return &EmailAlertNotifier{sender: sender, to: to}
}

func (n *EmailAlertNotifier) NotifyAlert(ctx context.Context, alert Alert) error {
	body, err := renderAlert(alert)
	if err != nil {
		return errors.Join(ErrFailedToNotify, err)
	}
	if err := n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   n.to,
		Subject:  fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
		BodyHTML: body,
		Tag:      alert.Category,
	}); err != nil {
		return errors.Join(ErrFailedToNotify, err)
	}
	return nil
}

func renderAlert(alert Alert) (string, error) {
	keys := make([]string, 0, len(alert.Metadata))
	for k := range alert.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	details := make([]alertDetail, 0, len(keys))
	for _, k := range keys {
		details = append(details, alertDetail{Key: k, Value: fmt.Sprint(alert.Metadata[k])})
	}

	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, struct {
		Alert
		Details []alertDetail
	}{alert, details})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
