package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"voicedesk/internal/reporting"
)

const maxIntents = 5

type view struct {
	BusinessName string
	Period       string
	Summary      reporting.CallsSummary
	AnsweredByAI int
	Intents      []reporting.IntentCount
	AvgDuration  string
}

const htmlBody = `<!doctype html>
<html><body style="font-family:Arial,Helvetica,sans-serif;color:#1f2933">
<h2 style="margin-bottom:4px">{{.BusinessName}}</h2>
<p style="margin-top:0;color:#52606d">Call summary for {{.Period}}</p>
<table cellpadding="6" style="border-collapse:collapse">
<tr><td>Total calls</td><td><strong>{{.Summary.TotalCalls}}</strong></td></tr>
<tr><td>Missed calls</td><td><strong>{{.Summary.MissedCalls}}</strong></td></tr>
<tr><td>Handled by your assistant</td><td>{{.AnsweredByAI}}</td></tr>
<tr><td>Bookings created</td><td>{{.Summary.BookingsCreated}}</td></tr>
<tr><td>Average call length</td><td>{{.AvgDuration}}</td></tr>
{{- if .Summary.EscalatedCalls}}
<tr><td>Need follow-up</td><td><strong>{{.Summary.EscalatedCalls}}</strong></td></tr>
{{- end}}
</table>
{{- if .Intents}}
<h3>Why people called</h3>
<ul>{{range .Intents}}<li>{{.Intent}}: {{.Count}}</li>{{end}}</ul>
{{- end}}
</body></html>
`

const textBody = `{{.BusinessName}}
Call summary for {{.Period}}

Total calls: {{.Summary.TotalCalls}}
Missed calls: {{.Summary.MissedCalls}}
Handled by your assistant: {{.AnsweredByAI}}
Bookings created: {{.Summary.BookingsCreated}}
Average call length: {{.AvgDuration}}
{{- if .Summary.EscalatedCalls}}
Need follow-up: {{.Summary.EscalatedCalls}}
{{- end}}
{{- if .Intents}}

Why people called:
{{- range .Intents}}
- {{.Intent}}: {{.Count}}
{{- end}}
{{- end}}
`

var (
	htmlTmpl = template.Must(template.New("digest.html").Parse(htmlBody))
	textTmpl = texttemplate.Must(texttemplate.New("digest.txt").Parse(textBody))
)

type rendered struct {
	Subject string
	HTML    string
	Text    string
}

func render(businessName, period string, s reporting.CallsSummary) (rendered, error) {
	v := view{
		BusinessName: businessName,
		Period:       period,
		Summary:      s,
		AnsweredByAI: s.AIHandledCalls,
		Intents:      s.Intents,
		AvgDuration:  formatDuration(s.AverageDurationSeconds),
	}
	if len(v.Intents) > maxIntents {
		v.Intents = v.Intents[:maxIntents]
	}

	var h, t bytes.Buffer
	if err := htmlTmpl.Execute(&h, v); err != nil {
		return rendered{}, fmt.Errorf("digest: render html: %w", err)
	}
	if err := textTmpl.Execute(&t, v); err != nil {
		return rendered{}, fmt.Errorf("digest: render text: %w", err)
	}

	subject := fmt.Sprintf("%s: %d calls, %d missed (%s)", businessName, s.TotalCalls, s.MissedCalls, period)
	return rendered{Subject: subject, HTML: h.String(), Text: strings.TrimSpace(t.String()) + "\n"}, nil
}

func formatDuration(secs int) string {
	if secs <= 0 {
		return "0s"
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %02ds", secs/60, secs%60)
}
