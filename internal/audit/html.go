package audit

import (
	"fmt"
	"html"
	"strings"
)

// ReportHTML renders a record as a self-contained HTML page for operator
// review.
func (r Record) ReportHTML() string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html><html><head><meta charset='utf-8'><title>IPI Shield Audit Report</title>")
	sb.WriteString("<style>body{font-family:sans-serif;max-width:800px;margin:0 auto;padding:20px}")
	sb.WriteString(".critical{color:#dc2626}.high{color:#ea580c}.medium{color:#ca8a04}.low{color:#16a34a}")
	sb.WriteString("table{border-collapse:collapse;width:100%}td,th{border:1px solid #ddd;padding:8px;text-align:left}")
	sb.WriteString("</style></head><body>")

	sb.WriteString("<h1>IPI Shield Audit Report</h1>")
	sb.WriteString(fmt.Sprintf("<p><strong>Request:</strong> %s</p>", html.EscapeString(r.RequestID)))
	sb.WriteString(fmt.Sprintf("<p><strong>Timestamp:</strong> %s</p>", html.EscapeString(r.Timestamp)))
	sb.WriteString(fmt.Sprintf("<p><strong>Risk:</strong> <span class='%s'>%s</span> (score %.2f)</p>",
		strings.ToLower(r.RiskCategory), html.EscapeString(r.RiskCategory), r.InjectionScore))
	sb.WriteString(fmt.Sprintf("<p><strong>Action:</strong> %s</p>", html.EscapeString(r.ActionTaken)))
	sb.WriteString(fmt.Sprintf("<p><strong>Safety:</strong> %.2f (%s)</p>", r.SafetyScore, html.EscapeString(r.SafetyAction)))

	sb.WriteString("<h2>Hashes</h2><table><tr><th>Input</th><th>Output</th></tr>")
	sb.WriteString(fmt.Sprintf("<tr><td><code>%s</code></td><td><code>%s</code></td></tr></table>",
		html.EscapeString(r.InputHash), html.EscapeString(r.OutputHash)))

	if r.OriginalPrompt != "" {
		sb.WriteString(fmt.Sprintf("<h2>Prompt (truncated)</h2><pre>%s</pre>", html.EscapeString(r.OriginalPrompt)))
	}
	if r.SanitizedPrompt != "" && r.SanitizedPrompt != r.OriginalPrompt {
		sb.WriteString(fmt.Sprintf("<h2>Sanitised (truncated)</h2><pre>%s</pre>", html.EscapeString(r.SanitizedPrompt)))
	}
	if len(r.ComplianceTags) > 0 {
		sb.WriteString("<h2>Compliance Tags</h2><ul>")
		for _, tag := range r.ComplianceTags {
			sb.WriteString(fmt.Sprintf("<li>%s</li>", html.EscapeString(tag)))
		}
		sb.WriteString("</ul>")
	}
	if r.ErrorKind != "" {
		sb.WriteString(fmt.Sprintf("<p><strong>Error:</strong> %s</p>", html.EscapeString(r.ErrorKind)))
	}

	sb.WriteString("</body></html>")
	return sb.String()
}
