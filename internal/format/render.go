package format

import (
	"html/template"
	"strings"
)

const documentTemplate = `{{define "inlines"}}{{range .}}` +
	`{{if eq .Kind "strong"}}<strong>{{template "inlines" .Children}}</strong>` +
	`{{else if eq .Kind "highlight"}}<span class="keyword-highlight">{{.Text}}</span>` +
	`{{else if eq .Kind "break"}}<br/>` +
	`{{else}}{{.Text}}{{end}}` +
	`{{end}}{{end}}` +
	`{{define "block"}}` +
	`{{if eq .Kind "step"}}<div class="msg-step"><span class="msg-step-badge">{{.Badge}}</span><span class="msg-step-body">{{template "inlines" .Inlines}}</span></div>` +
	`{{else if eq .Kind "callout"}}<div class="msg-callout">{{template "inlines" .Inlines}}</div>` +
	`{{else if eq .Kind "header"}}<div class="msg-header">{{template "inlines" .Inlines}}</div>` +
	`{{else}}<p class="msg-paragraph">{{template "inlines" .Inlines}}</p>{{end}}` +
	`{{end}}` +
	`{{if eq .Container "paragraph"}}<p class="msg">{{range .Blocks}}{{template "inlines" .Inlines}}{{end}}</p>` +
	`{{else}}<div class="msg">{{range .Blocks}}{{template "block" .}}{{end}}</div>{{end}}`

var documentTmpl = template.Must(template.New("document").Parse(documentTemplate))

// Render writes doc as HTML. Every text node is escaped by the template
// engine, so the result is safe to embed.
func Render(doc Document) (string, error) {
	var b strings.Builder
	if err := documentTmpl.Execute(&b, doc); err != nil {
		return "", err
	}
	return b.String(), nil
}

// HTML formats and renders text in one step.
func HTML(text string) (string, error) {
	return Render(Format(text))
}
