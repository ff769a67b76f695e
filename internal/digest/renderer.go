package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// Item is one rendered digest entry. Summary passes through the markdown
// renderer because model output routinely contains emphasis and lists.
type Item struct {
	Title       string
	URL         string
	Summary     template.HTML
	Sectors     []string
	Relevance   string
	KeywordHits []string
}

func NewItem(title, url, summary string) Item {
	return Item{
		Title:   title,
		URL:     url,
		Summary: renderMarkdown(summary),
	}
}

func renderMarkdown(text string) template.HTML {
	out := blackfriday.Run([]byte(text),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
	)
	return template.HTML(out)
}

var templateFuncs = template.FuncMap{"join": strings.Join}

var welcomeTemplate = template.Must(template.New("welcome").Funcs(templateFuncs).Parse(`<html>
<body style="font-family: Georgia, serif; max-width: 600px; margin: 0 auto; color: #1a1a1a;">
  <h1 style="font-size: 22px;">Welcome to Congress Signal</h1>
  <p>You're subscribed. Here's a first look at recent publications matching your interests:</p>
  {{range .Items}}
  <div style="margin: 24px 0; padding-bottom: 16px; border-bottom: 1px solid #e0e0e0;">
    <h2 style="font-size: 17px; margin-bottom: 4px;"><a href="{{.URL}}" style="color: #1a3e6e;">{{.Title}}</a></h2>
    {{if .Sectors}}<p style="font-size: 12px; color: #666; text-transform: uppercase;">{{join .Sectors " · "}}</p>{{end}}
    <div style="font-size: 14px; line-height: 1.5;">{{.Summary}}</div>
    {{if .KeywordHits}}<p style="font-size: 12px; color: #8a6d00;">Mentions: {{join .KeywordHits ", "}}</p>{{end}}
  </div>
  {{end}}
  <p style="font-size: 12px; color: #999;">You receive this because you signed up at congresssignal.com.</p>
</body>
</html>`))

var dailyTemplate = template.Must(template.New("daily").Funcs(templateFuncs).Parse(`<html>
<body style="font-family: Georgia, serif; max-width: 600px; margin: 0 auto; color: #1a1a1a;">
  <h1 style="font-size: 22px;">Congress Signal — {{.Date}}</h1>
  <p>{{len .Items}} publication{{if ne (len .Items) 1}}s{{end}} matched your profile today.</p>
  {{range .Items}}
  <div style="margin: 24px 0; padding-bottom: 16px; border-bottom: 1px solid #e0e0e0;">
    <h2 style="font-size: 17px; margin-bottom: 4px;"><a href="{{.URL}}" style="color: #1a3e6e;">{{.Title}}</a></h2>
    {{if .Sectors}}<p style="font-size: 12px; color: #666; text-transform: uppercase;">{{join .Sectors " · "}}{{if .Relevance}} — {{.Relevance}} relevance{{end}}</p>{{end}}
    <div style="font-size: 14px; line-height: 1.5;">{{.Summary}}</div>
    {{if .KeywordHits}}<p style="font-size: 12px; color: #8a6d00;">Mentions: {{join .KeywordHits ", "}}</p>{{end}}
  </div>
  {{end}}
  <p style="font-size: 12px; color: #999;">You receive this because you signed up at congresssignal.com.</p>
</body>
</html>`))

var proTemplate = template.Must(template.New("pro").Funcs(templateFuncs).Parse(`<html>
<body style="font-family: Georgia, serif; max-width: 600px; margin: 0 auto; color: #1a1a1a;">
  <h1 style="font-size: 22px;">Your Congress Signal Briefing — {{.Date}}</h1>
  {{range .Items}}
  <div style="margin: 24px 0; padding-bottom: 16px; border-bottom: 1px solid #e0e0e0;">
    <h2 style="font-size: 17px; margin-bottom: 4px;"><a href="{{.URL}}" style="color: #1a3e6e;">{{.Title}}</a></h2>
    <div style="font-size: 14px; line-height: 1.5;">{{.Summary}}</div>
  </div>
  {{end}}
  <p style="font-size: 12px; color: #999;">Prepared for your profile by Congress Signal Pro.</p>
</body>
</html>`))

type templateData struct {
	Date  string
	Items []Item
}

func RenderWelcome(items []Item) (string, string, error) {
	html, err := execute(welcomeTemplate, templateData{Items: items})
	if err != nil {
		return "", "", err
	}
	return "Welcome to Congress Signal", html, nil
}

func RenderDaily(date string, items []Item) (string, string, error) {
	html, err := execute(dailyTemplate, templateData{Date: date, Items: items})
	if err != nil {
		return "", "", err
	}
	subject := fmt.Sprintf("Congress Signal — %d match", len(items))
	if len(items) != 1 {
		subject += "es"
	}
	return subject, html, nil
}

func RenderPro(date string, items []Item) (string, string, error) {
	html, err := execute(proTemplate, templateData{Date: date, Items: items})
	if err != nil {
		return "", "", err
	}
	return "Your Congress Signal briefing for " + date, html, nil
}

func execute(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render digest: %w", err)
	}
	return buf.String(), nil
}
