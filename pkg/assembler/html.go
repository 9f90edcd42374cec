package assembler

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

const defaultAccent = "#005AA0"

var deckTemplate = template.Must(template.New("deck").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 0; background: #f4f4f4; }
section.slide { background: #fff; margin: 2em auto; padding: 2em; max-width: 960px; border-top: 6px solid {{.Accent}}; }
section.slide h2 { color: {{.Accent}}; }
aside.notes { color: #666; font-size: 0.9em; border-top: 1px solid #ddd; margin-top: 1em; padding-top: 0.5em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Slides}}<section class="slide slide-{{.Type}}" id="slide-{{.Number}}">
<h2>{{.Title}}</h2>
{{if .Content}}<ul>
{{range .Content}}<li>{{.}}</li>
{{end}}</ul>
{{end}}{{if .SpeakerNotes}}<aside class="notes">{{.SpeakerNotes}}</aside>
{{end}}</section>
{{end}}</body>
</html>
`))

// HTML renders a standalone web page with one section per slide.
type HTML struct{}

func (HTML) Assemble(_ context.Context, _ string, deck Deck) ([]byte, error) {
	accent := deck.AccentColor
	if accent == "" {
		accent = defaultAccent
	}

	var buf bytes.Buffer

	err := deckTemplate.Execute(&buf, struct {
		Title  string
		Accent template.CSS
		Slides []Slide
	}{
		Title:  deck.Title,
		Accent: safeColor(accent),
		Slides: deck.Slides,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render html deck: %w", err)
	}

	return buf.Bytes(), nil
}

// safeColor only lets hex colors into the stylesheet.
func safeColor(c string) template.CSS {
	if len(c) != 4 && len(c) != 7 || c[0] != '#' {
		return defaultAccent
	}

	for _, r := range c[1:] {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return defaultAccent
		}
	}

	return template.CSS(c)
}
