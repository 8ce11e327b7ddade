// Package templates renders templ components into email bodies.
package templates

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Render renders tpl into a string.
func Render(ctx context.Context, tpl templ.Component) (string, error) {
	var sb strings.Builder
	if err := tpl.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Paragraphs returns a component that writes each line of text as an escaped
// <p> element inside a minimal HTML document.
func Paragraphs(title string, lines ...string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
		sb.WriteString(templ.EscapeString(title))
		sb.WriteString("</title></head><body>")
		for _, line := range lines {
			sb.WriteString("<p>")
			sb.WriteString(templ.EscapeString(line))
			sb.WriteString("</p>")
		}
		sb.WriteString("</body></html>")
		_, err := io.WriteString(w, sb.String())
		return err
	})
}
