package mockmail

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

func homePage(notice string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var sb strings.Builder
		sb.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>Mock mailer</title></head><body>")
		if notice != "" {
			sb.WriteString(`<p class="notice" role="status">`)
			sb.WriteString(templ.EscapeString(notice))
			sb.WriteString("</p>")
		}
		sb.WriteString(`<form method="post" action="/emails"><button type="submit">Send mock email</button></form>`)
		sb.WriteString("</body></html>")
		_, err := io.WriteString(w, sb.String())
		return err
	})
}
