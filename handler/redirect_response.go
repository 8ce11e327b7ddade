package handler

import (
	"fmt"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"
)

// Flasher stores a one-time value that is read back on the next request.
// *cookie.Manager implements it.
type Flasher interface {
	SetFlash(w http.ResponseWriter, r *http.Request, key string, value any) error
}

type redirectResponse struct {
	url   string
	code  int
	flash *flashValue
}

type flashValue struct {
	store Flasher
	key   string
	value any
}

// Render writes the flash value (if any) and then redirects.
// DataStar requests get a client-side redirect over SSE.
func (r redirectResponse) Render(w http.ResponseWriter, req *http.Request) error {
	// Cookies must be set before SSE flushes the headers.
	if r.flash != nil && r.flash.store != nil {
		if err := r.flash.store.SetFlash(w, req, r.flash.key, r.flash.value); err != nil {
			return fmt.Errorf("set flash %q: %w", r.flash.key, err)
		}
	}

	if IsDataStar(req) {
		return datastar.NewSSE(w, req).Redirect(r.url)
	}
	http.Redirect(w, req, r.url, r.code)
	return nil
}

// Redirect creates a 303 See Other redirect.
func Redirect(url string) Response {
	return redirectResponse{url: url, code: http.StatusSeeOther}
}

// RedirectWithCode creates a redirect with an explicit 3xx status code.
func RedirectWithCode(url string, code int) Response {
	return redirectResponse{url: url, code: code}
}

// RedirectWithFlash creates a 303 redirect that stores value under key in
// the flash store first, so the target page can show it once.
//
// Example:
//
//	return handler.RedirectWithFlash("/", cookies, "notice", "Saved!")
func RedirectWithFlash(url string, store Flasher, key string, value any) Response {
	return redirectResponse{
		url:   url,
		code:  http.StatusSeeOther,
		flash: &flashValue{store: store, key: key, value: value},
	}
}
