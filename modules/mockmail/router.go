package mockmail

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Mountable interface {
	Handle() http.Handler
}

// RouterOptions selects the services mounted by Router. Nil services are skipped.
type RouterOptions struct {
	Emails Mountable
}

// Router builds the application router.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//	r.Mount("/", mockmail.Router(mockmail.RouterOptions{
//		Emails: mockmail.NewService(mailer, cookies, log),
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	if opts.Emails != nil {
		r.Mount("/", opts.Emails.Handle())
	}
	return r
}
