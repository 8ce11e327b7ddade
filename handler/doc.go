// Package handler provides typed HTTP handlers that return renderable responses.
//
// A HandlerFunc receives a Context and a request value and returns a Response.
// Wrap adapts it to http.HandlerFunc, applying decorators and routing render
// errors to an ErrorHandler:
//
//	func create(ctx handler.Context, _ CreateRequest) handler.Response {
//		return handler.RedirectWithFlash("/", cookies, "notice", "Done!")
//	}
//
//	r.Post("/items", handler.Wrap(create,
//		handler.WithErrorHandler[handler.Context, CreateRequest](handler.NewErrorHandler(log)),
//	))
//
// # Responses
//
//	handler.Redirect("/path")                          // 303 See Other
//	handler.RedirectWithCode("/path", 301)             // custom 3xx
//	handler.RedirectWithFlash("/", store, "k", value)  // 303 + one-time flash value
//	handler.Templ(component)                           // HTML page
//
// Redirects sent to DataStar clients (Accept: text/event-stream) are performed
// client-side over Server-Sent Events.
//
// # Errors
//
// HTTPError values carry a status code; NewErrorHandler maps them to the
// response status and logs everything else as a 500.
package handler
