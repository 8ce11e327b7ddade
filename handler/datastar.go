package handler

import (
	"net/http"
	"strings"
)

const (
	// DataStarAcceptHeader is the Accept header value sent by DataStar clients.
	DataStarAcceptHeader = "text/event-stream"

	// DataStarQueryParam carries DataStar signals on GET requests.
	DataStarQueryParam = "datastar"
)

// IsDataStar reports whether the request comes from a DataStar client,
// which expects Server-Sent Events instead of plain HTTP redirects.
func IsDataStar(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), DataStarAcceptHeader) {
		return true
	}
	if r.URL.Query().Has(DataStarQueryParam) {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Type"), "application/x-datastar")
}
