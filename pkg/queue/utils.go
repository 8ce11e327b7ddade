package queue

import (
	"fmt"
	"strings"
)

// qualifiedStructName returns "pkg.Type" for v, dereferencing pointers, so
// enqueued payloads and registered handlers agree on a task name.
func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
