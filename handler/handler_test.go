package handler_test

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mockmailer/handler"
)

type emptyRequest struct{}

type failingResponse struct{ err error }

func (f failingResponse) Render(http.ResponseWriter, *http.Request) error { return f.err }

func TestWrap(t *testing.T) {
	t.Parallel()

	t.Run("renders response", func(t *testing.T) {
		t.Parallel()

		h := handler.Wrap(func(ctx handler.Context, _ emptyRequest) handler.Response {
			return handler.Redirect("/done")
		})

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/done", w.Header().Get("Location"))
	})

	t.Run("nil response goes to error handler", func(t *testing.T) {
		t.Parallel()

		var got error
		h := handler.Wrap(
			func(ctx handler.Context, _ emptyRequest) handler.Response { return nil },
			handler.WithErrorHandler[handler.Context, emptyRequest](func(ctx handler.Context, err error) {
				got = err
				ctx.ResponseWriter().WriteHeader(http.StatusTeapot)
			}),
		)

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.ErrorIs(t, got, handler.ErrNilResponse)
		assert.Equal(t, http.StatusTeapot, w.Code)
	})

	t.Run("render error uses default error handler", func(t *testing.T) {
		t.Parallel()

		h := handler.Wrap(func(ctx handler.Context, _ emptyRequest) handler.Response {
			return failingResponse{err: handler.ErrNotFound}
		})

		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "not_found")
	})

	t.Run("decorators run outermost first", func(t *testing.T) {
		t.Parallel()

		var order []string
		mark := func(name string) handler.Decorator[handler.Context, emptyRequest] {
			return func(next handler.HandlerFunc[handler.Context, emptyRequest]) handler.HandlerFunc[handler.Context, emptyRequest] {
				return func(ctx handler.Context, req emptyRequest) handler.Response {
					order = append(order, name)
					return next(ctx, req)
				}
			}
		}

		h := handler.Wrap(
			func(ctx handler.Context, _ emptyRequest) handler.Response {
				order = append(order, "handler")
				return handler.Redirect("/")
			},
			handler.WithDecorators(mark("first"), mark("second")),
		)

		h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, []string{"first", "second", "handler"}, order)
	})

	t.Run("context exposes request and writer", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/ctx", nil)
		w := httptest.NewRecorder()

		h := handler.Wrap(func(ctx handler.Context, _ emptyRequest) handler.Response {
			assert.Same(t, req, ctx.Request())
			assert.NoError(t, ctx.Err())
			return handler.Redirect("/")
		})
		h(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
	})
}

func TestNewErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
		wantLevel  string
	}{
		{
			name:       "generic error hides details",
			err:        errors.New("db password leaked"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "An error occurred processing your request",
			wantLevel:  "ERROR",
		},
		{
			name:       "http error keeps status",
			err:        handler.ErrBadRequest,
			wantStatus: http.StatusBadRequest,
			wantBody:   "bad_request",
			wantLevel:  "WARN",
		},
		{
			name:       "wrapped http error",
			err:        errors.Join(errors.New("ctx"), handler.ErrServiceUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "service_unavailable",
			wantLevel:  "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, nil))
			eh := handler.NewErrorHandler(log)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/emails", nil)
			eh(handler.NewContext(w, r), tt.err)

			require.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			assert.NotContains(t, w.Body.String(), "db password")
			assert.Contains(t, buf.String(), "level="+tt.wantLevel)
			assert.Contains(t, buf.String(), "path=/emails")
		})
	}
}
