package clientip_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/mockmailer/pkg/clientip"
)

func TestGetIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name: "cloudflare header wins",
			headers: map[string]string{
				"CF-Connecting-IP": "203.0.113.195",
				"DO-Connecting-IP": "198.51.100.178",
				"X-Forwarded-For":  "192.168.1.1",
			},
			remoteAddr: "172.16.0.1:54321",
			want:       "203.0.113.195",
		},
		{
			name:       "invalid header falls through",
			headers:    map[string]string{"CF-Connecting-IP": "nope", "DO-Connecting-IP": "198.51.100.178"},
			remoteAddr: "10.0.0.1:1",
			want:       "198.51.100.178",
		},
		{
			name:       "first valid forwarded-for entry",
			headers:    map[string]string{"X-Forwarded-For": "garbage, 198.51.100.7, 10.0.0.1"},
			remoteAddr: "10.0.0.1:1",
			want:       "198.51.100.7",
		},
		{
			name:       "real ip header",
			headers:    map[string]string{"X-Real-IP": "192.168.1.1"},
			remoteAddr: "10.0.0.1:1",
			want:       "192.168.1.1",
		},
		{name: "remote addr", remoteAddr: "127.0.0.1:8080", want: "127.0.0.1"},
		{name: "remote addr without port", remoteAddr: "127.0.0.1", want: "127.0.0.1"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "ipv4-mapped ipv6 is unmapped", headers: map[string]string{"X-Real-IP": "::ffff:192.0.2.1"}, want: "192.0.2.1"},
		{name: "nothing valid", remoteAddr: "bogus", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientip.GetIP(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	var got string
	h := clientip.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = clientip.FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "192.0.2.10")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "192.0.2.10", got)
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	extract := clientip.LoggerExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	attr, ok := extract(clientip.WithContext(context.Background(), "192.0.2.1"))
	assert.True(t, ok)
	assert.Equal(t, "client_ip", attr.Key)
	assert.Equal(t, "192.0.2.1", attr.Value.String())
}
