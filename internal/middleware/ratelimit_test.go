package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCallerKey(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "user param wins",
			target:     "/moda/generate?user=u123",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "user:u123",
		},
		{
			name:       "single forwarded ip",
			target:     "/moda/generate",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "ip:203.0.113.1",
		},
		{
			name:       "multiple ips use first",
			target:     "/",
			header:     " 203.0.113.1 , 198.51.100.2 ",
			remoteAddr: "198.51.100.10:1234",
			want:       "ip:203.0.113.1",
		},
		{
			name:       "invalid forwarded falls back",
			target:     "/",
			header:     "invalid",
			remoteAddr: "198.51.100.10:1234",
			want:       "ip:198.51.100.10",
		},
		{
			name:       "empty forwarded uses remote host",
			target:     "/",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "ip:198.51.100.10",
		},
		{
			name:       "ipv6 forwarded",
			target:     "/",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "ip:2001:db8::1",
		},
		{
			name:       "remote without port",
			target:     "/",
			header:     "invalid",
			remoteAddr: "203.0.113.1",
			want:       "ip:203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := callerKey(req); got != tc.want {
				t.Fatalf("callerKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitBlocksOverLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/moda/generate?user=u1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", statuses[2])
	}

	// A different user has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/moda/generate?user=u2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("other user should not be limited, got %d", rec.Code)
	}
}
