package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/hanig/hani-replica/internal/buildinfo"
)

func TestNewClient_Timeout(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"disabled", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts...)
			if c.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func TestNewClient_Headers(t *testing.T) {
	var gotUA, gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Notion-Version")
	}))
	defer srv.Close()

	c := NewClient(
		WithHeader("Authorization", "Bearer secret"),
		WithHeader("Notion-Version", "2022-06-28"),
	)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Notion-Version", "override")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if gotUA != buildinfo.UserAgent() {
		t.Errorf("User-Agent = %q, want %q", gotUA, buildinfo.UserAgent())
	}
	if gotKey != "Bearer secret" {
		t.Errorf("Authorization = %q", gotKey)
	}
	if gotVersion != "override" {
		t.Errorf("request header should win, got %q", gotVersion)
	}
}

func TestNewClient_CustomUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := NewClient(WithUserAgent("probe/1.0")).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != "probe/1.0" {
		t.Errorf("User-Agent = %q, want probe/1.0", got)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("nil body = %q, want empty", got)
	}
	got := ReadErrorBody(io.NopCloser(strings.NewReader("0123456789abcdef")), 10)
	if got != "0123456789" {
		t.Errorf("truncated body = %q", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"name":"x"}`)),
		}
		var v struct{ Name string }
		if err := DecodeJSON("svc", resp, &v); err != nil {
			t.Fatal(err)
		}
		if v.Name != "x" {
			t.Errorf("Name = %q", v.Name)
		}
	})
	t.Run("status error", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader("bad token")),
		}
		err := DecodeJSON("svc", resp, nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if se.Code != http.StatusUnauthorized || se.Body != "bad token" {
			t.Errorf("StatusError = %+v", se)
		}
	})
	t.Run("bad json", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{`)),
		}
		var v map[string]any
		if err := DecodeJSON("svc", resp, &v); err == nil {
			t.Error("expected decode error")
		}
	})
}

type failingRoundTripper struct {
	failures int
	calls    int
	err      error
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
}

func dialErr(errno syscall.Errno) error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
}

func TestRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		count     int
		wantCalls int
		wantErr   bool
	}{
		{"recovers", 1, dialErr(syscall.EHOSTUNREACH), 2, 2, false},
		{"exhausts", 5, dialErr(syscall.ECONNREFUSED), 2, 3, true},
		{"not retryable", 1, fmt.Errorf("tls: bad certificate"), 3, 1, true},
		{"reset not retried", 1, dialErr(syscall.ECONNRESET), 3, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &failingRoundTripper{failures: tt.failures, err: tt.err}
			rt := &retryTransport{base: base, count: tt.count, delay: time.Millisecond}
			req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
			resp, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if resp != nil {
				resp.Body.Close()
			}
			if base.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", base.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransport_ContextCancelled(t *testing.T) {
	base := &failingRoundTripper{failures: 10, err: dialErr(syscall.EHOSTUNREACH)}
	rt := &retryTransport{base: base, count: 3, delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetryTransport_BodyWithoutGetBody(t *testing.T) {
	base := &failingRoundTripper{failures: 1, err: dialErr(syscall.EHOSTUNREACH)}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}
	req, _ := http.NewRequest(http.MethodPost, "http://example.invalid", nil)
	req.Body = io.NopCloser(strings.NewReader("payload"))
	req.GetBody = nil
	if _, err := rt.RoundTrip(req); err == nil {
		t.Error("expected error when body cannot be rewound")
	}
	if base.calls != 1 {
		t.Errorf("calls = %d, want 1", base.calls)
	}
}
