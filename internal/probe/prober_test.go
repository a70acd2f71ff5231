package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

// fakePinger returns a fixed round-trip time or error.
type fakePinger struct {
	rtt   time.Duration
	err   error
	hosts []string
}

func (f *fakePinger) Ping(ctx context.Context, host string) (time.Duration, error) {
	f.hosts = append(f.hosts, host)
	if f.err != nil {
		return 0, f.err
	}
	return f.rtt, nil
}

// blockingPinger waits for the context to expire.
type blockingPinger struct{}

func (blockingPinger) Ping(ctx context.Context, _ string) (time.Duration, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestProber_HTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantOK     bool
		wantKind   ErrorKind
		wantStatus int
	}{
		{"200 ok", http.StatusOK, true, KindNone, 200},
		{"304 counts as up", http.StatusNotModified, true, KindNone, 304},
		{"404 fails", http.StatusNotFound, false, KindHTTPStatus, 404},
		{"503 fails", http.StatusServiceUnavailable, false, KindHTTPStatus, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			p := NewProber(nil, &fakePinger{}, time.Second)
			r := p.Probe(context.Background(), model.Device{CheckURL: server.URL})

			if r.Success != tt.wantOK {
				t.Errorf("Success = %v, want %v", r.Success, tt.wantOK)
			}
			if r.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %q, want %q", r.ErrorKind, tt.wantKind)
			}
			if r.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", r.StatusCode, tt.wantStatus)
			}
			if tt.wantOK && r.ResponseTimeMs == nil {
				t.Error("ResponseTimeMs = nil on success")
			}
			if !tt.wantOK && r.ResponseTimeMs != nil {
				t.Errorf("ResponseTimeMs = %d on failure, want nil", *r.ResponseTimeMs)
			}
		})
	}
}

func TestProber_HTTPTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	p := NewProber(nil, &fakePinger{}, 50*time.Millisecond)
	r := p.Probe(context.Background(), model.Device{CheckURL: server.URL})

	if r.Success {
		t.Fatal("Success = true, want false")
	}
	if r.ErrorKind != KindTimeout {
		t.Errorf("ErrorKind = %q, want %q", r.ErrorKind, KindTimeout)
	}
}

func TestProber_HTTPConnectionRefused(t *testing.T) {
	// grab a free port and close it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewProber(nil, &fakePinger{}, time.Second)
	r := p.Probe(context.Background(), model.Device{CheckURL: "http://" + addr + "/health"})

	if r.ErrorKind != KindConnectionRefused {
		t.Errorf("ErrorKind = %q, want %q (err: %v)", r.ErrorKind, KindConnectionRefused, r.Err)
	}
	if !strings.HasPrefix(r.ErrorMessage(), "connection_refused: ") {
		t.Errorf("ErrorMessage() = %q", r.ErrorMessage())
	}
}

func TestProber_InvalidTarget(t *testing.T) {
	p := NewProber(nil, &fakePinger{}, time.Second)

	for _, d := range []model.Device{
		{CheckURL: "ftp://example.com"},
		{CheckURL: "http://"},
		{CheckURL: "://bad"},
		{Host: ""},
	} {
		r := p.Probe(context.Background(), d)
		if r.Success || r.ErrorKind != KindInvalidTarget {
			t.Errorf("Probe(%+v) = %+v, want invalid_target", d, r)
		}
	}
}

func TestProber_ICMP(t *testing.T) {
	pinger := &fakePinger{rtt: 12 * time.Millisecond}
	p := NewProber(nil, pinger, time.Second)

	r := p.Probe(context.Background(), model.Device{Host: "10.1.1.1"})

	if !r.Success {
		t.Fatalf("Success = false, err = %v", r.Err)
	}
	if r.ResponseTimeMs == nil || *r.ResponseTimeMs != 12 {
		t.Errorf("ResponseTimeMs = %v, want 12", r.ResponseTimeMs)
	}
	if len(pinger.hosts) != 1 || pinger.hosts[0] != "10.1.1.1" {
		t.Errorf("pinged hosts = %v", pinger.hosts)
	}
}

func TestProber_ICMPTimeout(t *testing.T) {
	p := NewProber(nil, blockingPinger{}, 20*time.Millisecond)

	start := time.Now()
	r := p.Probe(context.Background(), model.Device{Host: "10.1.1.1"})

	if r.ErrorKind != KindTimeout {
		t.Errorf("ErrorKind = %q, want %q", r.ErrorKind, KindTimeout)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %v, timeout not applied", elapsed)
	}
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		name string
		d    model.Device
		want string
	}{
		{"no port", model.Device{CheckURL: "http://example.com/health"}, "http://example.com/health"},
		{"device port appended", model.Device{CheckURL: "http://example.com/health", Port: 8080}, "http://example.com:8080/health"},
		{"explicit port wins", model.Device{CheckURL: "http://example.com:9000/health", Port: 8080}, "http://example.com:9000/health"},
		{"ipv6 host", model.Device{CheckURL: "http://[::1]/", Port: 81}, "http://[::1]:81/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetURL(tt.d)
			if err != nil {
				t.Fatalf("TargetURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("TargetURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, KindDNS},
		{"dns timeout", &net.DNSError{Err: "timeout", IsTimeout: true}, KindTimeout},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindConnectionRefused},
		{"host unreachable", &net.OpError{Op: "write", Err: syscall.EHOSTUNREACH}, KindUnreachable},
		{"icmp unreachable", errUnreachable, KindUnreachable},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestResult_ErrorMessage(t *testing.T) {
	if msg := (Result{Success: true}).ErrorMessage(); msg != "" {
		t.Errorf("success ErrorMessage() = %q, want empty", msg)
	}
	r := Result{ErrorKind: KindHTTPStatus, Err: errors.New("HTTP 503")}
	if msg := r.ErrorMessage(); msg != "http_status: HTTP 503" {
		t.Errorf("ErrorMessage() = %q", msg)
	}
}
