package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
)

// DefaultTimeout applies when the prober is built with a zero timeout.
const DefaultTimeout = 5 * time.Second

// ErrorKind classifies why a probe failed.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindTimeout           ErrorKind = "timeout"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindDNS               ErrorKind = "dns"
	KindUnreachable       ErrorKind = "unreachable"
	KindHTTPStatus        ErrorKind = "http_status"
	KindInvalidTarget     ErrorKind = "invalid_target"
	KindUnknown           ErrorKind = "unknown"
)

// Result is the outcome of a single probe. Probe failures are values, not
// errors: every transport problem is reported through Success and ErrorKind.
type Result struct {
	Success bool

	// ResponseTimeMs is set only when Success is true.
	ResponseTimeMs *int64

	ErrorKind ErrorKind

	// StatusCode is the HTTP status for HTTP probes that got a response.
	StatusCode int

	Err error
}

// ErrorMessage returns the text stored as a device's last error.
func (r Result) ErrorMessage() string {
	if r.Success {
		return ""
	}
	if r.Err == nil {
		return string(r.ErrorKind)
	}
	return fmt.Sprintf("%s: %v", r.ErrorKind, r.Err)
}

// Prober runs one reachability check against a device: an HTTP GET when the
// device has a check URL, an ICMP echo otherwise.
type Prober struct {
	client  *Client
	pinger  Pinger
	timeout time.Duration
}

// NewProber creates a prober. Nil collaborators are replaced by the default
// HTTP client and ICMP pinger.
func NewProber(client *Client, pinger Pinger, timeout time.Duration) *Prober {
	if client == nil {
		client = NewClient()
	}
	if pinger == nil {
		pinger = NewICMPPinger()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{client: client, pinger: pinger, timeout: timeout}
}

// Timeout returns the per-probe timeout.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Close releases idle HTTP connections.
func (p *Prober) Close() {
	p.client.Close()
}

// Probe checks d exactly once. It never returns an error.
func (p *Prober) Probe(ctx context.Context, d model.Device) Result {
	if d.CheckURL != "" {
		return p.probeHTTP(ctx, d)
	}
	return p.probeICMP(ctx, d)
}

func (p *Prober) probeHTTP(ctx context.Context, d model.Device) Result {
	target, err := TargetURL(d)
	if err != nil {
		return failure(KindInvalidTarget, err)
	}

	resp := p.client.Get(ctx, target, p.timeout)
	if resp.Error != nil {
		return failure(classify(resp.Error), resp.Error)
	}
	if resp.StatusCode >= 400 {
		r := failure(KindHTTPStatus, fmt.Errorf("HTTP %d", resp.StatusCode))
		r.StatusCode = resp.StatusCode
		return r
	}

	ms := resp.Latency.Milliseconds()
	return Result{Success: true, ResponseTimeMs: &ms, StatusCode: resp.StatusCode}
}

func (p *Prober) probeICMP(ctx context.Context, d model.Device) Result {
	if d.Host == "" {
		return failure(KindInvalidTarget, errors.New("device has no host"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rtt, err := p.pinger.Ping(ctx, d.Host)
	if err != nil {
		return failure(classify(err), err)
	}
	ms := rtt.Milliseconds()
	return Result{Success: true, ResponseTimeMs: &ms}
}

// TargetURL returns the URL an HTTP probe requests. A device port is added
// to the URL host when the URL does not name one.
func TargetURL(d model.Device) (string, error) {
	u, err := url.Parse(d.CheckURL)
	if err != nil {
		return "", fmt.Errorf("invalid check URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid check URL %q: scheme must be http or https", d.CheckURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid check URL %q: missing host", d.CheckURL)
	}
	if d.Port > 0 && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(d.Port))
	}
	return u.String(), nil
}

func failure(kind ErrorKind, err error) Result {
	return Result{ErrorKind: kind, Err: err}
}

func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, errUnreachable),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return KindUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	}
	return KindUnknown
}
