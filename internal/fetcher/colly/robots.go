package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sourcesync/internal/metrics"
)

// Reasons recorded when a robots.txt fetch falls back to allow-all.
const (
	RobotsFallbackTimeout     = "timeout"
	RobotsFallbackServerError = "server_error"
)

const robotsAllowAll = "User-agent: *\nAllow: /"

// DefaultRobotsBackoff is the wait before each robots.txt retry.
var DefaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard wraps the transport for one fetch. robots.txt requests that
// keep timing out or answering 5xx are retried and then answered with an
// allow-all body so a flaky origin does not block its own feed. Every other
// request passes straight through.
type robotsGuard struct {
	base    http.RoundTripper
	backoff []time.Duration

	mu     sync.Mutex
	reason string
}

func newRobotsGuard(base http.RoundTripper, backoff []time.Duration) *robotsGuard {
	return &robotsGuard{base: base, backoff: backoff}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := g.base.RoundTrip(req.Clone(req.Context()))
		reason := ""
		switch {
		case err != nil && !isTransient(err):
			return nil, fmt.Errorf("robots.txt for %s: %w", req.URL.Host, err)
		case err != nil:
			reason = RobotsFallbackTimeout
		case resp.StatusCode >= http.StatusInternalServerError:
			_ = resp.Body.Close()
			reason = RobotsFallbackServerError
		default:
			return resp, nil
		}

		if attempt >= len(g.backoff) {
			g.fallBack(reason)
			return allowAllResponse(req), nil
		}
		if err := wait(req.Context(), g.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots.txt retry for %s: %w", req.URL.Host, err)
		}
	}
}

func (g *robotsGuard) fallBack(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reason != "" {
		return
	}
	g.reason = reason
	metrics.ObserveRobotsFallback(reason)
}

// fallbackReason is empty unless robots.txt was assumed allow-all.
func (g *robotsGuard) fallbackReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
