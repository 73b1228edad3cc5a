package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsTransport answers robots.txt probes for the collector. A probe that keeps
// stalling is retried on backoff and then treated as allow-all, so one slow host
// cannot fail an otherwise reachable site.
type robotsTransport struct {
	next    http.RoundTripper
	backoff []time.Duration
	logger  *zap.Logger
}

func newRobotsTransport(next http.RoundTripper, logger *zap.Logger) *robotsTransport {
	return &robotsTransport{
		next:    next,
		backoff: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second},
		logger:  logger,
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.next.RoundTrip(req)
	}

	var lastErr error
	for attempt := 0; attempt <= len(t.backoff); attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(t.backoff[attempt-1]):
			}
		}
		resp, err := t.next.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !stalled(err) {
			return nil, err
		}
		lastErr = err
	}

	metrics.ObserveRobotsProbeFallback()
	t.logger.Warn("robots.txt probe stalled, assuming allow-all",
		zap.String("host", req.URL.Host),
		zap.Int("attempts", len(t.backoff)+1),
		zap.Error(lastErr),
	)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Request:       req,
	}, nil
}

// stalled reports timeouts, including a TLS handshake that never completes.
func stalled(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
