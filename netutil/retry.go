package netutil

import (
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// RetryTransport retries transport errors and transient HTTP statuses
// (429, 502, 503, 504) with exponential backoff, honouring Retry-After
// when a server sends one. Cancelled requests are never retried.
type RetryTransport struct {
	// Base handles the actual round trips; http.DefaultTransport if nil.
	Base http.RoundTripper

	// OnRetry observes each retry: the 1-based attempt, the wait before
	// it, and the status that caused it (0 for transport errors).
	OnRetry func(attempt int, wait time.Duration, status int)

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	retries := t.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = base.RoundTrip(t.clone(req))
		if err != nil {
			if req.Context().Err() != nil || attempt == retries {
				return nil, err
			}
			if !t.pause(req, attempt, nil, 0) {
				return nil, req.Context().Err()
			}
			continue
		}

		if !transientStatus(resp.StatusCode) || attempt == retries {
			return resp, nil
		}
		_ = resp.Body.Close()
		if !t.pause(req, attempt, resp, resp.StatusCode) {
			return nil, req.Context().Err()
		}
	}
}

// clone rebuilds the request so a replay gets a fresh body.
func (t *RetryTransport) clone(req *http.Request) *http.Request {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			out.Body = body
		}
	}
	return out
}

// pause sleeps out the backoff for attempt, notifying OnRetry first.
// Reports false when the request context ended mid-wait.
func (t *RetryTransport) pause(req *http.Request, attempt int, resp *http.Response, status int) bool {
	wait := t.backoff(attempt, resp)
	if t.OnRetry != nil {
		t.OnRetry(attempt+1, wait, status)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-req.Context().Done():
		return false
	}
}

func (t *RetryTransport) backoff(attempt int, resp *http.Response) time.Duration {
	initial := t.InitialBackoff
	if initial == 0 {
		initial = defaultInitialBackoff
	}
	ceiling := t.MaxBackoff
	if ceiling == 0 {
		ceiling = defaultMaxBackoff
	}

	if d, ok := retryAfter(resp); ok {
		if d < initial {
			return initial
		}
		return min(d, ceiling)
	}
	return min(initial*(1<<attempt), ceiling)
}

// retryAfter reads a Retry-After header, in either seconds or
// HTTP-date form.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(header); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
