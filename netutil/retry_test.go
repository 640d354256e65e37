package netutil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retryClient(t *testing.T, rt *RetryTransport) *http.Client {
	t.Helper()
	if rt.InitialBackoff == 0 {
		rt.InitialBackoff = time.Millisecond
	}
	if rt.MaxBackoff == 0 {
		rt.MaxBackoff = 5 * time.Millisecond
	}
	return &http.Client{Transport: rt}
}

func TestRetryTransportRecovers(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	var retries []int
	rt := &RetryTransport{OnRetry: func(attempt int, _ time.Duration, status int) {
		retries = append(retries, status)
	}}
	resp, err := retryClient(t, rt).Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable}, retries)
}

func TestRetryTransportGivesUp(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rt := &RetryTransport{MaxRetries: 2}
	resp, err := retryClient(t, rt).Get(srv.URL)
	require.NoError(t, err, "an exhausted retry budget returns the last response")
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int64(3), hits.Load())
}

func TestRetryTransportSkipsClientErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := retryClient(t, &RetryTransport{}).Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int64(1), hits.Load(), "a 404 is definitive, not transient")
}

type flakyTransport struct {
	failures atomic.Int64
	calls    atomic.Int64
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.calls.Add(1) <= f.failures.Load() {
		return nil, errors.New("connection reset")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func TestRetryTransportRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	base := &flakyTransport{}
	base.failures.Store(2)
	rt := &RetryTransport{Base: base, InitialBackoff: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "http://feeds.invalid/index.json", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(3), base.calls.Load())
}

func TestRetryAfterHeader(t *testing.T) {
	t.Parallel()

	resp := &http.Response{Header: http.Header{"Retry-After": []string{"7"}}}
	d, ok := retryAfter(resp)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	resp.Header.Set("Retry-After", "bogus")
	_, ok = retryAfter(resp)
	assert.False(t, ok)

	_, ok = retryAfter(nil)
	assert.False(t, ok)

	rt := &RetryTransport{}
	resp.Header.Set("Retry-After", "120")
	assert.Equal(t, defaultMaxBackoff, rt.backoff(0, resp), "the ceiling caps server asks")
}
