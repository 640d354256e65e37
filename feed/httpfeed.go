package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/netutil"
	"github.com/kiln-host/kiln/version"
)

// maxManifestBytes caps remote manifest and index documents.
const maxManifestBytes = 4 << 20

// HTTPFeed reads a flat HTTP(S) package source laid out as
//
//	<base>/<name>/index.json
//	<base>/<name>/<version>/project.json
//	<base>/<name>/<version>/<name>.<version>.kpkg
//
// Index, manifest and archive responses all go through the shared
// cache; an archive not yet cached is copied to the caller and into the
// cache as it streams.
type HTTPFeed struct {
	base   string
	client *http.Client
	cache  *Cache
	logger *slog.Logger
}

// HTTPOption configures an HTTPFeed.
type HTTPOption func(*HTTPFeed)

// WithHTTPClient replaces the default retrying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFeed) { f.client = c }
}

// WithCache attaches the shared response cache.
func WithCache(c *Cache) HTTPOption {
	return func(f *HTTPFeed) { f.cache = c }
}

// WithHTTPLogger sets the feed's logger. A nil logger is ignored.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(f *HTTPFeed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewHTTP builds a feed over the given base URL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTPFeed {
	f := &HTTPFeed{
		base:   strings.TrimRight(baseURL, "/"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &netutil.RetryTransport{
				OnRetry: func(attempt int, wait time.Duration, status int) {
					f.logger.Warn("retrying feed request",
						"feed", netutil.StripCredentials(f.base),
						"attempt", attempt,
						"wait", wait,
						"status", status)
				},
			},
		}
	}
	return f
}

// URL identifies the source; it keys the response cache.
func (f *HTTPFeed) URL() string { return f.base }

// feedIndex mirrors a package's index.json document.
type feedIndex struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

// Versions lists the feed's versions of a package, with the feed's own
// spelling of the name.
func (f *HTTPFeed) Versions(ctx context.Context, name string) (string, []*version.Version, error) {
	key := strings.ToLower(name) + "/index.json"
	data, cached := f.cache.Get(f.base, key, listExpiry)
	if !cached {
		var err error
		data, err = f.get(ctx, name+"/index.json")
		if err != nil {
			return "", nil, err
		}
		f.cache.Put(f.base, key, data)
	}

	var idx feedIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", nil, fmt.Errorf("feed %s: parse index for %s: %w", netutil.StripCredentials(f.base), name, err)
	}
	actual := idx.Name
	if actual == "" {
		actual = name
	}
	versions := make([]*version.Version, 0, len(idx.Versions))
	for _, s := range idx.Versions {
		v, err := version.Parse(s)
		if err != nil {
			f.logger.Warn("skipping unparseable version in feed index",
				"feed", netutil.StripCredentials(f.base), "package", actual, "version", s)
			continue
		}
		versions = append(versions, v)
	}
	return actual, versions, nil
}

// Manifest fetches the package manifest for a concrete version.
func (f *HTTPFeed) Manifest(ctx context.Context, name string, v *version.Version) (*manifest.Project, error) {
	key := strings.ToLower(name) + "/" + v.String() + "/" + manifest.FileName
	data, cached := f.cache.Get(f.base, key, 0)
	if !cached {
		var err error
		data, err = f.get(ctx, name+"/"+v.String()+"/"+manifest.FileName)
		if err != nil {
			return nil, err
		}
		f.cache.Put(f.base, key, data)
	}
	return manifest.ParseBytes(data, name)
}

// Download streams the package archive into w.
func (f *HTTPFeed) Download(ctx context.Context, name string, v *version.Version, w io.Writer) error {
	key := strings.ToLower(name) + "/" + v.String() + "/archive"
	if data, ok := f.cache.Get(f.base, key, 0); ok {
		_, err := w.Write(data)
		return err
	}

	resp, err := f.do(ctx, name+"/"+v.String()+"/"+name+"."+v.String()+".kpkg")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(w, &buf), resp.Body); err != nil {
		return fmt.Errorf("feed %s: download %s %s: %w", netutil.StripCredentials(f.base), name, v, err)
	}
	f.cache.Put(f.base, key, buf.Bytes())
	return nil
}

func (f *HTTPFeed) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := f.do(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(netutil.NewLimitedReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("feed %s: read %s: %w", netutil.StripCredentials(f.base), path, err)
	}
	return data, nil
}

func (f *HTTPFeed) do(ctx context.Context, path string) (*http.Response, error) {
	url := f.base + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed %s: build request: %w", netutil.StripCredentials(f.base), err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", netutil.StripCredentials(f.base), err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("feed %s: %s: %w", netutil.StripCredentials(f.base), path, ErrNotInFeed)
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("feed %s: GET %s: unexpected status %s", netutil.StripCredentials(f.base), path, resp.Status)
	}
	return resp, nil
}
