package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/kiln-host/kiln/manifest"
	"github.com/kiln-host/kiln/netutil"
	"github.com/kiln-host/kiln/version"
)

// Layer media types for packages published to OCI registries.
const (
	MediaTypePackage  = "application/vnd.kiln.package.v1+zip"
	MediaTypeManifest = "application/vnd.kiln.manifest.v1+json"
)

// OCIFeed reads packages from an OCI registry. The source URL is
// oci://<registry>/<namespace>; each package is the repository
// <namespace>/<lowercase name> and each version is a tag. Artifacts
// carry the project manifest and the package archive as layers.
type OCIFeed struct {
	raw       string
	registry  string
	namespace string
	username  string
	password  string
	cache     *Cache
	logger    *slog.Logger
}

// OCIOption configures an OCIFeed.
type OCIOption func(*OCIFeed)

// WithOCICredentials sets the registry credentials.
func WithOCICredentials(username, password string) OCIOption {
	return func(f *OCIFeed) { f.username, f.password = username, password }
}

// WithOCICache attaches the shared response cache.
func WithOCICache(c *Cache) OCIOption {
	return func(f *OCIFeed) { f.cache = c }
}

// WithOCILogger sets the feed's logger. A nil logger is ignored.
func WithOCILogger(l *slog.Logger) OCIOption {
	return func(f *OCIFeed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewOCI builds a feed over an oci:// source URL.
func NewOCI(sourceURL string, opts ...OCIOption) (*OCIFeed, error) {
	if !netutil.IsOCI(sourceURL) {
		return nil, fmt.Errorf("source %s: not an oci:// URL", netutil.StripCredentials(sourceURL))
	}
	trimmed := strings.TrimPrefix(sourceURL, "oci://")
	registry, namespace, _ := strings.Cut(strings.Trim(trimmed, "/"), "/")
	if registry == "" {
		return nil, fmt.Errorf("source %s: missing registry host", netutil.StripCredentials(sourceURL))
	}

	f := &OCIFeed{
		raw:       sourceURL,
		registry:  registry,
		namespace: namespace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// URL identifies the source; it keys the response cache.
func (f *OCIFeed) URL() string { return f.raw }

func (f *OCIFeed) repository(name string) (*remote.Repository, error) {
	ref := f.registry + "/" + strings.ToLower(name)
	if f.namespace != "" {
		ref = f.registry + "/" + f.namespace + "/" + strings.ToLower(name)
	}
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("feed %s: repository %s: %w", netutil.StripCredentials(f.raw), ref, err)
	}
	if f.username != "" {
		repo.Client = &auth.Client{
			Credential: auth.StaticCredential(f.registry, auth.Credential{
				Username: f.username,
				Password: f.password,
			}),
		}
	}
	return repo, nil
}

// Versions lists the repository's tags as package versions. The OCI
// protocol has no canonical-spelling channel, so the requested name is
// echoed back.
func (f *OCIFeed) Versions(ctx context.Context, name string) (string, []*version.Version, error) {
	repo, err := f.repository(name)
	if err != nil {
		return "", nil, err
	}

	var tags []string
	err = repo.Tags(ctx, "", func(page []string) error {
		tags = append(tags, page...)
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("feed %s: list tags for %s: %w", netutil.StripCredentials(f.raw), name, err)
	}

	versions := make([]*version.Version, 0, len(tags))
	for _, tag := range tags {
		v, err := version.Parse(tag)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return "", nil, fmt.Errorf("feed %s: %s: %w", netutil.StripCredentials(f.raw), name, ErrNotInFeed)
	}
	return name, versions, nil
}

// Manifest fetches the manifest layer of the tagged artifact.
func (f *OCIFeed) Manifest(ctx context.Context, name string, v *version.Version) (*manifest.Project, error) {
	key := strings.ToLower(name) + "/" + v.String() + "/" + manifest.FileName
	if data, ok := f.cache.Get(f.raw, key, 0); ok {
		return manifest.ParseBytes(data, name)
	}

	data, err := f.fetchLayer(ctx, name, v, MediaTypeManifest, nil)
	if err != nil {
		return nil, err
	}
	f.cache.Put(f.raw, key, data)
	return manifest.ParseBytes(data, name)
}

// Download streams the package archive layer into w.
func (f *OCIFeed) Download(ctx context.Context, name string, v *version.Version, w io.Writer) error {
	_, err := f.fetchLayer(ctx, name, v, MediaTypePackage, w)
	return err
}

// fetchLayer pulls the tagged artifact into memory and returns the
// first layer with the wanted media type. With a non-nil w the layer
// streams there instead and the returned slice is nil.
func (f *OCIFeed) fetchLayer(ctx context.Context, name string, v *version.Version, mediaType string, w io.Writer) ([]byte, error) {
	repo, err := f.repository(name)
	if err != nil {
		return nil, err
	}

	store := memory.New()
	desc, err := oras.Copy(ctx, repo, v.String(), store, v.String(), oras.DefaultCopyOptions)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("feed %s: %s %s: %w", netutil.StripCredentials(f.raw), name, v, ErrNotInFeed)
		}
		return nil, fmt.Errorf("feed %s: pull %s %s: %w", netutil.StripCredentials(f.raw), name, v, err)
	}

	man, err := f.artifactManifest(ctx, store, desc)
	if err != nil {
		return nil, err
	}
	for _, layer := range man.Layers {
		if layer.MediaType != mediaType {
			continue
		}
		rc, err := store.Fetch(ctx, layer)
		if err != nil {
			return nil, fmt.Errorf("feed %s: fetch layer %s: %w", netutil.StripCredentials(f.raw), layer.Digest, err)
		}
		defer func() { _ = rc.Close() }()
		if w != nil {
			_, err = io.Copy(w, rc)
			return nil, err
		}
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("feed %s: %s %s: artifact has no %s layer", netutil.StripCredentials(f.raw), name, v, mediaType)
}

func (f *OCIFeed) artifactManifest(ctx context.Context, store *memory.Store, desc ocispec.Descriptor) (*ocispec.Manifest, error) {
	rc, err := store.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("feed %s: fetch manifest: %w", netutil.StripCredentials(f.raw), err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("feed %s: read manifest: %w", netutil.StripCredentials(f.raw), err)
	}
	var man ocispec.Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("feed %s: invalid artifact manifest: %w", netutil.StripCredentials(f.raw), err)
	}
	return &man, nil
}
