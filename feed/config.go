package feed

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/kiln-host/kiln/netutil"
)

// ConfigFileName is the source configuration looked up next to the
// project when no --configfile is given.
const ConfigFileName = "kiln.sources.yaml"

// SourceConfig is one configured package source.
type SourceConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the parsed source configuration. Fallback sources are
// consulted only for packages no primary source carries.
type Config struct {
	Sources         []SourceConfig `yaml:"sources"`
	FallbackSources []SourceConfig `yaml:"fallbackSources"`
}

// LoadConfig reads and validates a source configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing source config %s: %w", path, err)
	}

	for _, s := range append(append([]SourceConfig{}, cfg.Sources...), cfg.FallbackSources...) {
		if s.URL == "" {
			return nil, fmt.Errorf("source config %s: source %q has no url", path, s.Name)
		}
		if !netutil.IsHTTPS(s.URL) && !netutil.IsOCI(s.URL) {
			return nil, fmt.Errorf("source config %s: source %s: only https:// and oci:// sources are supported",
				path, netutil.StripCredentials(s.URL))
		}
	}
	return &cfg, nil
}

// Open builds the Feed for one configured source.
func (s SourceConfig) Open(cache *Cache, logger *slog.Logger) (Feed, error) {
	if netutil.IsOCI(s.URL) {
		return NewOCI(s.URL,
			WithOCICredentials(s.Username, s.Password),
			WithOCICache(cache),
			WithOCILogger(logger))
	}
	return NewHTTP(s.URL, WithCache(cache), WithHTTPLogger(logger)), nil
}

// OpenAll builds feeds for the primary then fallback sources, in
// declaration order.
func (c *Config) OpenAll(cache *Cache, logger *slog.Logger) ([]Feed, error) {
	all := append(append([]SourceConfig{}, c.Sources...), c.FallbackSources...)
	feeds := make([]Feed, 0, len(all))
	for _, s := range all {
		f, err := s.Open(cache, logger)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}
