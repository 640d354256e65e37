package store

import (
	"archive/zip"
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kiln-host/kiln/netutil"
	"github.com/kiln-host/kiln/version"
)

// ArchiveExtension is the package archive suffix kept alongside the
// extracted tree for sha recomputation.
const ArchiveExtension = ".kpkg"

// maxArchiveBytes bounds how much of a package stream is buffered in
// memory during install.
const maxArchiveBytes = 512 << 20

var (
	// ErrNotFound is returned when a (name, version) is not installed.
	ErrNotFound = errors.New("package not found in store")

	// ErrIntegrity is the sentinel for content-hash mismatches.
	ErrIntegrity = errors.New("integrity check failed")
)

// Store is the shared on-disk package store. Layout:
// <root>/<name>/<version>/ holding the original archive plus its
// extracted tree. Shared across processes; inter-process safety relies
// on rename-into-place.
type Store struct {
	root   string
	logger *slog.Logger

	mu        sync.Mutex
	inflight  map[string]*sync.Once
	installed map[string]error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".kiln", "packages")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	s := &Store{
		root:      dir,
		logger:    slog.Default(),
		inflight:  make(map[string]*sync.Once),
		installed: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// PackageDir is the final install directory for (name, version).
func (s *Store) PackageDir(name, ver string) string {
	return filepath.Join(s.root, name, ver)
}

// ArchivePath is the location of the original package archive.
func (s *Store) ArchivePath(name, ver string) string {
	return filepath.Join(s.PackageDir(name, ver), name+"."+ver+ArchiveExtension)
}

// Lookup scans the store for a package directory matching name,
// case-insensitively. It returns the on-disk spelling and the installed
// versions, sorted ascending. A missing package yields an empty slice,
// not an error.
func (s *Store) Lookup(name string) (string, []*version.Version, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return name, nil, nil
		}
		return name, nil, fmt.Errorf("enumerating store: %w", err)
	}

	actual := ""
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), name) {
			actual = e.Name()
			break
		}
	}
	if actual == "" {
		return name, nil, nil
	}

	versionDirs, err := os.ReadDir(filepath.Join(s.root, actual))
	if err != nil {
		return actual, nil, fmt.Errorf("enumerating versions of %s: %w", actual, err)
	}
	var versions []*version.Version
	for _, e := range versionDirs {
		if !e.IsDir() || strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		v, err := version.Parse(e.Name())
		if err != nil {
			// Foreign directories are tolerated, not fatal.
			s.logger.Debug("skipping unparseable version directory",
				"package", actual, "dir", e.Name())
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Compare(versions[j]) < 0 })
	return actual, versions, nil
}

// Installed reports whether (name, version) is present.
func (s *Store) Installed(name, ver string) bool {
	_, err := os.Stat(s.ArchivePath(name, ver))
	return err == nil
}

// Install streams a package archive into the store: the bytes are
// buffered (bounded), hashed with sha512 while streaming, written to a
// temp directory, extracted, and renamed into place. Concurrent installs
// of the same identity coordinate first-writer-wins; within the process
// a per-identity once prevents duplicate work.
func (s *Store) Install(name, ver string, r io.Reader) (Digest, error) {
	key := name + "/" + ver

	s.mu.Lock()
	once, ok := s.inflight[key]
	if !ok {
		once = &sync.Once{}
		s.inflight[key] = once
	}
	s.mu.Unlock()

	var digest Digest
	once.Do(func() {
		d, err := s.install(name, ver, r)
		s.mu.Lock()
		s.installed[key] = err
		s.mu.Unlock()
		digest = d
	})

	s.mu.Lock()
	err := s.installed[key]
	s.mu.Unlock()
	if err != nil {
		return Digest{}, err
	}
	if digest.IsZero() {
		// Another caller completed the install; recompute from disk.
		return s.SHA(name, ver)
	}
	return digest, nil
}

func (s *Store) install(name, ver string, r io.Reader) (Digest, error) {
	if s.Installed(name, ver) {
		s.logger.Debug("package already installed", "package", name, "version", ver)
		return s.SHA(name, ver)
	}

	hasher := sha512.New()
	var buf bytes.Buffer
	limited := netutil.NewLimitedReader(r, maxArchiveBytes)
	if _, err := io.Copy(&buf, io.TeeReader(limited, hasher)); err != nil {
		return Digest{}, fmt.Errorf("reading package %s %s: %w", name, ver, err)
	}
	digest := NewDigest(base64.StdEncoding.EncodeToString(hasher.Sum(nil)))

	tmp := filepath.Join(s.root, name, fmt.Sprintf("%s.tmp-%d", ver, os.Getpid()))
	if err := os.MkdirAll(tmp, 0o750); err != nil {
		return Digest{}, fmt.Errorf("create temp install dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	archiveName := name + "." + ver + ArchiveExtension
	if err := os.WriteFile(filepath.Join(tmp, archiveName), buf.Bytes(), 0o640); err != nil {
		return Digest{}, fmt.Errorf("write archive: %w", err)
	}
	if err := extractZip(buf.Bytes(), tmp); err != nil {
		return Digest{}, fmt.Errorf("extract %s %s: %w", name, ver, err)
	}

	final := s.PackageDir(name, ver)
	if err := os.Rename(tmp, final); err != nil {
		if s.Installed(name, ver) {
			// Lost the race to another process; its install stands.
			s.logger.Debug("install raced, keeping existing package",
				"package", name, "version", ver)
			return s.SHA(name, ver)
		}
		return Digest{}, fmt.Errorf("finalise install of %s %s: %w", name, ver, err)
	}

	s.logger.Info("installed package", "package", name, "version", ver, "sha", digest.String())
	return digest, nil
}

// SHA recomputes the digest of the installed archive for (name, version).
func (s *Store) SHA(name, ver string) (Digest, error) {
	f, err := os.Open(s.ArchivePath(name, ver))
	if err != nil {
		if os.IsNotExist(err) {
			return Digest{}, fmt.Errorf("%w: %s %s", ErrNotFound, name, ver)
		}
		return Digest{}, err
	}
	defer func() { _ = f.Close() }()
	return ComputeDigest(f)
}

// Verify checks the installed archive against an expected digest.
func (s *Store) Verify(name, ver string, expected Digest) error {
	actual, err := s.SHA(name, ver)
	if err != nil {
		return err
	}
	if !expected.Equals(actual) {
		return &IntegrityError{Name: name, Version: ver, Expected: expected, Actual: actual}
	}
	return nil
}

// extractZip unpacks archive bytes under dir, refusing entries that
// would escape it.
func extractZip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	cleanRoot := filepath.Clean(dir)
	for _, f := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(filepath.Clean(target), cleanRoot+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes install directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(filepath.Clean(target), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, rc)
	return err
}
