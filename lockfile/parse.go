package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiln-host/kiln/version"
)

// Parse decodes a lock document. Key order of the framework map is
// preserved, so validation and rewriting see the declared order.
func Parse(data []byte) (*LockFile, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	lf := &LockFile{}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		switch key {
		case "locked":
			if err := decodeValue(dec, &lf.Locked); err != nil {
				return nil, fmt.Errorf("parse locked: %w", err)
			}
		case "version":
			if err := decodeValue(dec, &lf.Version); err != nil {
				return nil, fmt.Errorf("parse version: %w", err)
			}
		case "frameworkDependencies":
			groups, err := parseFrameworkDependencies(dec)
			if err != nil {
				return nil, err
			}
			lf.FrameworkDependencies = groups
		case "libraries":
			libs, err := parseLibraries(dec)
			if err != nil {
				return nil, err
			}
			lf.Libraries = libs
		default:
			var skip json.RawMessage
			if err := decodeValue(dec, &skip); err != nil {
				return nil, fmt.Errorf("parse %s: %w", key, err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if lf.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported lock file version %d", lf.Version)
	}
	return lf, nil
}

func parseFrameworkDependencies(dec *json.Decoder) ([]FrameworkDependencies, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("parse frameworkDependencies: %w", err)
	}
	var groups []FrameworkDependencies
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, fmt.Errorf("parse frameworkDependencies: %w", err)
		}
		var deps []string
		if err := decodeValue(dec, &deps); err != nil {
			return nil, fmt.Errorf("parse frameworkDependencies %q: %w", key, err)
		}
		groups = append(groups, FrameworkDependencies{Framework: key, Dependencies: deps})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("parse frameworkDependencies: %w", err)
	}
	return groups, nil
}

func parseLibraries(dec *json.Decoder) ([]*Library, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("parse libraries: %w", err)
	}
	var libs []*Library
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, fmt.Errorf("parse libraries: %w", err)
		}
		name, verStr, ok := strings.Cut(key, "/")
		if !ok {
			return nil, fmt.Errorf("library key %q: want name/version", key)
		}
		v, err := version.Parse(verStr)
		if err != nil {
			return nil, fmt.Errorf("library key %q: %w", key, err)
		}

		var raw struct {
			SHA                 string              `json:"sha"`
			DependencySets      map[string][]string `json:"dependencySets"`
			FrameworkAssemblies map[string][]string `json:"frameworkAssemblies"`
			Files               []string            `json:"files"`
		}
		if err := decodeValue(dec, &raw); err != nil {
			return nil, fmt.Errorf("library %q: %w", key, err)
		}
		libs = append(libs, &Library{
			Name:                name,
			Version:             v,
			SHA:                 raw.SHA,
			DependencySets:      raw.DependencySets,
			FrameworkAssemblies: raw.FrameworkAssemblies,
			Files:               raw.Files,
		})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("parse libraries: %w", err)
	}
	sortLibraries(libs)
	return libs, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("want %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("want object key, got %v", tok)
	}
	return s, nil
}

func decodeValue(dec *json.Decoder, v any) error {
	return dec.Decode(v)
}
