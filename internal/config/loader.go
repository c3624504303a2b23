package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey names files merged underneath the file that lists them.
// "include" is accepted as an alias.
const includeKey = "$include"

var errIncludeCycle = errors.New("include cycle")

// FileError ties a load failure to the file it came from.
type FileError struct {
	Path         string
	IncludedFrom string
	Err          error
}

func (e *FileError) Error() string {
	if e.IncludedFrom != "" {
		return fmt.Sprintf("%s (included from %s): %v", e.Path, e.IncludedFrom, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// LoadRaw reads path and everything it includes into one raw map. Includes
// are merged first, in order, and the including file wins on conflicts.
// Every file is checked against the config schema on its own.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	r := &rawReader{open: map[string]bool{}}
	return r.read(path, "")
}

// rawReader walks the include graph. open holds the files on the current
// include chain.
type rawReader struct {
	open map[string]bool
}

func (r *rawReader) read(path, parent string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fail := func(err error) error {
		return &FileError{Path: abs, IncludedFrom: parent, Err: err}
	}
	if r.open[abs] {
		return nil, fail(errIncludeCycle)
	}
	r.open[abs] = true
	defer delete(r.open, abs)

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fail(err)
	}
	raw, err := decodeFile(abs, []byte(expandEnv(string(data))))
	if err != nil {
		return nil, fail(err)
	}
	includes, err := popIncludes(raw)
	if err != nil {
		return nil, fail(err)
	}
	if err := checkFragment(raw); err != nil {
		return nil, fail(err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		sub, err := r.read(inc, abs)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, sub)
	}
	mergeInto(merged, raw)
	return merged, nil
}

// expandEnv replaces ${VAR} and $VAR references. ${VAR:-fallback} yields the
// fallback when VAR is unset or empty. The $include directive is left alone.
func expandEnv(text string) string {
	return os.Expand(text, func(key string) string {
		if key == strings.TrimPrefix(includeKey, "$") {
			return includeKey
		}
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" || !hasFallback {
			return value
		}
		return fallback
	})
}

// decodeFile parses .json and .json5 files as JSON5 and anything else as a
// single YAML document.
func decodeFile(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := decodeSingleYAML(data, &raw, false); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func decodeSingleYAML(data []byte, dst any, strict bool) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(strict)
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("expected a single YAML document")
	}
	return nil
}

// popIncludes removes the include directive from raw and returns its
// non-blank paths.
func popIncludes(raw map[string]any) ([]string, error) {
	var value any
	for _, key := range []string{includeKey, "include"} {
		if v, ok := raw[key]; ok {
			value = v
			delete(raw, key)
			break
		}
	}

	var paths []string
	switch typed := value.(type) {
	case nil:
	case string:
		paths = []string{typed}
	case []any:
		for _, entry := range typed {
			path, ok := entry.(string)
			if !ok {
				return nil, errors.New("include entries must be strings")
			}
			paths = append(paths, path)
		}
	default:
		return nil, errors.New("include must be a string or list of strings")
	}

	kept := paths[:0]
	for _, path := range paths {
		if strings.TrimSpace(path) != "" {
			kept = append(kept, path)
		}
	}
	return kept, nil
}

// mergeInto copies src over dst, merging nested maps key by key.
func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		nested, isMap := value.(map[string]any)
		existing, hasMap := dst[key].(map[string]any)
		if isMap && hasMap {
			mergeInto(existing, nested)
			continue
		}
		dst[key] = value
	}
}

// decodeRawConfig turns the merged map into a Config, rejecting unknown keys.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	if err := decodeSingleYAML(payload, &cfg, true); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
