package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// fallbackFile holds developer secrets in KEY=VALUE lines. Keys are secret references, with or
// optionally pinned as NAME@VERSION; sm:// and bare paths are accepted too.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(canonical, version string) (string, bool, error) {
	f.once.Do(f.load)
	if value, ok := f.values[canonical+"#"+version]; ok {
		return value, true, f.err
	}
	value, ok := f.values[canonical]
	return value, ok, f.err
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", f.path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		key, pinned, _ := strings.Cut(key, "@")
		switch {
		case strings.HasPrefix(key, "sm://"):
			key = "secret://" + strings.TrimPrefix(key, "sm://")
		case !strings.HasPrefix(key, "secret://"):
			key = "secret://" + key
		}
		parsed, err := parseReference(key)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if pinned != "" {
			f.values[parsed.Canonical+"#"+pinned] = value
			continue
		}
		f.values[parsed.Canonical] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: failed reading %s: %w", f.path, err)
	}
}
