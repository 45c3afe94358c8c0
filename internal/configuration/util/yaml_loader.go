package util

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrConfigNotFound = errors.New("config file not found")

// LoadAndExpandYaml reads name.yml, or name.yaml when that is absent, from
// dir and expands environment references in it.
func LoadAndExpandYaml(dir, name string) (string, error) {
	var raw []byte
	var err error
	for _, ext := range []string{".yml", ".yaml"} {
		raw, err = os.ReadFile(filepath.Join(dir, name+ext))
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s.yml in %s", ErrConfigNotFound, name, dir)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}

	expanded, err := ExpandEnvStrict(string(raw))
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", name, err)
	}
	return expanded, nil
}
