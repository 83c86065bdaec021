package configutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func localVariant(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

func readInto[T any](path string, out *T) (bool, error) {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	return true, json5.Unmarshal(contents, out)
}

// ReadConfig reads `<name>` and, if present, merges `<base>.local.<ext>`
// on top of it. Returns os.ErrNotExist when neither file exists.
func ReadConfig[T any](name string) (T, error) {
	var out T

	found, err := readInto(name, &out)
	if err != nil {
		return out, err
	}

	var override T
	localPath := localVariant(name)
	foundLocal, err := readInto(localPath, &override)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	if !found && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively is ReadConfig but it walks up the filesystem from the
// cwd until it finds a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	current, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return zero, os.ErrNotExist
		}
		current = parent
	}
}
