// Package artifact decides when derived files are stale and publishes
// rebuilt files atomically.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// MissingArtifactError reports a required input that does not exist.
type MissingArtifactError struct {
	Kind string
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing %s artifact at %s", e.Kind, e.Path)
}

// Require returns a MissingArtifactError when path does not exist.
func Require(kind, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingArtifactError{Kind: kind, Path: path}
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}

// Policy decides whether target must be rebuilt from sources.
type Policy interface {
	Stale(target string, sources ...string) (bool, error)
}

// ModTimePolicy rebuilds when the target is missing or older than any source.
type ModTimePolicy struct{}

func (ModTimePolicy) Stale(target string, sources ...string) (bool, error) {
	ti, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", target, err)
	}
	for _, s := range sources {
		si, err := os.Stat(s)
		if errors.Is(err, fs.ErrNotExist) {
			return false, &MissingArtifactError{Kind: "source", Path: s}
		}
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", s, err)
		}
		if si.ModTime().After(ti.ModTime()) {
			return true, nil
		}
	}
	return false, nil
}

// ForcePolicy always rebuilds.
type ForcePolicy struct{}

func (ForcePolicy) Stale(string, ...string) (bool, error) { return true, nil }

// PolicyFor returns ForcePolicy when force is set and ModTimePolicy otherwise.
func PolicyFor(force bool) Policy {
	if force {
		return ForcePolicy{}
	}
	return ModTimePolicy{}
}

// Build runs build when the policy reports target as stale. The output is
// written to a temporary file in the target directory and renamed over the
// target once build succeeds, so readers never observe a partial file. It
// reports whether a rebuild happened.
func Build(p Policy, target string, sources []string, build func(w io.Writer) error) (bool, error) {
	stale, err := p.Stale(target, sources...)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}
	return true, WriteAtomic(target, build)
}

// WriteAtomic writes the output of write to path using a temp file and rename.
func WriteAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// BuildFile is Build for producers that need a file path rather than a
// writer, such as databases. build receives a temporary path in the target
// directory that is renamed over target on success.
func BuildFile(p Policy, target string, sources []string, build func(tmpPath string) error) (bool, error) {
	stale, err := p.Stale(target, sources...)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp for %s: %w", target, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(tmpPath)
	if err := build(tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("build %s: %w", target, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("publish %s: %w", target, err)
	}
	return true, nil
}
