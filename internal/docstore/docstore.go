// Package docstore manages the generated-document tree on disk.
//
// The external tool writes one directory per profile under the output root,
// containing `<profile>_<airac>.pdf` and optionally an `_ocr` variant. This
// package lists, resolves, deletes, and bulk-cleans those artifacts; every
// client-supplied path component is validated before it touches the
// filesystem.
package docstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aerodocs/aipdeck/internal/model"
)

// ErrInvalidPath is returned when a requested path escapes the output root
// or contains illegal components.
var ErrInvalidPath = errors.New("docstore: invalid path")

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("docstore: not found")

// Store provides access to the generated PDFs and the tool's cache directory.
type Store struct {
	outputDir    string
	cacheDir     string
	minFreeBytes uint64
	logger       *slog.Logger
}

// New creates a Store rooted at outputDir. minFreeBytes is the free-space
// floor enforced by CheckFreeSpace (0 disables the check).
func New(outputDir, cacheDir string, minFreeBytes uint64, logger *slog.Logger) *Store {
	return &Store{
		outputDir:    outputDir,
		cacheDir:     cacheDir,
		minFreeBytes: minFreeBytes,
		logger:       logger,
	}
}

// OutputDir returns the output root.
func (s *Store) OutputDir() string { return s.outputDir }

// EnsureDirs creates the output and cache roots if missing.
func (s *Store) EnsureDirs() error {
	for _, dir := range []string{s.outputDir, s.cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("docstore: create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureProfileDir creates the per-profile output directory. The name must
// already be validated profile input.
func (s *Store) EnsureProfileDir(name string) error {
	if err := validComponent(name); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.outputDir, name), 0o755); err != nil {
		return fmt.Errorf("docstore: create profile dir: %w", err)
	}
	return nil
}

// ArtifactPaths returns the plain and OCR output paths for a profile and
// AIRAC cycle.
func (s *Store) ArtifactPaths(profile, cycle string) (pdf, ocr string) {
	base := filepath.Join(s.outputDir, profile, profile+"_"+cycle)
	return base + ".pdf", base + "_ocr.pdf"
}

// List returns every generated PDF, newest first.
func (s *Store) List() ([]model.Document, error) {
	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Document{}, nil
		}
		return nil, fmt.Errorf("docstore: read output dir: %w", err)
	}

	docs := []model.Document{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		profile := entry.Name()
		files, err := os.ReadDir(filepath.Join(s.outputDir, profile))
		if err != nil {
			s.logger.Warn("docstore: skip unreadable profile dir", "profile", profile, "error", err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".pdf") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			stem := strings.TrimSuffix(f.Name(), ".pdf")
			isOCR := strings.HasSuffix(stem, "_ocr")
			stem = strings.TrimSuffix(stem, "_ocr")
			// Filenames follow "<profile>_<airac>"; everything after the
			// first underscore is treated as the cycle date.
			airac := stem
			if _, rest, ok := strings.Cut(stem, "_"); ok {
				airac = rest
			}
			docs = append(docs, model.Document{
				Name:      f.Name(),
				Profile:   profile,
				AiracDate: airac,
				Path:      filepath.Join(profile, f.Name()),
				Size:      info.Size(),
				Modified:  info.ModTime().UTC(),
				IsOCR:     isOCR,
			})
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Modified.After(docs[j].Modified) })
	return docs, nil
}

// Resolve validates profile and filename and returns the absolute path of an
// existing document file. Returns ErrInvalidPath for traversal attempts and
// ErrNotFound when the file is absent.
func (s *Store) Resolve(profile, filename string) (string, error) {
	if err := validComponent(profile); err != nil {
		return "", err
	}
	if err := validComponent(filename); err != nil {
		return "", err
	}

	path := filepath.Join(s.outputDir, profile, filename)
	// Symlinks inside the tree could still point outside the root.
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("docstore: resolve %s: %w", path, err)
	}
	root, err := filepath.EvalSymlinks(s.outputDir)
	if err != nil {
		return "", fmt.Errorf("docstore: resolve output dir: %w", err)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("docstore: stat %s: %w", resolved, err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrInvalidPath
	}
	return resolved, nil
}

// Delete removes a single document.
func (s *Store) Delete(profile, filename string) error {
	path, err := s.Resolve(profile, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("docstore: delete %s: %w", path, err)
	}
	s.logger.Info("document deleted", "profile", profile, "file", filename)
	return nil
}

// Cleanup wipes the cache directory and/or the output directory. When the
// output is wiped, the per-profile directories for the given profiles are
// recreated. Returns human-readable descriptions of what was done.
func (s *Store) Cleanup(deleteCache, deleteOutput bool, profiles []string) ([]string, error) {
	var results []string

	if deleteCache {
		if err := clearDir(s.cacheDir); err != nil {
			return results, fmt.Errorf("docstore: clear cache: %w", err)
		}
		results = append(results, "Cache cleared")
	}

	if deleteOutput {
		if err := clearDir(s.outputDir); err != nil {
			return results, fmt.Errorf("docstore: clear output: %w", err)
		}
		for _, name := range profiles {
			if err := s.EnsureProfileDir(name); err != nil {
				s.logger.Warn("docstore: recreate profile dir", "profile", name, "error", err)
			}
		}
		results = append(results, "Documents deleted")
	}

	if len(results) > 0 {
		s.logger.Info("cleanup performed", "actions", strings.Join(results, ", "))
	}
	return results, nil
}

// clearDir removes every entry of dir except .gitkeep, keeping dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.Name() == ".gitkeep" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// validComponent rejects empty, dot, and separator-bearing path components.
func validComponent(part string) error {
	if part == "" || part == "." || part == ".." {
		return ErrInvalidPath
	}
	if strings.ContainsAny(part, `/\`) {
		return ErrInvalidPath
	}
	return nil
}
