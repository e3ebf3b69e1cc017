package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinodismyname/datasavant/config"
	"github.com/vinodismyname/datasavant/internal/dataset"
)

// Manager enforces a directory allow-list for dataset files. Roots are stored
// as canonical absolute paths; requested files must resolve inside one of them
// and carry a loadable extension.
type Manager struct {
	allowedDirs []string
	allowedExts map[string]struct{}
}

// ErrNotAllowed indicates the requested path is outside the allow-list roots.
var ErrNotAllowed = errors.New("security: path not allowed")

// ErrUnsupportedExtension indicates the requested file extension is not supported.
var ErrUnsupportedExtension = errors.New("security: unsupported file extension")

// ErrNotFound indicates the requested file does not exist or is not accessible.
var ErrNotFound = errors.New("security: file not found")

// NewManager constructs a security manager given an allow-list of directories
// and a list of allowed file extensions (case-insensitive, with leading dot).
// An empty extension list allows every format the dataset loader reads.
func NewManager(allowDirs []string, allowedExtensions []string) (*Manager, error) {
	if len(allowedExtensions) == 0 {
		allowedExtensions = dataset.SupportedExtensions()
	}

	exts := make(map[string]struct{}, len(allowedExtensions))
	for _, e := range allowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || !strings.HasPrefix(e, ".") {
			return nil, fmt.Errorf("security: invalid extension: %q", e)
		}
		exts[e] = struct{}{}
	}

	m := &Manager{allowedExts: exts}
	for _, d := range allowDirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if err := m.addRoot(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) addRoot(d string) error {
	abs, err := filepath.Abs(strings.TrimSpace(d))
	if err != nil {
		return fmt.Errorf("security: resolve abs for %q: %w", d, err)
	}
	// Symlinked roots are resolved up front so they cannot be used to escape later.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return fmt.Errorf("security: eval symlinks for %q: %w", abs, err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return fmt.Errorf("security: stat %q: %w", real, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("security: allow-list entry is not a directory: %q", real)
	}
	real = filepath.Clean(real)
	for _, existing := range m.allowedDirs {
		if existing == real {
			return nil
		}
	}
	m.allowedDirs = append(m.allowedDirs, real)
	return nil
}

// NewManagerFromEnv reads SAVANT_ALLOWED_DIRS as a path list separated by
// os.PathListSeparator. When defaultDataset names an existing file, its
// directory is allowed as well so the fallback dataset always opens.
// With neither, the allow-list is empty (deny-by-default).
func NewManagerFromEnv(defaultDataset string) (*Manager, error) {
	var dirs []string
	if list := os.Getenv(config.EnvAllowedDirs); list != "" {
		dirs = filepath.SplitList(list)
	}
	m, err := NewManager(dirs, nil)
	if err != nil {
		return nil, err
	}
	if defaultDataset != "" {
		if info, statErr := os.Stat(defaultDataset); statErr == nil && !info.IsDir() {
			if err := m.addRoot(filepath.Dir(defaultDataset)); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// AllowedDirectories returns the canonical allow-list roots.
func (m *Manager) AllowedDirectories() []string {
	out := make([]string, len(m.allowedDirs))
	copy(out, m.allowedDirs)
	return out
}

// ValidateConfig returns an error when no allow-list entries are configured,
// so the server can start with dataset loading disabled until an operator
// provides directories.
func (m *Manager) ValidateConfig() error {
	if len(m.allowedDirs) == 0 {
		return errors.New("security: no allowed directories configured")
	}
	return nil
}

// ValidateOpenPath ensures the input path refers to an existing file with an
// allowed extension inside one of the configured allow-list directories.
// It returns the canonical absolute path suitable for opening.
func (m *Manager) ValidateOpenPath(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrNotAllowed
	}
	ext := strings.ToLower(filepath.Ext(input))
	if _, ok := m.allowedExts[ext]; !ok {
		return "", ErrUnsupportedExtension
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return "", fmt.Errorf("security: abs path: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("security: eval symlinks: %w", err)
	}

	info, err := os.Stat(real)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("security: stat: %w", err)
	}
	if info.IsDir() {
		return "", ErrNotAllowed
	}

	for _, root := range m.allowedDirs {
		if within(root, real) {
			return real, nil
		}
	}
	return "", ErrNotAllowed
}

// within reports whether path lies strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == "" {
		return false
	}
	rel = filepath.Clean(rel)
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
