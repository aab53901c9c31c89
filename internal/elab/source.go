package elab

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SourceProvider abstracts file I/O so elaboration can run against real
// contract trees or purely in-memory fixtures.
type SourceProvider interface {
	// ReadSource returns the source text at path.
	ReadSource(path string) (string, error)
	// ResolveImport resolves a relative import path against a base directory.
	ResolveImport(base, importPath string) (string, error)
	// Canonicalize normalizes a path for cycle detection and sandbox checks.
	Canonicalize(path string) (string, error)
}

// FSProvider is the default filesystem-backed provider.
type FSProvider struct{}

func (FSProvider) ReadSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (FSProvider) ResolveImport(base, importPath string) (string, error) {
	return filepath.Join(base, importPath), nil
}

func (FSProvider) Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// MemProvider maps paths to source text for tests and embedded use. Path
// normalization is purely lexical.
type MemProvider struct {
	files map[string]string
}

// NewMemProvider copies the given path-to-source map.
func NewMemProvider(files map[string]string) *MemProvider {
	m := make(map[string]string, len(files))
	for k, v := range files {
		m[normalizePath(k)] = v
	}
	return &MemProvider{files: m}
}

func normalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

func (m *MemProvider) ReadSource(path string) (string, error) {
	normalized := normalizePath(path)
	src, ok := m.files[normalized]
	if !ok {
		return "", fmt.Errorf("file not found in memory: %s", normalized)
	}
	return src, nil
}

func (m *MemProvider) ResolveImport(base, importPath string) (string, error) {
	return normalizePath(filepath.Join(base, importPath)), nil
}

func (m *MemProvider) Canonicalize(path string) (string, error) {
	normalized := normalizePath(path)
	// "." is the directory of every bare relative filename.
	if normalized == "." {
		return normalized, nil
	}
	if _, ok := m.files[normalized]; ok {
		return normalized, nil
	}
	// Accept directory prefixes of known files.
	for k := range m.files {
		if strings.HasPrefix(k, normalized+"/") {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("path not found in memory provider: %s", normalized)
}

// withinRoot reports whether path is root itself or sits beneath it.
// A root of "." contains every cleaned relative path that does not
// climb out through "..".
func withinRoot(path, root string) bool {
	path = filepath.ToSlash(path)
	root = filepath.ToSlash(root)
	if root == "." {
		return !filepath.IsAbs(path) && path != ".." && !strings.HasPrefix(path, "../")
	}
	return path == root || strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/")
}

// LimitProvider wraps another provider and enforces bundle-wide limits
// on how many files a contract may pull in and how large each may be.
// Limits of zero are unenforced.
type LimitProvider struct {
	Inner        SourceProvider
	MaxFiles     int
	MaxFileBytes int

	reads int
}

func (p *LimitProvider) ReadSource(path string) (string, error) {
	p.reads++
	if p.MaxFiles > 0 && p.reads > p.MaxFiles {
		return "", fmt.Errorf("bundle pulls in more than %d files", p.MaxFiles)
	}
	src, err := p.Inner.ReadSource(path)
	if err != nil {
		return "", err
	}
	if p.MaxFileBytes > 0 && len(src) > p.MaxFileBytes {
		return "", fmt.Errorf("contract file %s exceeds maximum size of %d bytes", path, p.MaxFileBytes)
	}
	return src, nil
}

func (p *LimitProvider) ResolveImport(base, importPath string) (string, error) {
	return p.Inner.ResolveImport(base, importPath)
}

func (p *LimitProvider) Canonicalize(path string) (string, error) {
	return p.Inner.Canonicalize(path)
}
