// Package scanner discovers indexable source files under a codebase root.
//
// The walk is lexical and deterministic. Directories on the skip list,
// symlinked directories, and gitignored paths are never descended into or
// yielded. Every surviving candidate passes the security gate; refusals
// are logged and skipped rather than failing the scan.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/clarsbyte/washedmcp/internal/security"
)

// StoreDirName is the tool's own on-disk directory, always excluded from
// scans so an index never indexes itself.
const StoreDirName = ".washedmcp"

// skipDirs are directory names never descended into
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".env":         true,
	"dist":         true,
	"build":        true,
	StoreDirName:   true,
}

// defaultExtensions are the source extensions yielded by default
var defaultExtensions = map[string]bool{
	".go": true,
}

// Config controls scan behavior
type Config struct {
	// MaxFileSizeMB overrides the default per-file size limit
	MaxFileSizeMB float64
	// Extensions overrides the default source extension set
	Extensions []string
	// Logger receives skip diagnostics; defaults to the standard logger
	Logger *log.Logger
}

// Scanner walks a codebase root and yields files that pass the gate
type Scanner struct {
	maxFileSizeMB float64
	extensions    map[string]bool
	logger        *log.Logger
}

// New creates a scanner with the given configuration
func New(cfg Config) *Scanner {
	s := &Scanner{
		maxFileSizeMB: cfg.MaxFileSizeMB,
		extensions:    defaultExtensions,
		logger:        cfg.Logger,
	}
	if s.maxFileSizeMB <= 0 {
		s.maxFileSizeMB = security.MaxFileSizeMB
	}
	if len(cfg.Extensions) > 0 {
		s.extensions = make(map[string]bool, len(cfg.Extensions))
		for _, ext := range cfg.Extensions {
			s.extensions[strings.ToLower(ext)] = true
		}
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

// Scan walks root and returns the absolute paths of all indexable files in
// lexical order. The context is checked as the walk proceeds, so a
// cancelled scan returns promptly with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	root, err := security.SanitizePath(root)
	if err != nil {
		return nil, err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absRoot)
	}

	matcher := s.loadIgnoreMatcher(absRoot)

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			s.logger.Printf("scan: skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			rel = path
		}

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			if matcher != nil && matcher.MatchesPath(rel+"/") {
				return fs.SkipDir
			}
			return nil
		}

		// WalkDir does not follow symlinks, so a symlinked directory shows
		// up here as a non-dir entry and is dropped with its target
		// unexplored unless the extension matches a source file.
		if !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		if safe, reason := security.IsSafeToIndex(path, absRoot, s.maxFileSizeMB); !safe {
			s.logger.Printf("scan: refusing %s: %s", rel, reason)
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// loadIgnoreMatcher compiles .gitignore patterns from the root and any
// nested .gitignore files into one matcher. Nested pattern scoping is
// approximated by merging; the built-in skip list covers the common cases
// regardless.
func (s *Scanner) loadIgnoreMatcher(root string) gitignore.IgnoreParser {
	var patterns []string

	rootIgnore := filepath.Join(root, ".gitignore")
	if lines, err := readIgnoreLines(rootIgnore); err == nil {
		patterns = append(patterns, lines...)
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" || path == rootIgnore {
			return nil
		}
		if lines, err := readIgnoreLines(path); err == nil {
			patterns = append(patterns, lines...)
		}
		return nil
	})

	if len(patterns) == 0 {
		return nil
	}
	return gitignore.CompileIgnoreLines(patterns...)
}

// readIgnoreLines reads non-empty, non-comment lines from an ignore file
func readIgnoreLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
