package security

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Limits applied during indexing and search
const (
	// MaxFileSizeMB is the default per-file size limit for indexing
	MaxFileSizeMB = 10

	// MaxQueryLength is the maximum accepted search query length
	MaxQueryLength = 1000

	// ExpectedEmbeddingDim is the vector dimension every stored embedding
	// must have
	ExpectedEmbeddingDim = 384
)

// Sentinel errors for gate failures
var (
	ErrEmptyPath     = errors.New("path cannot be empty")
	ErrNullByte      = errors.New("input contains null bytes")
	ErrPathTraversal = errors.New("path escapes allowed directory")
	ErrUnsafeSymlink = errors.New("symlink points outside allowed directory")
	ErrFileTooLarge  = errors.New("file exceeds size limit")
	ErrEmptyQuery    = errors.New("query cannot be empty")
	ErrQueryTooLong  = errors.New("query exceeds maximum length")
	ErrBadDimension  = errors.New("embedding has wrong dimension")
	ErrNotFinite     = errors.New("embedding contains NaN or Inf")
	ErrUnsafeTarget  = errors.New("store target is not allowed")
)

// sensitiveFilePatterns match file names that must never be indexed,
// regardless of size or location. Matched case-insensitively against the
// base name.
var sensitiveFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.env$`),
	regexp.MustCompile(`(?i)\.env\.`),
	regexp.MustCompile(`(?i)credentials`),
	regexp.MustCompile(`(?i)secrets?\.`),
	regexp.MustCompile(`(?i)private[_-]?key`),
	regexp.MustCompile(`(?i)\.pem$`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)\.p12$`),
	regexp.MustCompile(`(?i)\.pfx$`),
	regexp.MustCompile(`(?i)id_rsa`),
	regexp.MustCompile(`(?i)id_dsa`),
	regexp.MustCompile(`(?i)id_ecdsa`),
	regexp.MustCompile(`(?i)id_ed25519`),
}

// forbiddenStoreRoots are locations a store may never be created directly in
var forbiddenStoreRoots = []string{"/", "/etc", "/usr", "/bin", "/sbin", "/boot", "/proc", "/sys", "/dev"}

// SanitizePath rejects empty paths and null-byte injection, then cleans the
// path. The result is lexically normalized but not resolved against the
// filesystem.
func SanitizePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path %q: %w", path, ErrNullByte)
	}
	return filepath.Clean(path), nil
}

// ValidatePath resolves path against baseDir and verifies the real
// (symlink-resolved) location stays inside baseDir. It returns the resolved
// absolute path. The containment check compares against the base plus a
// path separator so that /home/user does not admit /home/username.
func ValidatePath(path, baseDir string) (string, error) {
	path, err := SanitizePath(path)
	if err != nil {
		return "", err
	}
	baseDir, err = SanitizePath(baseDir)
	if err != nil {
		return "", fmt.Errorf("base directory: %w", err)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	absPath := path
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(absBase, absPath)
	}

	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	// The target may not exist yet; resolve the deepest existing ancestor.
	realPath, err := resolveExisting(absPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if realPath != realBase && !strings.HasPrefix(realPath, realBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("%q resolves to %q outside %q: %w", path, realPath, realBase, ErrPathTraversal)
	}
	return realPath, nil
}

// resolveExisting resolves symlinks in the longest existing prefix of path
// and rejoins the non-existing remainder.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	dir, base := filepath.Split(filepath.Clean(path))
	dir = strings.TrimSuffix(dir, string(os.PathSeparator))
	if dir == "" || dir == path {
		return filepath.Clean(path), nil
	}
	parent, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

// ValidateFileSize checks that the file at path is a regular file no larger
// than maxSizeMB megabytes.
func ValidateFileSize(path string, maxSizeMB float64) error {
	if path == "" {
		return ErrEmptyPath
	}
	if maxSizeMB <= 0 {
		return errors.New("max size must be positive")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	limit := int64(maxSizeMB * 1024 * 1024)
	if info.Size() > limit {
		return fmt.Errorf("%s is %.2fMB, limit %.0fMB: %w",
			path, float64(info.Size())/(1024*1024), maxSizeMB, ErrFileTooLarge)
	}
	return nil
}

// IsSymlinkSafe reports whether path, if it is a symlink, resolves to a
// location inside baseDir. Non-symlinks are always safe.
func IsSymlinkSafe(path, baseDir string) bool {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return err == nil
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	realBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return false
	}
	return realPath == realBase || strings.HasPrefix(realPath, realBase+string(os.PathSeparator))
}

// IsSensitiveFile reports whether the base name of path matches a
// credential or key-material pattern.
func IsSensitiveFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, re := range sensitiveFilePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// IsSafeToIndex runs the combined gate for a single candidate file:
// containment in baseDir, symlink safety, size limit, and the sensitive
// file name check. It never returns an error; an unsafe file yields
// (false, reason).
func IsSafeToIndex(path, baseDir string, maxSizeMB float64) (bool, string) {
	validated, err := ValidatePath(path, baseDir)
	if err != nil {
		return false, fmt.Sprintf("path rejected: %v", err)
	}

	info, err := os.Stat(validated)
	if err != nil {
		return false, fmt.Sprintf("cannot stat: %v", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Sprintf("not a file: %s", path)
	}

	if !IsSymlinkSafe(path, baseDir) {
		return false, fmt.Sprintf("symlink points outside base directory: %s", path)
	}

	if err := ValidateFileSize(validated, maxSizeMB); err != nil {
		return false, fmt.Sprintf("file too large: %v", err)
	}

	if IsSensitiveFile(validated) {
		return false, fmt.Sprintf("sensitive file detected: %s", path)
	}

	return true, ""
}

// ValidateQuery trims and validates a search query, returning the trimmed
// form.
func ValidateQuery(query string) (string, error) {
	if strings.ContainsRune(query, 0) {
		return "", fmt.Errorf("query: %w", ErrNullByte)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(query) > MaxQueryLength {
		return "", fmt.Errorf("query is %d characters, limit %d: %w", len(query), MaxQueryLength, ErrQueryTooLong)
	}
	return query, nil
}

// ValidateStoreTarget validates a database location: the path must be
// creatable and must not sit directly in a system root. Returns the
// absolute path.
func ValidateStoreTarget(target string) (string, error) {
	if target == ":memory:" {
		return target, nil
	}
	cleaned, err := SanitizePath(target)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve store target: %w", err)
	}
	dir := filepath.Dir(abs)
	for _, root := range forbiddenStoreRoots {
		if dir == root {
			return "", fmt.Errorf("store target %q sits in %q: %w", target, root, ErrUnsafeTarget)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create store directory: %w", err)
	}
	return abs, nil
}

// ValidateEmbedding checks a single vector for the expected dimension and
// finite values.
func ValidateEmbedding(vec []float32, expectedDim int) error {
	if len(vec) != expectedDim {
		return fmt.Errorf("got %d dimensions, expected %d: %w", len(vec), expectedDim, ErrBadDimension)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("element %d: %w", i, ErrNotFinite)
		}
	}
	return nil
}

// ValidateEmbeddings checks every vector in a batch
func ValidateEmbeddings(vecs [][]float32, expectedDim int) error {
	if len(vecs) == 0 {
		return errors.New("embeddings batch cannot be empty")
	}
	for i, vec := range vecs {
		if err := ValidateEmbedding(vec, expectedDim); err != nil {
			return fmt.Errorf("embedding %d: %w", i, err)
		}
	}
	return nil
}

// SanitizeForPrompt truncates and strips null bytes from text before it is
// embedded in a model prompt.
func SanitizeForPrompt(text string, maxLength int) string {
	if text == "" {
		return ""
	}
	if maxLength > 0 && len(text) > maxLength {
		text = text[:maxLength] + "... [truncated]"
	}
	return strings.ReplaceAll(text, "\x00", "")
}
