// Package storage manages uploaded originals and the served working and
// annotated copies.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sub-directories below the tmp dir.
const (
	WorkingDir   = "ct"
	AnnotatedDir = "draw"
)

var (
	// ErrInvalidName is returned for names that sanitize to nothing or carry
	// an unsupported extension.
	ErrInvalidName = errors.New("invalid file name")
	// ErrOutsideRoot is returned when a path escapes the served directory.
	ErrOutsideRoot = errors.New("path escapes storage root")
)

// uploadExtensions lists accepted upload types.
var uploadExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Store lays files out as
//
//	<uploads>/<name>        originals
//	<tmp>/ct/<name>         working copy served at /tmp/ct/<name>
//	<tmp>/draw/<name>       annotated image served at /tmp/draw/<name>
type Store struct {
	uploadDir string
	tmpDir    string
	newID     func() string
}

// New creates the directory layout.
func New(uploadDir, tmpDir string) (*Store, error) {
	for _, dir := range []string{
		uploadDir,
		filepath.Join(tmpDir, WorkingDir),
		filepath.Join(tmpDir, AnnotatedDir),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Store{uploadDir: uploadDir, tmpDir: tmpDir, newID: uploadID}, nil
}

// maxNameBytes is the file name limit of common file systems.
const maxNameBytes = 255

// uploadID returns a short random prefix for stored names.
func uploadID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// storedName prefixes clean with id so equal client file names never share
// stored files. The stem is cut to keep the result within maxNameBytes.
func storedName(id, clean string) string {
	name := id + "_" + clean
	if len(name) <= maxNameBytes {
		return name
	}
	ext := filepath.Ext(clean)
	stem := strings.TrimSuffix(clean, ext)
	return id + "_" + stem[:maxNameBytes-len(id)-1-len(ext)] + ext
}

// AllowedUpload reports whether name has a png, jpg or jpeg extension.
func AllowedUpload(name string) bool {
	return uploadExtensions[strings.ToLower(filepath.Ext(name))]
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFilename reduces name to a safe base name: accents are folded,
// anything outside [A-Za-z0-9._-] is replaced by '_', and leading dots are
// dropped.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

// ContentType maps a file extension to its MIME type.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// SaveUpload sanitizes name, writes r to the uploads dir under a unique
// stored name and copies it to the working dir. It returns the stored name
// and the working copy path.
func (s *Store) SaveUpload(name string, r io.Reader) (string, string, error) {
	clean := SanitizeFilename(name)
	if clean == "" || !AllowedUpload(clean) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	clean = storedName(s.newID(), clean)
	src := filepath.Join(s.uploadDir, clean)
	if err := writeFile(src, r); err != nil {
		return "", "", err
	}

	f, err := os.Open(src) //nolint:gosec // sanitized name under the upload dir
	if err != nil {
		return "", "", fmt.Errorf("failed to reopen upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	working := s.WorkingPath(clean)
	if err := writeFile(working, f); err != nil {
		return "", "", err
	}
	return clean, working, nil
}

// WorkingPath is the path of the working copy of name.
func (s *Store) WorkingPath(name string) string {
	return filepath.Join(s.tmpDir, WorkingDir, name)
}

// AnnotatedPath is the path of the annotated copy of name.
func (s *Store) AnnotatedPath(name string) string {
	return filepath.Join(s.tmpDir, AnnotatedDir, name)
}

// Resolve maps a slash-separated path relative to the tmp dir to a file path.
// Paths that leave the tmp dir are rejected.
func (s *Store) Resolve(rel string) (string, error) {
	for _, seg := range strings.Split(strings.ReplaceAll(rel, "\\", "/"), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
		}
	}
	cleaned := path.Clean("/" + rel)
	if cleaned == "/" || strings.Contains(rel, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	full := filepath.Join(s.tmpDir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
	root, err := filepath.Abs(s.tmpDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return full, nil
}

// Open opens a served file under the tmp dir. Missing files and directories
// yield an error wrapping os.ErrNotExist.
func (s *Store) Open(rel string) (*os.File, os.FileInfo, error) {
	full, err := s.Resolve(rel)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full) //nolint:gosec // resolved under the tmp dir
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%s: %w", rel, os.ErrNotExist)
	}
	return f, st, nil
}

func writeFile(dst string, r io.Reader) error {
	f, err := os.Create(dst) //nolint:gosec // caller builds dst from a sanitized name
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return f.Close()
}
