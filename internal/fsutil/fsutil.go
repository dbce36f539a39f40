package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath     = errors.New("invalid path")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrEscapesRoot     = errors.New("path escape")
)

// ImageExt is the only extension served by the image endpoint (compared
// without regard to ASCII case).
const ImageExt = "jpg"

// CheckImagePath validates an untrusted relative path taken from a request.
// It returns the path re-joined with forward slashes, or ErrInvalidPath when a
// segment could leave the root and ErrInvalidFileType when the final name
// does not carry the jpg extension. Both '/' and '\' count as separators.
func CheckImagePath(p string) (string, error) {
	if p == "" || strings.Contains(p, "\x00") {
		return "", ErrInvalidPath
	}
	if isSep(p[0]) || hasVolumePrefix(p) {
		return "", ErrInvalidPath
	}

	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	clean := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case ".":
			continue
		case "..":
			return "", ErrInvalidPath
		}
		clean = append(clean, s)
	}
	if len(clean) == 0 {
		return "", ErrInvalidPath
	}

	if !strings.EqualFold(extension(clean[len(clean)-1]), ImageExt) {
		return "", ErrInvalidFileType
	}
	return strings.Join(clean, "/"), nil
}

// extension returns the text after the last dot of name. A name without a
// dot, or whose only dot is the leading one (".jpg"), has no extension.
func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	return name[i+1:]
}

func isSep(c byte) bool {
	return c == '/' || c == '\\'
}

// hasVolumePrefix reports a drive letter ("C:") on the first segment.
// UNC prefixes start with a separator and are caught by the caller.
// Names such as "a:b.jpg" are legal on Unix but are refused on every host;
// Steam user folders are numeric so nothing real is lost.
func hasVolumePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// JoinWithinRoot returns the absolute filesystem path for a checked,
// slash-separated relative path. It still rejects lexical escapes so callers
// that skip CheckImagePath cannot leave the root.
func JoinWithinRoot(rootAbs string, rel string) (string, error) {
	if strings.Contains(rel, "\x00") {
		return "", ErrInvalidPath
	}
	abs := filepath.Join(rootAbs, filepath.FromSlash(rel))
	absClean := filepath.Clean(abs)
	rootClean := filepath.Clean(rootAbs)
	if !Within(rootClean, absClean) {
		return "", ErrEscapesRoot
	}
	return absClean, nil
}

// ResolveWithinRoot follows symlinks in abs and checks the target is still
// under the (also resolved) root. A symlinked file is accepted whenever its
// target stays inside the root. With followSymlinks false a symlinked folder
// anywhere on the way, or a final symlink pointing at a folder, is treated as
// an escape. Missing files surface as os.ErrNotExist.
func ResolveWithinRoot(rootAbs, abs string, followSymlinks bool) (string, error) {
	realRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	if !Within(realRoot, real) {
		return "", ErrEscapesRoot
	}
	if followSymlinks {
		return real, nil
	}

	rootClean, absClean := filepath.Clean(rootAbs), filepath.Clean(abs)
	if absClean == rootClean {
		return real, nil
	}
	dir := filepath.Dir(absClean)
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootClean, dir)
	if err != nil || filepath.Join(realRoot, rel) != realDir {
		return "", ErrEscapesRoot
	}
	if real != filepath.Join(realDir, filepath.Base(absClean)) {
		st, err := os.Stat(real)
		if err != nil {
			return "", err
		}
		if st.IsDir() {
			return "", ErrEscapesRoot
		}
	}
	return real, nil
}

// IsNotExist reports whether err means the file is simply not there.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// Within reports whether p is root or lies beneath it. Both must be clean.
func Within(root, p string) bool {
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return strings.HasPrefix(p, root)
	}
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}
