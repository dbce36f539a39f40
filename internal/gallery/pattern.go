package gallery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"steamshots/internal/fsutil"
	"steamshots/internal/logging"
	"steamshots/internal/metrics"
)

var ErrRootUnavailable = errors.New("root directory unavailable")

type SegmentKind int

const (
	// SegAny matches any name (a "*" level).
	SegAny SegmentKind = iota
	// SegLiteral matches one exact name.
	SegLiteral
	// SegExt matches file names ending in "."+Value, ignoring ASCII case.
	SegExt
)

// Segment is one level of a Pattern.
type Segment struct {
	Kind  SegmentKind
	Value string
}

func Any() Segment                { return Segment{Kind: SegAny} }
func Literal(name string) Segment { return Segment{Kind: SegLiteral, Value: name} }
func Ext(ext string) Segment      { return Segment{Kind: SegExt, Value: ext} }

// Match reports whether name satisfies the segment.
func (s Segment) Match(name string) bool {
	switch s.Kind {
	case SegAny:
		return true
	case SegLiteral:
		return name == s.Value
	case SegExt:
		// The stem must be non-empty: ".jpg" alone has no extension.
		n := len(s.Value) + 1
		if len(name) <= n || name[len(name)-n] != '.' {
			return false
		}
		return strings.EqualFold(name[len(name)-len(s.Value):], s.Value)
	default:
		return false
	}
}

func (s Segment) String() string {
	switch s.Kind {
	case SegAny:
		return "*"
	case SegExt:
		return "*.(?i)" + s.Value
	default:
		return s.Value
	}
}

// Pattern is a fixed-depth directory shape. Every level but the last selects
// directories; the last selects files.
type Pattern []Segment

func (p Pattern) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// ScreenshotPattern is Steam's screenshot layout under userdata:
// <user-id>/760/remote/<game-id>/screenshots/<name>.jpg
var ScreenshotPattern = Pattern{
	Any(),
	Literal("760"),
	Literal("remote"),
	Any(),
	Literal("screenshots"),
	Ext("jpg"),
}

// Entry is one file found by Walk.
type Entry struct {
	AbsPath string
	// RelPath is relative to the root, always with forward slashes.
	RelPath string
	// ModTime is zero when the file's metadata could not be read.
	ModTime time.Time
}

func (e Entry) HasModTime() bool {
	return !e.ModTime.IsZero()
}

type WalkOptions struct {
	// FollowSymlinks enters symlinked folders whose target stays inside the
	// root. Symlinked files inside the root are listed either way; links that
	// leave the root never are.
	FollowSymlinks bool
}

type walker struct {
	pat      Pattern
	opts     WalkOptions
	realRoot string
	log      *zap.Logger
	fn       func(Entry) error

	// info is fs.DirEntry.Info, swapped in tests.
	info func(fs.DirEntry) (fs.FileInfo, error)
}

// Walk calls fn for every file under root matching pat, in lexical order per
// level. It only descends as deep as the pattern. A missing or unreadable
// root returns ErrRootUnavailable; unreadable subfolders and metadata are
// logged and skipped so one bad entry does not fail the walk. An error from
// fn or a cancelled ctx stops the walk and is returned as is.
func Walk(ctx context.Context, root string, pat Pattern, opts WalkOptions, fn func(Entry) error) error {
	return newWalker(ctx, pat, opts, fn).run(ctx, root)
}

func newWalker(ctx context.Context, pat Pattern, opts WalkOptions, fn func(Entry) error) *walker {
	return &walker{
		pat:  pat,
		opts: opts,
		log:  logging.WithContext(ctx),
		fn:   fn,
		info: fs.DirEntry.Info,
	}
}

func (w *walker) run(ctx context.Context, root string) error {
	if len(w.pat) == 0 {
		return errors.New("gallery: empty pattern")
	}
	st, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, root)
	}
	if w.realRoot, err = filepath.EvalSymlinks(root); err != nil {
		return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	return w.walk(ctx, root, "", 0)
}

func (w *walker) walk(ctx context.Context, dir, rel string, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return fmt.Errorf("%w: %w", ErrRootUnavailable, err)
		}
		w.log.Warn("skipping unreadable folder", zap.String("path", rel), zap.Error(err))
		metrics.RecordWalkError("readdir")
		return nil
	}

	seg := w.pat[depth]
	last := depth == len(w.pat)-1
	for _, e := range ents {
		name := e.Name()
		if !seg.Match(name) {
			continue
		}
		abs := filepath.Join(dir, name)
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}

		mode := e.Type()
		if mode&fs.ModeSymlink != 0 {
			st, ok := w.statLink(abs, childRel)
			if !ok || (st.IsDir() && !w.opts.FollowSymlinks) {
				continue
			}
			mode = st.Mode().Type()
		}

		if !last {
			if mode.IsDir() {
				if err := w.walk(ctx, abs, childRel, depth+1); err != nil {
					return err
				}
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}

		entry := Entry{AbsPath: abs, RelPath: childRel}
		if info, err := w.entryInfo(e, abs); err != nil {
			w.log.Warn("modification time unavailable", zap.String("path", childRel), zap.Error(err))
			metrics.RecordWalkError("metadata")
		} else {
			entry.ModTime = info.ModTime()
		}
		if err := w.fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// statLink resolves a symlink and accepts it only if it stays inside the root.
func (w *walker) statLink(abs, rel string) (fs.FileInfo, bool) {
	target, err := filepath.EvalSymlinks(abs)
	if err == nil {
		if !fsutil.Within(w.realRoot, target) {
			err = errors.New("target outside root")
		}
	}
	var st fs.FileInfo
	if err == nil {
		st, err = os.Stat(target)
	}
	if err != nil {
		w.log.Debug("skipping symlink", zap.String("path", rel), zap.Error(err))
		metrics.RecordWalkError("symlink")
		return nil, false
	}
	return st, true
}

func (w *walker) entryInfo(e fs.DirEntry, abs string) (fs.FileInfo, error) {
	if e.Type()&fs.ModeSymlink != 0 {
		return os.Stat(abs)
	}
	return w.info(e)
}

// Collect runs Walk and returns every entry in walk order.
func Collect(ctx context.Context, root string, pat Pattern, opts WalkOptions) ([]Entry, error) {
	var out []Entry
	err := Walk(ctx, root, pat, opts, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
