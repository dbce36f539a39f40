package httpserver

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"steamshots/internal/fsutil"
	"steamshots/internal/logging"
)

const davPrefix = "/dav"

// davHandler exposes the root as a read-only WebDAV share.
func (s *Server) davHandler() http.Handler {
	locks := webdav.NewMemLS()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS, PROPFIND")
			http.Error(w, "read-only", http.StatusMethodNotAllowed)
			return
		}
		root, ok := s.rootDir(w, r)
		if !ok {
			return
		}
		h := &webdav.Handler{
			Prefix:     davPrefix,
			FileSystem: readOnlyFS{root: root, follow: s.cfg.FollowSymlinks},
			LockSystem: locks,
			Logger: func(r *http.Request, err error) {
				if err != nil && !errors.Is(err, os.ErrNotExist) {
					logging.WithContext(r.Context()).Debug("webdav",
						zap.String("method", r.Method), zap.Error(err))
				}
			},
		}
		h.ServeHTTP(w, r)
	})
}

// readOnlyFS wraps webdav.Dir, refusing every mutation. It shows folders and
// the files the image route would serve; everything else, including anything
// that resolves outside the root, does not exist.
type readOnlyFS struct {
	root   string
	follow bool
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

func (fs readOnlyFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission
}

func (fs readOnlyFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if flag&writeFlags != 0 {
		return nil, os.ErrPermission
	}
	isDir, err := fs.check(name)
	if err != nil {
		return nil, err
	}
	f, err := webdav.Dir(fs.root).OpenFile(ctx, name, flag, perm)
	if err != nil || !isDir {
		return f, err
	}
	return &filteredDir{File: f, fs: fs, name: name}, nil
}

func (fs readOnlyFS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (fs readOnlyFS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (fs readOnlyFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if _, err := fs.check(name); err != nil {
		return nil, err
	}
	return webdav.Dir(fs.root).Stat(ctx, name)
}

// check reports whether name is a visible folder or a visible image file.
func (fs readOnlyFS) check(name string) (bool, error) {
	rel := strings.TrimPrefix(path.Clean("/"+name), "/")
	abs, err := fsutil.JoinWithinRoot(fs.root, rel)
	if err != nil {
		return false, hidden(name)
	}
	real, err := fsutil.ResolveWithinRoot(fs.root, abs, fs.follow)
	if err != nil {
		if errors.Is(err, fsutil.ErrEscapesRoot) {
			return false, hidden(name)
		}
		return false, err
	}
	st, err := os.Stat(real)
	if err != nil {
		return false, err
	}
	if st.IsDir() {
		return true, nil
	}
	if !st.Mode().IsRegular() {
		return false, hidden(name)
	}
	if _, err := fsutil.CheckImagePath(rel); err != nil {
		return false, hidden(name)
	}
	return false, nil
}

func hidden(name string) error {
	return &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
}

// filteredDir drops hidden children from directory listings.
type filteredDir struct {
	webdav.File
	fs   readOnlyFS
	name string
}

func (d *filteredDir) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := d.File.Readdir(count)
	visible := infos[:0]
	for _, fi := range infos {
		if _, cerr := d.fs.check(path.Join(d.name, fi.Name())); cerr == nil {
			visible = append(visible, fi)
		}
	}
	return visible, err
}
