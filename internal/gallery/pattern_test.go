package gallery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeShot creates root/rel (slash separated) with the given mtime.
func writeShot(t *testing.T, root, rel string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("jpeg:"+rel), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(p, mtime, mtime))
	}
	return p
}

func relPaths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}

func TestSegmentMatch(t *testing.T) {
	ext := Ext("jpg")
	assert.True(t, ext.Match("pic.jpg"))
	assert.True(t, ext.Match("pic.JPG"))
	assert.True(t, ext.Match("a.b.Jpg"))
	assert.False(t, ext.Match(".jpg"))
	assert.False(t, ext.Match("jpg"))
	assert.False(t, ext.Match("pic.jpeg"))
	assert.False(t, ext.Match("pic.png"))
	assert.False(t, ext.Match("picjpg"))

	assert.True(t, Literal("760").Match("760"))
	assert.False(t, Literal("760").Match("7600"))
	assert.False(t, Literal("remote").Match("Remote"))
	assert.True(t, Any().Match("whatever"))

	assert.Equal(t, "*/760/remote/*/screenshots/*.(?i)jpg", ScreenshotPattern.String())
}

func TestWalk_MatchesOnlyThePattern(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeShot(t, root, "U/760/remote/F/screenshots/pic.JPG", now)
	writeShot(t, root, "U/760/remote/F/screenshots/b.jpg", now)
	writeShot(t, root, "U/760/remote/F/screenshots/thumbnails/pic.JPG", now)
	writeShot(t, root, "U/760/remote/F/screenshots/note.png", now)
	writeShot(t, root, "U/760/remote/F/screenshots/.jpg", now)
	writeShot(t, root, "U/761/remote/F/screenshots/other.jpg", now)
	writeShot(t, root, "U/760/local/F/screenshots/local.jpg", now)
	writeShot(t, root, "U/760/remote/F/pic.jpg", now)
	writeShot(t, root, "U/760/remote/F/screenshots/deep/x.jpg", now)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "U/760/remote/F/screenshots/folder.jpg"), 0o755))
	writeShot(t, root, "V/760/remote/G/screenshots/a.jpg", now)

	entries, err := Collect(context.Background(), root, ScreenshotPattern, WalkOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"U/760/remote/F/screenshots/b.jpg",
		"U/760/remote/F/screenshots/pic.JPG",
		"V/760/remote/G/screenshots/a.jpg",
	}, relPaths(entries))

	for _, e := range entries {
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(e.RelPath)), e.AbsPath)
		assert.True(t, e.HasModTime())
	}
}

func TestWalk_RootErrors(t *testing.T) {
	_, err := Collect(context.Background(), filepath.Join(t.TempDir(), "missing"), ScreenshotPattern, WalkOptions{})
	assert.ErrorIs(t, err, ErrRootUnavailable)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Collect(context.Background(), file, ScreenshotPattern, WalkOptions{})
	assert.ErrorIs(t, err, ErrRootUnavailable)

	_, err = Collect(context.Background(), t.TempDir(), nil, WalkOptions{})
	assert.Error(t, err)
}

func TestWalk_EmptyRoot(t *testing.T) {
	entries, err := Collect(context.Background(), t.TempDir(), ScreenshotPattern, WalkOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWalk_UnreadableFolderIsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	writeShot(t, root, "A/760/remote/F/screenshots/a.jpg", time.Now())
	writeShot(t, root, "B/760/remote/F/screenshots/b.jpg", time.Now())
	locked := filepath.Join(root, "A", "760")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	entries, err := Collect(context.Background(), root, ScreenshotPattern, WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"B/760/remote/F/screenshots/b.jpg"}, relPaths(entries))
}

func TestWalk_MetadataFailureKeepsEntry(t *testing.T) {
	root := t.TempDir()
	writeShot(t, root, "U/760/remote/F/screenshots/bad.jpg", time.Now())
	writeShot(t, root, "U/760/remote/F/screenshots/good.jpg", time.Now())

	var got []Entry
	w := newWalker(context.Background(), ScreenshotPattern, WalkOptions{}, func(e Entry) error {
		got = append(got, e)
		return nil
	})
	w.info = func(e fs.DirEntry) (fs.FileInfo, error) {
		if e.Name() == "bad.jpg" {
			return nil, errors.New("stat failed")
		}
		return e.Info()
	}
	require.NoError(t, w.run(context.Background(), root))

	require.Len(t, got, 2)
	assert.Equal(t, "U/760/remote/F/screenshots/bad.jpg", got[0].RelPath)
	assert.False(t, got[0].HasModTime())
	assert.True(t, got[1].HasModTime())
}

func TestWalk_StopsOnCallbackErrorAndCancel(t *testing.T) {
	root := t.TempDir()
	writeShot(t, root, "U/760/remote/F/screenshots/a.jpg", time.Now())
	writeShot(t, root, "U/760/remote/F/screenshots/b.jpg", time.Now())

	stop := errors.New("stop")
	calls := 0
	err := Walk(context.Background(), root, ScreenshotPattern, WalkOptions{}, func(Entry) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Collect(ctx, root, ScreenshotPattern, WalkOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalk_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	now := time.Now()
	writeShot(t, root, "U/760/remote/F/screenshots/real.jpg", now)
	writeShot(t, root, "store/linked.jpg", now)
	writeShot(t, outside, "secret.jpg", now)
	writeShot(t, outside, "G/screenshots/far.jpg", now)

	shots := filepath.Join(root, "U", "760", "remote", "F", "screenshots")
	if err := os.Symlink(filepath.Join(root, "store", "linked.jpg"), filepath.Join(shots, "inside.jpg")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.jpg"), filepath.Join(shots, "outside.jpg")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "G"), filepath.Join(root, "U", "760", "remote", "G")))
	require.NoError(t, os.Symlink(filepath.Join(root, "U", "760", "remote", "F"), filepath.Join(root, "U", "760", "remote", "H")))

	// file links inside the root are listed by default, folder links are not
	entries, err := Collect(context.Background(), root, ScreenshotPattern, WalkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"U/760/remote/F/screenshots/inside.jpg",
		"U/760/remote/F/screenshots/real.jpg",
	}, relPaths(entries))

	entries, err = Collect(context.Background(), root, ScreenshotPattern, WalkOptions{FollowSymlinks: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"U/760/remote/F/screenshots/inside.jpg",
		"U/760/remote/F/screenshots/real.jpg",
		"U/760/remote/H/screenshots/inside.jpg",
		"U/760/remote/H/screenshots/real.jpg",
	}, relPaths(entries))
}
