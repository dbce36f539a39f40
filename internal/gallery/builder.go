package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"steamshots/internal/metrics"
)

var ErrNoFolder = errors.New("candidate path has no folder")

// ThumbnailDir is the folder Steam keeps next to each screenshots folder.
const ThumbnailDir = "thumbnails"

// Image is one gallery item, ready for rendering.
type Image struct {
	Path      string
	Thumbnail string
	ModTime   time.Time // zero when unknown
	UserID    string
	GameID    string
}

// SortNewestFirst orders entries by descending ModTime. Entries without a
// ModTime go last; ties keep their walk order.
func SortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.HasModTime() && !b.HasModTime():
			return true
		case !a.HasModTime():
			return false
		default:
			return a.ModTime.After(b.ModTime)
		}
	})
}

// ThumbnailPath inserts the thumbnails folder before the file name:
// "a/b/pic.jpg" -> "a/b/thumbnails/pic.jpg".
func ThumbnailPath(candidate string) (string, error) {
	i := strings.LastIndexByte(candidate, '/')
	if i < 0 {
		return "", fmt.Errorf("%w: %q", ErrNoFolder, candidate)
	}
	return candidate[:i] + "/" + ThumbnailDir + "/" + candidate[i+1:], nil
}

// Build sorts entries in place and turns them into gallery images.
func Build(entries []Entry) ([]Image, error) {
	SortNewestFirst(entries)
	images := make([]Image, 0, len(entries))
	for _, e := range entries {
		thumb, err := ThumbnailPath(e.RelPath)
		if err != nil {
			return nil, err
		}
		img := Image{
			Path:      e.RelPath,
			Thumbnail: thumb,
			ModTime:   e.ModTime,
		}
		// <user>/760/remote/<game>/screenshots/<file>
		if segs := strings.Split(e.RelPath, "/"); len(segs) >= 4 {
			img.UserID = segs[0]
			img.GameID = segs[3]
		}
		images = append(images, img)
	}
	return images, nil
}

// List walks root with the screenshot pattern and builds the gallery.
func List(ctx context.Context, root string, opts WalkOptions) ([]Image, error) {
	start := time.Now()
	entries, err := Collect(ctx, root, ScreenshotPattern, opts)
	if err != nil {
		return nil, err
	}
	images, err := Build(entries)
	if err != nil {
		return nil, err
	}
	metrics.RecordListing(len(images), time.Since(start))
	return images, nil
}
