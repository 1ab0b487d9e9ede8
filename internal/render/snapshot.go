package render

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

var (
	ErrSnapshotPending = errors.New("snapshot already pending")
	// ErrSnapshotTimeout means the wait expired first. The request stays
	// pending and is served by the next rendered frame.
	ErrSnapshotTimeout = errors.New("snapshot not taken before the wait expired")
)

type snapshotRequest struct {
	path string
	w, h int
}

// writeSnapshot scales the region r of img to w x h (zero keeps the source
// size) and encodes it by file extension: .jpg/.jpeg as JPEG, anything else
// as PNG.
func writeSnapshot(path string, img image.Image, r image.Rectangle, w, h int) error {
	if r.Empty() {
		return errors.New("snapshot: empty frame")
	}
	if w <= 0 || h <= 0 {
		w, h = r.Dx(), r.Dy()
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, r, draw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, out, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(f, out)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}
