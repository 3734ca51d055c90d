// Package cache keeps decoded tiles in memory and, optionally, encoded
// tile bytes in a shared blob store.
package cache

import (
	"context"
	"fmt"
)

// Key is the fingerprint of a drawn tile. Two keys are equal only when
// every field matches, floats included: they come from the same viewport
// computation.
type Key struct {
	X, Y, Z int
	Source  int
	Scale   int
	Alpha   uint8
	XShrink float64
	YShrink float64
	// Name separates sources that share an id, e.g. per-file MBTiles.
	Name string
}

func (k Key) String() string {
	s := fmt.Sprintf("%d-%d-%d-%d-%d-%d-%.3f-%.3f", k.X, k.Y, k.Z, k.Source, k.Scale, k.Alpha, k.XShrink, k.YShrink)
	if k.Name != "" {
		s += "-" + k.Name
	}
	return s
}

// ID is like String but keeps the shrink factors exact, so keys that
// differ only past the third decimal stay apart.
func (k Key) ID() string {
	return fmt.Sprintf("%d-%d-%d-%d-%d-%d-%g-%g-%s", k.X, k.Y, k.Z, k.Source, k.Scale, k.Alpha, k.XShrink, k.YShrink, k.Name)
}

// Extra is stored alongside the image.
type Extra struct {
	// Duration is the render time in seconds. Negative means the tile was
	// read from disk rather than rendered.
	Duration float64
}

// BlobCache stores encoded tile bytes keyed by their disk path.
type BlobCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// NopBlobCache never holds anything.
type NopBlobCache struct{}

var _ BlobCache = NopBlobCache{}

func (NopBlobCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopBlobCache) Set(context.Context, string, []byte) error         { return nil }
func (NopBlobCache) Delete(context.Context, string) error              { return nil }
