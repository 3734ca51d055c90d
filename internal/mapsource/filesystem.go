package mapsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
)

type FileSystemConfig struct {
	ID        int
	Name      string
	Label     string
	Dir       string
	Extension string
	ZoomMin   int
	ZoomMax   int
	Copyright string
}

// NewFileSystem serves tiles already laid out as dir/z/x/y.ext, e.g. the
// output of a local renderer. It never downloads.
func NewFileSystem(c FileSystemConfig) *Source {
	s := SlippyConfig{
		ID:        c.ID,
		Name:      c.Name,
		Label:     c.Label,
		Extension: c.Extension,
		ZoomMin:   c.ZoomMin,
		ZoomMax:   c.ZoomMax,
		Copyright: c.Copyright,
	}.source(projection.Slippy{})

	dir, ext := c.Dir, s.FileExtension
	s.ReadTile = func(ctx context.Context, m projection.MapCoord) ([]byte, error) {
		path := filepath.Join(dir, strconv.Itoa(m.Scale), strconv.Itoa(m.X), strconv.Itoa(m.Y)+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, tilestore.ErrMiss
			}
			return nil, fmt.Errorf("%w: %v", tilestore.ErrMiss, err)
		}
		return data, nil
	}
	return s
}
