package mapsource

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
)

// Metatile is the edge length, in tiles, of one mod_tile metatile.
const Metatile = 8

var (
	metaMagic           = []byte("META")
	metaMagicCompressed = []byte("METZ")

	ErrMetatileCompressed = errors.New("compressed metatiles are not supported")
)

type MetatilesConfig struct {
	ID        int
	Name      string
	Label     string
	Dir       string
	ZoomMin   int
	ZoomMax   int
	Copyright string
}

// NewMetatiles reads tiles out of a renderd/mod_tile metatile tree.
func NewMetatiles(c MetatilesConfig) *Source {
	s := SlippyConfig{
		ID:        c.ID,
		Name:      c.Name,
		Label:     c.Label,
		ZoomMin:   c.ZoomMin,
		ZoomMax:   c.ZoomMax,
		Copyright: c.Copyright,
	}.source(projection.Slippy{})

	dir := c.Dir
	s.ReadTile = func(ctx context.Context, m projection.MapCoord) ([]byte, error) {
		return ReadMetatile(dir, m.X, m.Y, m.Scale)
	}
	return s
}

// MetatilePath returns the .meta file holding (x,y,z) and the tile's index in it.
func MetatilePath(dir string, x, y, z int) (string, int) {
	const mask = Metatile - 1
	offset := (x&mask)*Metatile + (y & mask)
	x &^= mask
	y &^= mask

	var hash [5]int
	for i := range hash {
		hash[i] = ((x & 0x0f) << 4) | (y & 0x0f)
		x >>= 4
		y >>= 4
	}
	path := filepath.Join(dir, fmt.Sprint(z),
		fmt.Sprint(hash[4]), fmt.Sprint(hash[3]), fmt.Sprint(hash[2]), fmt.Sprint(hash[1]),
		fmt.Sprintf("%d.meta", hash[0]))
	return path, offset
}

type metaEntry struct {
	Offset int32
	Size   int32
}

type metaHeader struct {
	Magic   [4]byte
	Count   int32
	X, Y, Z int32
	Index   [Metatile * Metatile]metaEntry
}

// ReadMetatile extracts one tile. A missing file is tilestore.ErrMiss.
func ReadMetatile(dir string, x, y, z int) ([]byte, error) {
	path, idx := MetatilePath(dir, x, y, z)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, tilestore.ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", tilestore.ErrMiss, err)
	}
	defer f.Close()

	var h metaHeader
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("metatile %s too small to contain header: %w", path, err)
	}
	switch {
	case string(h.Magic[:]) == string(metaMagic):
	case string(h.Magic[:]) == string(metaMagicCompressed):
		return nil, fmt.Errorf("%s: %w", path, ErrMetatileCompressed)
	default:
		return nil, fmt.Errorf("metatile %s header magic mismatch", path)
	}
	if h.Count != Metatile*Metatile {
		return nil, fmt.Errorf("metatile %s header bad count %d != %d", path, h.Count, Metatile*Metatile)
	}

	e := h.Index[idx]
	if e.Size <= 0 {
		return nil, tilestore.ErrMiss
	}
	buf := make([]byte, e.Size)
	n, err := f.ReadAt(buf, int64(e.Offset))
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read metatile %s: %w", path, err)
	}
	return buf, nil
}
