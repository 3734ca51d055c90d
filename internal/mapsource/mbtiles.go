package mapsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
)

const mbtilesQuery = `SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`

type MBTilesConfig struct {
	ID        int
	Name      string
	Label     string
	Path      string
	ZoomMin   int
	ZoomMax   int
	Copyright string
}

// NewMBTiles opens an MBTiles container read only. Rows are stored in TMS
// order, so y is flipped on lookup.
func NewMBTiles(c MBTilesConfig) (*Source, error) {
	dsn := "file:" + (&url.URL{Path: c.Path}).EscapedPath() + "?mode=ro"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles %s: %w", c.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open mbtiles %s: %w", c.Path, err)
	}

	zmax := c.ZoomMax
	if zmax == 0 {
		zmax = 22
	}
	s := SlippyConfig{
		ID:        c.ID,
		Name:      c.Name,
		Label:     c.Label,
		ZoomMin:   c.ZoomMin,
		ZoomMax:   zmax,
		Copyright: c.Copyright,
	}.source(projection.Slippy{})

	s.ReadTile = func(ctx context.Context, m projection.MapCoord) ([]byte, error) {
		flipY := (1 << m.Scale) - 1 - m.Y
		var data []byte
		err := db.QueryRowContext(ctx, mbtilesQuery, m.Scale, m.X, flipY).Scan(&data)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, tilestore.ErrMiss
			}
			return nil, fmt.Errorf("%w: mbtiles query: %v", tilestore.ErrMiss, err)
		}
		return data, nil
	}
	s.closer = db
	return s, nil
}
