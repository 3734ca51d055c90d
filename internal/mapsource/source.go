// Package mapsource describes the tile sources a map layer can draw and
// keeps the registry of them by stable integer id.
package mapsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
)

var (
	ErrDuplicateID  = errors.New("duplicate map source id")
	ErrNoDownloader = errors.New("map source has no downloader")
)

// Id ranges.
const (
	MaxBuiltinID = 31
	MaxConfigID  = 127
)

// World covers every lon/lat.
var World = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// Downloader fetches one request into the disk store.
type Downloader interface {
	Get(ctx context.Context, req download.Request) (download.Outcome, error)
}

// Source is the capability record of a tile source. Descriptor fields are
// plain values; the behaviour that differs between kinds lives in the
// projection and the optional function fields.
type Source struct {
	ID            int
	Name          string
	Label         string
	TileSizeX     int
	TileSizeY     int
	FileExtension string
	Copyright     string
	License       string
	LicenseURL    string
	Logo          image.Image
	// ZoomMin and ZoomMax are OSM zoom levels.
	ZoomMin    int
	ZoomMax    int
	Bounds     orb.Bound
	Deprecated bool

	Projection projection.Family

	// Hostname is a bare authority. Empty means the source cannot download.
	Hostname string
	Scheme   string
	FTP      bool
	URI      func(m projection.MapCoord) string
	Options  download.Options

	// PostProcess rewrites a freshly downloaded tile in place.
	PostProcess func(path string) error
	// ReadTile serves tiles straight from a local container instead of the
	// disk store.
	ReadTile func(ctx context.Context, m projection.MapCoord) ([]byte, error)

	closer io.Closer
}

func (s *Source) String() string {
	return fmt.Sprintf("%d:%s", s.ID, s.Label)
}

func (s *Source) DrawMode() projection.DrawMode {
	return s.Projection.DrawMode()
}

func (s *Source) CoordToMapCoord(c projection.Coord, xmpp, ympp float64) (projection.MapCoord, error) {
	return s.Projection.ToMapCoord(c, xmpp, ympp)
}

func (s *Source) MapCoordToCenter(m projection.MapCoord) projection.Coord {
	return s.Projection.ToCenter(m)
}

// DownloadOptions returns a copy the caller may own.
func (s *Source) DownloadOptions(projection.MapCoord) download.Options {
	return s.Options
}

// SupportsDownloadOnlyNew reports whether the server can be asked for newer files only.
func (s *Source) SupportsDownloadOnlyNew() bool {
	return s.Options.CheckFileServerTime || s.Options.UseEtag
}

func (s *Source) IsDirectFileAccess() bool {
	return s.ReadTile != nil
}

func (s *Source) HasDownloader() bool {
	return s.Hostname != "" && s.URI != nil
}

func (s *Source) IsInArea(b orb.Bound) bool {
	return s.Bounds.Intersects(b)
}

// CopyrightFor returns the attribution to show for a view of b at zoom.
func (s *Source) CopyrightFor(b orb.Bound, zoom int) string {
	if s.Copyright == "" || !s.IsInArea(b) {
		return ""
	}
	if zoom < s.ZoomMin || zoom > s.ZoomMax {
		return ""
	}
	return s.Copyright
}

// TileRef locates m in the disk store.
func (s *Source) TileRef(m projection.MapCoord) tilestore.TileRef {
	return tilestore.TileRef{
		SourceID: s.ID,
		Name:     s.Name,
		Ext:      s.FileExtension,
		Coord:    m,
		Zoom:     m.Scale,
	}
}

func (s *Source) Request(m projection.MapCoord, dest string) (download.Request, error) {
	if !s.HasDownloader() {
		return download.Request{}, fmt.Errorf("%w: %s", ErrNoDownloader, s)
	}
	return download.Request{
		Scheme:  s.Scheme,
		Host:    s.Hostname,
		URI:     s.URI(m),
		FTP:     s.FTP,
		Dest:    dest,
		Source:  strconv.Itoa(s.ID),
		Options: s.DownloadOptions(m),
	}, nil
}

// Download fetches m into dest and applies the post processing step.
func (s *Source) Download(ctx context.Context, dl Downloader, m projection.MapCoord, dest string, progress func(done, total int64) bool) (download.Outcome, error) {
	req, err := s.Request(m, dest)
	if err != nil {
		return download.Outcome{Result: download.ResultError}, err
	}
	req.Progress = progress

	out, err := dl.Get(ctx, req)
	if err != nil || out.Result != download.ResultOk || s.PostProcess == nil {
		return out, err
	}
	if err := s.PostProcess(dest); err != nil {
		// the raw body is committed already, drop it so it is fetched again
		if rerr := os.Remove(dest); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = errors.Join(err, rerr)
		}
		out.Result = download.ResultError
		out.Detail = download.DetailContentError
		return out, fmt.Errorf("%w: post processing %s: %v", download.ErrCheckerRejected, dest, err)
	}
	return out, nil
}

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
