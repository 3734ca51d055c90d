package maplayer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"

	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/internal/viewport"
	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
	"github.com/jaennil/guide_helper/backend/maps/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/maps/pkg/telemetry"
)

// mapZoom is the tile resolution chosen for a view and how tiles are
// scaled to it.
type mapZoom struct {
	xmpp, ympp    float64
	xs, ys        float64
	existenceOnly bool
	refused       bool
}

// zoomLevel is the OSM zoom level nearest to mpp.
func zoomLevel(mpp float64) int {
	if mpp <= 0 {
		return projection.MaxScale
	}
	return projection.MaxScale - int(math.Round(math.Log2(mpp)))
}

func chooseZoom(src *mapsource.Source, s Settings, vp *viewport.Viewport, p config.Prefs) mapZoom {
	z := mapZoom{xmpp: vp.XMpp, ympp: vp.YMpp, xs: 1, ys: 1}

	switch {
	case s.MapZoom > 0:
		z.xmpp, z.ympp = s.MapZoom, s.MapZoom
		z.xs, z.ys = s.MapZoom/vp.XMpp, s.MapZoom/vp.YMpp
	default:
		if _, err := src.CoordToMapCoord(vp.Center, vp.XMpp, vp.YMpp); err == nil {
			if zl := zoomLevel(vp.XMpp); zl >= src.ZoomMin && zl <= src.ZoomMax {
				return z
			}
		}
		// no tiles at this exact zoom: use the nearest power of two the
		// source has and scale
		zoom := zoomLevel(projection.SnapMpp(vp.XMpp))
		zoom = min(max(zoom, src.ZoomMin), src.ZoomMax, projection.MaxScale)
		mpp := projection.ZoomLevelToMpp(zoom)
		z.xmpp, z.ympp = mpp, mpp
		z.xs, z.ys = mpp/vp.XMpp, mpp/vp.YMpp
	}

	if z.xs == 1 && z.ys == 1 {
		return z
	}
	if z.xs > p.MinShrinkFactor && z.xs < p.MaxShrinkFactor && z.ys > p.MinShrinkFactor && z.ys < p.MaxShrinkFactor {
		return z
	}
	if z.xs > p.RealMinShrinkFactor && z.ys > p.RealMinShrinkFactor {
		z.existenceOnly = true
		return z
	}
	z.refused = true
	return z
}

// DrawModeHint is the user visible message for a draw mode mismatch.
func DrawModeHint(src *mapsource.Source) string {
	return fmt.Sprintf("Wrong drawmode for this map. Select %q and try again.", src.DrawMode().String())
}

// Draw paints the visible tiles of the layer's source into sink, then its
// attribution. Missing tiles are left blank and, with autodownload on,
// queued for download.
func (l *Layer) Draw(ctx context.Context, vp *viewport.Viewport, sink viewport.Sink) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "maplayer.Draw")
	defer func() { telemetry.EndSpan(span, err) }()

	src, err := l.Source()
	if err != nil {
		return err
	}
	if src.DrawMode() != vp.DrawMode {
		sink.Status(DrawModeHint(src))
		return fmt.Errorf("%w: %s draws in %s, viewport is %s", ErrDrawModeMismatch, src, src.DrawMode(), vp.DrawMode)
	}

	s := l.Settings()
	p := l.deps.Prefs.Snapshot()
	z := chooseZoom(src, s, vp, p)
	if z.refused {
		sink.Status(fmt.Sprintf("Cowardly refusing to draw tiles or existence of tiles beyond %d zoom out factor",
			int(1/p.RealMinShrinkFactor)))
		return nil
	}

	d := &drawer{
		layer: l,
		src:   src,
		store: l.store(s),
		s:     s,
		p:     p,
		z:     z,
		vp:    vp,
		sink:  sink,
	}
	// the debounce is checked once per draw so every zone of a UTM view
	// gets its download
	d.autodownload = !z.existenceOnly && s.AutoDownload &&
		l.shouldAutodownload(src, vp.Center, vp.XMpp, vp.YMpp, zoomLevel(z.xmpp))

	if vp.CoordMode() == projection.ModeUTM && !vp.IsOneZone() {
		for zone := vp.LeftmostZone(); zone <= vp.RightmostZone(); zone++ {
			ul, br := vp.CornersForZone(zone)
			if err := d.section(ctx, ul, br); err != nil {
				return err
			}
		}
	} else {
		ul, br := vp.Corners()
		if err := d.section(ctx, ul, br); err != nil {
			return err
		}
	}

	if c := src.CopyrightFor(vp.Bounds(), zoomLevel(vp.XMpp)); c != "" {
		sink.AddCopyright(c)
	}
	if src.Logo != nil {
		sink.AddLogo(src.Logo)
	}
	return nil
}

// drawer carries the state of one Draw call.
type drawer struct {
	layer        *Layer
	src          *mapsource.Source
	store        *tilestore.Store
	s            Settings
	p            config.Prefs
	z            mapZoom
	vp           *viewport.Viewport
	sink         viewport.Sink
	autodownload bool
}

// section draws the tiles between ul and br, both in one UTM zone when
// the view is UTM.
func (d *drawer) section(ctx context.Context, ul, br projection.Coord) error {
	ulm, err := d.src.CoordToMapCoord(ul, d.z.xmpp, d.z.ympp)
	if err != nil {
		d.layer.logger.Debug("no tiles for view", "source", d.src.ID, "error", err)
		return nil
	}
	brm, err := d.src.CoordToMapCoord(br, d.z.xmpp, d.z.ympp)
	if err != nil {
		d.layer.logger.Debug("no tiles for view", "source", d.src.ID, "error", err)
		return nil
	}

	xmin, xmax := min(ulm.X, brm.X), max(ulm.X, brm.X)
	ymin, ymax := min(ulm.Y, brm.Y), max(ulm.Y, brm.Y)

	existenceOnly := d.z.existenceOnly
	if tiles := (xmax - xmin) * (ymax - ymin); tiles > d.p.MaxTiles {
		d.layer.logger.Debug("drawing tile existence only", "source", d.src.ID, "tiles", tiles)
		existenceOnly = true
	}

	if !existenceOnly && d.autodownload && !d.src.IsDirectFileAccess() && d.src.HasDownloader() {
		mode := ModeNone
		if !d.s.OnlyMissing && d.src.SupportsDownloadOnlyNew() {
			mode = ModeNew
		}
		if _, err := d.layer.submit(ctx, d.src, d.s, ulm, brm, mode); err != nil {
			d.layer.logger.Warn("failed to start autodownload", "source", d.src.ID, "error", err)
		}
	}

	if d.src.TileSizeX == 0 && !existenceOnly {
		return d.variableTiles(ctx, ulm, xmin, xmax, ymin, ymax)
	}
	return d.grid(ctx, ulm, xmin, xmax, ymin, ymax, existenceOnly)
}

// variableTiles places each tile by its own centre; used when the source
// has no fixed tile size.
func (d *drawer) variableTiles(ctx context.Context, ulm projection.MapCoord, xmin, xmax, ymin, ymax int) error {
	for x := xmin; x <= xmax; x++ {
		for y := ymin; y <= ymax; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			m := ulm
			m.X, m.Y = x, y
			img := d.tile(ctx, m, d.z.xs, d.z.ys)
			if img == nil {
				continue
			}
			b := img.Bounds()
			xx, yy, ok := d.vp.CoordToScreen(d.src.MapCoordToCenter(m))
			if !ok {
				continue
			}
			d.sink.DrawImage(img, 0, 0, xx-b.Dx()/2, yy-b.Dy()/2, b.Dx(), b.Dy())
		}
	}
	return nil
}

// grid walks the tiles from the upper left corner, stepping by the scaled
// tile size so fractional shrink factors do not accumulate rounding.
func (d *drawer) grid(ctx context.Context, ulm projection.MapCoord, xmin, xmax, ymin, ymax int, existenceOnly bool) error {
	tsx := float64(d.src.TileSizeX) * d.z.xs
	tsy := float64(d.src.TileSizeY) * d.z.ys
	tcx, tcy := int(math.Ceil(tsx)), int(math.Ceil(tsy))

	xinc, yinc := 1, 1
	if ulm.X != xmin {
		xinc = -1
	}
	if ulm.Y != ymin {
		yinc = -1
	}
	xstart, xend := xmin, xmax+1
	if xinc < 0 {
		xstart, xend = xmax, xmin-1
	}
	ystart, yend := ymin, ymax+1
	if yinc < 0 {
		ystart, yend = ymax, ymin-1
	}

	sx, sy, ok := d.vp.CoordToScreen(d.src.MapCoordToCenter(ulm))
	if !ok {
		return nil
	}
	xx := float64(sx) - tsx/2
	baseYY := float64(sy) - tsy/2

	for x := xstart; x != xend; x += xinc {
		yy := baseYY
		for y := ystart; y != yend; y += yinc {
			if err := ctx.Err(); err != nil {
				return err
			}
			m := ulm
			m.X, m.Y = x, y
			px, py := int(xx), int(yy)

			if existenceOnly {
				if d.exists(ctx, m) {
					d.sink.DrawLine(px+tcx, py, px, py+tcy)
				}
			} else {
				d.drawTile(ctx, m, px, py, tcx, tcy, yinc < 0)
			}
			yy += tsy
		}
		xx += tsx
	}
	return nil
}

// drawTile blits m, or failing that the nearest zoom that has it.
// northUp is set for families whose y index grows towards the top of the
// screen, which flips the quadrant a parent or child tile covers.
func (d *drawer) drawTile(ctx context.Context, m projection.MapCoord, xx, yy, tcx, tcy int, northUp bool) {
	if img := d.tile(ctx, m, d.z.xs, d.z.ys); img != nil {
		d.sink.DrawImage(img, 0, 0, xx, yy, tcx, tcy)
		return
	}

	down := func() bool { return d.scaleDown(ctx, m, xx, yy, tcx, tcy, northUp) }
	up := func() bool { return d.scaleUp(ctx, m, xx, yy, tcx, tcy, northUp) }
	if d.p.ScaleSmallerZoomFirst {
		if !down() {
			up()
		}
		return
	}
	if !up() {
		down()
	}
}

// scaleDown draws the matching part of a parent tile magnified.
func (d *drawer) scaleDown(ctx context.Context, m projection.MapCoord, xx, yy, tcx, tcy int, northUp bool) bool {
	for inc := 1; inc < d.p.ScaleIncDown; inc++ {
		f := 1 << inc
		parent := m
		parent.X, parent.Y = floorDiv(m.X, f), floorDiv(m.Y, f)
		parent.Scale = d.src.Projection.Coarser(m.Scale, inc)

		img := d.tile(ctx, parent, d.z.xs*float64(f), d.z.ys*float64(f))
		if img == nil {
			continue
		}
		qy := floorMod(m.Y, f)
		if northUp {
			qy = f - 1 - qy
		}
		d.sink.DrawImage(img, floorMod(m.X, f)*tcx, qy*tcy, xx, yy, tcx, tcy)
		return true
	}
	return false
}

// scaleUp fills the cell with child tiles shrunk to fit. It reports
// whether any child was found at the first level that had one.
func (d *drawer) scaleUp(ctx context.Context, m projection.MapCoord, xx, yy, tcx, tcy int, northUp bool) bool {
	for dec := 1; dec < d.p.ScaleIncUp; dec++ {
		f := 1 << dec
		w, h := tcx/f, tcy/f
		if w == 0 || h == 0 {
			return false
		}
		scale := d.src.Projection.Coarser(m.Scale, -dec)

		found := false
		for px := 0; px < f; px++ {
			for py := 0; py < f; py++ {
				child := m
				child.X, child.Y, child.Scale = m.X*f+px, m.Y*f+py, scale
				img := d.tile(ctx, child, d.z.xs/float64(f), d.z.ys/float64(f))
				if img == nil {
					continue
				}
				row := py
				if northUp {
					row = f - 1 - py
				}
				d.sink.DrawImage(img, 0, 0, xx+px*w, yy+row*h, w, h)
				found = true
			}
		}
		if found {
			return true
		}
	}
	return false
}

func (d *drawer) tile(ctx context.Context, m projection.MapCoord, xs, ys float64) image.Image {
	return d.layer.tile(ctx, d.src, d.store, d.s, m, xs, ys)
}

func (d *drawer) exists(ctx context.Context, m projection.MapCoord) bool {
	if d.src.IsDirectFileAccess() {
		_, err := d.src.ReadTile(ctx, m)
		return err == nil
	}
	return d.store.Exists(d.store.Path(d.src.TileRef(m)))
}

func cacheKey(src *mapsource.Source, s Settings, m projection.MapCoord, xs, ys float64) cache.Key {
	return cache.Key{
		X:       m.X,
		Y:       m.Y,
		Z:       m.Z,
		Source:  src.ID,
		Scale:   m.Scale,
		Alpha:   s.Alpha,
		XShrink: xs,
		YShrink: ys,
		Name:    s.CacheDir,
	}
}

// tile returns the display ready image of m. Concurrent loads of one
// fingerprint share a single disk read and decode.
func (l *Layer) tile(ctx context.Context, src *mapsource.Source, store *tilestore.Store, s Settings, m projection.MapCoord, xs, ys float64) image.Image {
	key := cacheKey(src, s, m, xs, ys)
	if img, _, ok := l.deps.Cache.Get(key); ok {
		return img
	}

	v, _, _ := l.loads.Do(key.ID(), func() (any, error) {
		// a load that finished between our miss and Do has inserted it
		if img, _, ok := l.deps.Cache.Get(key); ok {
			return img, nil
		}
		img := l.load(ctx, src, store, m, s.Alpha, xs, ys)
		if img == nil {
			return nil, nil
		}
		l.deps.Cache.Add(key, img, cache.Extra{})
		return img, nil
	})
	img, _ := v.(image.Image)
	return img
}

// load reads and decodes m. Every failure is a miss; corrupt files are
// removed so the next download replaces them.
func (l *Layer) load(ctx context.Context, src *mapsource.Source, store *tilestore.Store, m projection.MapCoord, alpha uint8, xs, ys float64) image.Image {
	data, path, err := l.read(ctx, src, store, m)
	if err != nil {
		if !errors.Is(err, tilestore.ErrMiss) {
			l.logger.Warn("failed to read tile", "source", src.ID, "tile", m.String(), "error", err)
		}
		return nil
	}

	img, err := decodeTile(data)
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(strconv.Itoa(src.ID)).Inc()
		where := path
		if where == "" {
			where = fmt.Sprintf("%s/%s", src.Name, m.String())
		}
		if l.reportDecodeOnce(where) {
			l.logger.Warn("couldn't open image file", "source", src.ID, "path", where, "error", err)
		}
		if path != "" {
			if err := store.Remove(path); err != nil {
				l.logger.Warn("failed to remove corrupt tile", "path", path, "error", err)
			}
			l.forgetBlob(ctx, path)
		}
		return nil
	}
	return applySettings(img, alpha, xs, ys)
}

// read returns the raw tile and, for tiles in the disk store, its path.
func (l *Layer) read(ctx context.Context, src *mapsource.Source, store *tilestore.Store, m projection.MapCoord) ([]byte, string, error) {
	if src.IsDirectFileAccess() {
		data, err := src.ReadTile(ctx, m)
		diskRead(err)
		return data, "", err
	}

	path := store.Path(src.TileRef(m))
	data, ok, err := l.deps.Blobs.Get(ctx, path)
	if err != nil {
		l.logger.Warn("blob cache lookup failed", "path", path, "error", err)
	}
	if ok {
		return data, path, nil
	}

	data, err = store.Read(path)
	diskRead(err)
	if err != nil {
		return nil, path, err
	}
	if err := l.deps.Blobs.Set(ctx, path, data); err != nil {
		l.logger.Warn("failed to fill blob cache", "path", path, "error", err)
	}
	return data, path, nil
}

func (l *Layer) forgetBlob(ctx context.Context, path string) {
	if err := l.deps.Blobs.Delete(context.WithoutCancel(ctx), path); err != nil {
		l.logger.Warn("failed to drop blob cache entry", "path", path, "error", err)
	}
}

func diskRead(err error) {
	switch {
	case err == nil:
		metrics.DiskReads.WithLabelValues("hit").Inc()
	case errors.Is(err, tilestore.ErrMiss):
		metrics.DiskReads.WithLabelValues("miss").Inc()
	default:
		metrics.DiskReads.WithLabelValues("error").Inc()
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
