package maplayer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/jaennil/guide_helper/backend/maps/internal/background"
	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
	"github.com/jaennil/guide_helper/backend/maps/internal/viewport"
)

// Mode says what to do with tiles already on disk.
type Mode int

const (
	// ModeNone fetches missing tiles only.
	ModeNone Mode = iota
	// ModeBad also replaces tiles that fail to decode.
	ModeBad
	// ModeNew asks the server for a newer copy of every tile.
	ModeNew
	// ModeAll deletes and downloads every tile.
	ModeAll
	// ModeDownloadOrRefresh fetches missing tiles and reloads existing
	// ones from disk.
	ModeDownloadOrRefresh
)

var modeNames = [...]string{"missing", "bad", "new", "all", "refresh"}

func (m Mode) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(s, n) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown download mode %q", s)
}

// Submission is the outcome of asking for a download.
type Submission struct {
	TaskID background.ID `json:"task_id"`
	// Tiles is how many tiles the task expects to fetch.
	Tiles int `json:"tiles"`
	// Queued is false when nothing needed fetching or the same area was
	// already being downloaded.
	Queued bool `json:"queued"`
	// Tasks lists every task of the submission, for areas split by zone.
	Tasks []background.ID `json:"tasks,omitempty"`
}

// merge folds another zone's submission into s. TaskID stays the first
// task seen.
func (s Submission) merge(o Submission) Submission {
	if s.TaskID == 0 {
		s.TaskID = o.TaskID
	}
	if o.TaskID != 0 {
		s.Tasks = append(s.Tasks, o.TaskID)
	}
	s.Tiles += o.Tiles
	s.Queued = s.Queued || o.Queued
	return s
}

// DownloadSection queues a download of the tiles between ul and br at
// mpp metres per pixel. A UTM area crossing zones is queued as one task
// per zone; the submission then lists every task.
func (l *Layer) DownloadSection(ctx context.Context, ul, br projection.Coord, mpp float64, mode Mode) (Submission, error) {
	src, err := l.Source()
	if err != nil {
		return Submission{}, err
	}
	if err := downloadable(src); err != nil {
		return Submission{}, err
	}

	areas, err := sectionAreas(src, ul, br, mpp)
	if err != nil {
		return Submission{}, err
	}
	s := l.Settings()
	var out Submission
	for _, a := range areas {
		b := &batch{layer: l, src: src, store: l.store(s), area: a, mode: mode}
		sub, err := l.queue(ctx, l.deps.Pool, "download", s, b, describe)
		if err != nil {
			return out, err
		}
		out = out.merge(sub)
	}
	return out, nil
}

// DownloadOnscreen queues the tiles visible in vp, one task per UTM zone.
func (l *Layer) DownloadOnscreen(ctx context.Context, vp *viewport.Viewport, mode Mode) ([]Submission, error) {
	src, err := l.Source()
	if err != nil {
		return nil, err
	}
	if src.DrawMode() != vp.DrawMode {
		return nil, fmt.Errorf("%w: %s", ErrDrawModeMismatch, DrawModeHint(src))
	}
	if err := downloadable(src); err != nil {
		return nil, err
	}

	s := l.Settings()
	z := chooseZoom(src, s, vp, l.deps.Prefs.Snapshot())

	var corners [][2]projection.Coord
	if vp.CoordMode() == projection.ModeUTM && !vp.IsOneZone() {
		for zone := vp.LeftmostZone(); zone <= vp.RightmostZone(); zone++ {
			ul, br := vp.CornersForZone(zone)
			corners = append(corners, [2]projection.Coord{ul, br})
		}
	} else {
		ul, br := vp.Corners()
		corners = append(corners, [2]projection.Coord{ul, br})
	}

	var out []Submission
	for _, c := range corners {
		ulm, err := src.CoordToMapCoord(c[0], z.xmpp, z.ympp)
		if err != nil {
			return out, fmt.Errorf("wrong zoom level for this map: %w", err)
		}
		brm, err := src.CoordToMapCoord(c[1], z.xmpp, z.ympp)
		if err != nil {
			return out, fmt.Errorf("wrong zoom level for this map: %w", err)
		}
		sub, err := l.submit(ctx, src, s, ulm, brm, mode)
		if err != nil {
			return out, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// HowManyToGet counts the tiles a download of the area would fetch
// without fetching anything. ModeNew assumes every tile has changed.
func (l *Layer) HowManyToGet(ctx context.Context, ul, br projection.Coord, mpp float64, mode Mode) (int, error) {
	src, err := l.Source()
	if err != nil {
		return 0, err
	}
	if src.IsDirectFileAccess() {
		return 0, nil
	}
	areas, err := sectionAreas(src, ul, br, mpp)
	if err != nil {
		return 0, err
	}

	store := l.store(l.Settings())
	n := 0
	for _, a := range areas {
		if mode == ModeAll {
			n += a.size()
			continue
		}
		err := a.each(ctx, func(m projection.MapCoord) error {
			if !inArea(src, m) {
				return nil
			}
			if mode == ModeNew {
				n++
				return nil
			}
			path := store.Path(src.TileRef(m))
			if !store.Exists(path) {
				n++
				return nil
			}
			if mode == ModeBad && !decodable(store, path) {
				n++
			}
			return nil
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// VerifySection queues a check of the tiles on disk between ul and br on
// the local pool. Tiles that fail to decode are deleted.
func (l *Layer) VerifySection(ctx context.Context, ul, br projection.Coord, mpp float64) (Submission, error) {
	src, err := l.Source()
	if err != nil {
		return Submission{}, err
	}
	if src.IsDirectFileAccess() {
		return Submission{}, fmt.Errorf("%w: %s", ErrDirectAccess, src)
	}
	areas, err := sectionAreas(src, ul, br, mpp)
	if err != nil {
		return Submission{}, err
	}

	pool := l.deps.LocalPool
	if pool == nil {
		pool = l.deps.Pool
	}
	s := l.Settings()
	var out Submission
	for _, a := range areas {
		b := &batch{layer: l, src: src, store: l.store(s), area: a, mode: ModeBad, verifyOnly: true}
		sub, err := l.queue(ctx, pool, "verify", s, b, func(n int, label string, _ Mode) string {
			return fmt.Sprintf("Checking %d %s tiles...", n, label)
		})
		if err != nil {
			return out, err
		}
		out = out.merge(sub)
	}
	return out, nil
}

// sectionAreas maps the box between ul and br to tile rectangles of src.
// The corners are converted to the source's coordinate mode first, and a
// UTM box is split at zone boundaries.
func sectionAreas(src *mapsource.Source, ul, br projection.Coord, mpp float64) ([]area, error) {
	var boxes [][2]projection.Coord
	if src.DrawMode().CoordMode() == projection.ModeUTM {
		boxes = utmBoxes(ul, br)
	} else {
		boxes = [][2]projection.Coord{{ul.Convert(projection.ModeLatLon), br.Convert(projection.ModeLatLon)}}
	}

	areas := make([]area, 0, len(boxes))
	for _, b := range boxes {
		ulm, err := src.CoordToMapCoord(b[0], mpp, mpp)
		if err != nil {
			return nil, err
		}
		brm, err := src.CoordToMapCoord(b[1], mpp, mpp)
		if err != nil {
			return nil, err
		}
		areas = append(areas, newArea(ulm, brm))
	}
	return areas, nil
}

// utmBoxes returns one UTM box per zone the area touches. Each box covers
// the projected corners of the area clipped to the zone's longitudes.
func utmBoxes(ul, br projection.Coord) [][2]projection.Coord {
	if ul.Mode == projection.ModeUTM && br.Mode == projection.ModeUTM && ul.UTM.Zone == br.UTM.Zone {
		return [][2]projection.Coord{{ul, br}}
	}

	a, b := ul.ToLatLon(), br.ToLatLon()
	north, south := max(a.Lat, b.Lat), min(a.Lat, b.Lat)
	west, east := min(a.Lon, b.Lon), max(a.Lon, b.Lon)
	zw, ze := lonZone(west), lonZone(east)

	var boxes [][2]projection.Coord
	for zone := zw; zone <= ze; zone++ {
		cm := projection.ZoneCentralMeridian(zone)
		w, e := max(west, cm-3), min(east, cm+3)
		if w > e {
			continue
		}
		lats := []float64{north, south}
		if north > 0 && south < 0 {
			// zones are widest at the equator
			lats = append(lats, 0)
		}
		var u, d projection.UTM
		first := true
		for _, lat := range lats {
			for _, lon := range []float64{w, e} {
				p := projection.LatLonToUTMZone(projection.LatLon{Lat: lat, Lon: lon}, zone)
				if first {
					u, d = p, p
					first = false
					continue
				}
				u.Easting, d.Easting = min(u.Easting, p.Easting), max(d.Easting, p.Easting)
				u.Northing, d.Northing = max(u.Northing, p.Northing), min(d.Northing, p.Northing)
			}
		}
		u.Letter, d.Letter = projection.BandLetter(north), projection.BandLetter(south)
		boxes = append(boxes, [2]projection.Coord{projection.NewUTM(u), projection.NewUTM(d)})
	}
	return boxes
}

// lonZone is the standard six degree zone of lon, ignoring the Norway and
// Svalbard exceptions.
func lonZone(lon float64) int {
	return projection.UTMZoneFor(0, lon)
}

func downloadable(src *mapsource.Source) error {
	if src.IsDirectFileAccess() {
		return fmt.Errorf("%w: %s", ErrDirectAccess, src)
	}
	if !src.HasDownloader() {
		return fmt.Errorf("%w: %s", mapsource.ErrNoDownloader, src)
	}
	return nil
}

// inArea reports whether the centre of m lies in the source's coverage.
func inArea(src *mapsource.Source, m projection.MapCoord) bool {
	ll := src.MapCoordToCenter(m).ToLatLon()
	return src.Bounds.Contains(orb.Point{ll.Lon, ll.Lat})
}

func decodable(store *tilestore.Store, path string) bool {
	data, err := store.Read(path)
	if err != nil {
		return false
	}
	_, err = decodeTile(data)
	return err == nil
}

// area is an inclusive rectangle of tile indices at one scale.
type area struct {
	x0, y0, x1, y1 int
	z, scale       int
}

func newArea(a, b projection.MapCoord) area {
	return area{
		x0: min(a.X, b.X), x1: max(a.X, b.X),
		y0: min(a.Y, b.Y), y1: max(a.Y, b.Y),
		z: a.Z, scale: a.Scale,
	}
}

func (a area) size() int {
	return (a.x1 - a.x0 + 1) * (a.y1 - a.y0 + 1)
}

func (a area) each(ctx context.Context, fn func(m projection.MapCoord) error) error {
	for x := a.x0; x <= a.x1; x++ {
		for y := a.y0; y <= a.y1; y++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(projection.MapCoord{X: x, Y: y, Z: a.z, Scale: a.scale}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a area) fingerprint(source int, mode Mode) string {
	fp := fmt.Sprintf("%d:%d:%d:%d:%d:%d:%s", source, a.scale, a.x0, a.y0, a.x1, a.y1, mode)
	if a.z != 0 {
		fp += fmt.Sprintf(":z%d", a.z)
	}
	return fp
}

func describe(n int, label string, mode Mode) string {
	noun := "maps"
	if n == 1 {
		noun = "map"
	}
	switch mode {
	case ModeNone:
		return fmt.Sprintf("Downloading %d %s %s...", n, label, noun)
	case ModeBad:
		return fmt.Sprintf("Redownloading up to %d %s %s...", n, label, noun)
	default:
		return fmt.Sprintf("Redownloading %d %s %s...", n, label, noun)
	}
}

// submit counts the work in the rectangle and queues one batch task for
// it on the remote pool.
func (l *Layer) submit(ctx context.Context, src *mapsource.Source, s Settings, ulm, brm projection.MapCoord, mode Mode) (Submission, error) {
	b := &batch{layer: l, src: src, store: l.store(s), area: newArea(ulm, brm), mode: mode}
	return l.queue(ctx, l.deps.Pool, "download", s, b, describe)
}

// queue counts the work of b and submits it to pool.
func (l *Layer) queue(ctx context.Context, pool *background.Pool, kind string, s Settings, b *batch, desc func(int, string, Mode) string) (Submission, error) {
	a, src, store, mode := b.area, b.src, b.store, b.mode

	total := 0
	if mode != ModeNone || b.verifyOnly {
		total = a.size()
	} else {
		err := a.each(ctx, func(m projection.MapCoord) error {
			if inArea(src, m) && !store.Exists(store.Path(src.TileRef(m))) {
				total++
			}
			return nil
		})
		if err != nil {
			return Submission{}, err
		}
	}
	if total == 0 {
		return Submission{}, nil
	}

	b.total = total
	fp := a.fingerprint(src.ID, mode)
	if b.verifyOnly {
		fp += ":verify"
	}
	l.pending.Add(1)
	id, queued := pool.Submit(ctx, background.Spec{
		Fingerprint:   fp,
		Description:   desc(total, src.Label, mode),
		Parent:        s.Name,
		Items:         total,
		Work:          b.run,
		Free:          b.free,
		CancelCleanup: b.cleanup,
	})
	if id == 0 {
		return Submission{}, fmt.Errorf("%s pool is closed", pool.Name())
	}
	if queued {
		l.logger.Info(kind+" queued", "source", src.ID, "task", id, "tiles", total, "mode", mode.String())
	}
	return Submission{TaskID: id, Tiles: total, Queued: queued}, nil
}

// batch is the state of one download task. It outlives the layer that
// queued it.
type batch struct {
	layer *Layer
	src   *mapsource.Source
	store *tilestore.Store
	area  area
	mode  Mode
	total int

	// verifyOnly checks the tiles on disk and never downloads.
	verifyOnly bool

	mu      sync.Mutex
	current string
}

func (b *batch) run(ctx context.Context, h *background.Handle) error {
	done := 0
	return b.area.each(ctx, func(m projection.MapCoord) error {
		if !inArea(b.src, m) {
			return nil
		}
		done++
		if h.Progress(float64(done) / float64(b.total)) {
			return ctx.Err()
		}
		b.fetch(ctx, h, m)
		return nil
	})
}

// fetch brings one tile up to date. Failures are counted, never returned,
// so one bad tile does not stop the batch.
func (b *batch) fetch(ctx context.Context, h *background.Handle, m projection.MapCoord) {
	path := b.store.Path(b.src.TileRef(m))
	if b.verifyOnly {
		b.verify(ctx, m, path)
		return
	}
	needDownload, invalidate := false, false

	if !b.store.Exists(path) {
		needDownload, invalidate = true, true
	} else {
		switch b.mode {
		case ModeNone:
			return
		case ModeBad:
			if !decodable(b.store, path) {
				b.remove(path)
				needDownload, invalidate = true, true
			}
		case ModeNew:
			needDownload, invalidate = true, true
		case ModeAll:
			b.remove(path)
			needDownload, invalidate = true, true
		case ModeDownloadOrRefresh:
			invalidate = true
		}
	}

	b.setCurrent(path)
	if needDownload {
		out, err := b.src.Download(ctx, b.layer.deps.Downloader, m, path, nil)
		if ctx.Err() != nil {
			// canceled: cleanup sees current and the cache is left alone
			return
		}
		if err != nil {
			h.AddFailure()
			b.report(out, m, err)
		}
		if out.Result == download.ResultNoNewerFile {
			invalidate = false
		}
	}

	if invalidate {
		b.layer.deps.Cache.RemoveAllMatching(m.X, m.Y, m.Z, b.src.ID, m.Scale)
		b.layer.forgetBlob(ctx, path)
	}
	if b.layer.Alive() {
		b.layer.deps.Bus.Publish(events.Event{
			Kind:   events.TileReady,
			TaskID: int64(h.ID()),
			Source: b.src.ID,
			X:      m.X,
			Y:      m.Y,
			Z:      m.Z,
			Scale:  m.Scale,
		})
	}
	b.setCurrent("")
}

// verify removes path when it no longer decodes so the next draw or
// download replaces it.
func (b *batch) verify(ctx context.Context, m projection.MapCoord, path string) {
	if !b.store.Exists(path) || decodable(b.store, path) {
		return
	}
	b.layer.logger.Info("removing corrupt tile", "source", b.src.ID, "path", path)
	b.remove(path)
	b.layer.deps.Cache.RemoveAllMatching(m.X, m.Y, m.Z, b.src.ID, m.Scale)
	b.layer.forgetBlob(ctx, path)
}

func (b *batch) remove(path string) {
	if err := b.store.Remove(path); err != nil {
		b.layer.logger.Warn("redownload failed to remove tile", "path", path, "error", err)
	}
}

func (b *batch) report(out download.Outcome, m projection.MapCoord, err error) {
	msg := "Failed to download tile"
	if out.Detail == download.DetailFileWriteError {
		msg = "Unable to save tile"
	}
	b.layer.logger.Warn("tile download failed", "source", b.src.ID, "tile", m.String(),
		"result", out.Result.String(), "detail", out.Detail.String(), "error", err)
	b.layer.deps.Bus.Publish(events.Event{
		Kind:    events.Status,
		Message: fmt.Sprintf("%s: %s", b.src.Label, msg),
		Source:  b.src.ID,
	})
}

func (b *batch) setCurrent(path string) {
	b.mu.Lock()
	b.current = path
	b.mu.Unlock()
}

// cleanup removes what a canceled download left of the tile in flight.
func (b *batch) cleanup() {
	b.mu.Lock()
	path := b.current
	b.mu.Unlock()
	if path == "" {
		return
	}
	if n := b.store.RemoveTemps(path); n > 0 {
		b.layer.logger.Debug("removed partial download", "path", path, "files", n)
	}
}

func (b *batch) free() {
	b.layer.pending.Add(-1)
}
