// Command prefetch fills the tile cache for a bounding box ahead of going
// offline.
//
//	prefetch -source 13 -bbox -0.2,51.4,0.0,51.6 -zoom 10-14 -mode missing
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jaennil/guide_helper/backend/maps/internal/app"
	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase/maplayer"
	"github.com/jaennil/guide_helper/backend/maps/pkg/config"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	sourceID := flag.Int("source", mapsource.IDOSMMapnik, "map source id")
	bbox := flag.String("bbox", "", "bounding box as minLon,minLat,maxLon,maxLat")
	zooms := flag.String("zoom", "10", "zoom level or range, e.g. 10-14")
	modeName := flag.String("mode", maplayer.ModeNone.String(), "missing, bad, new, all or refresh")
	flag.Parse()

	bound, err := parseBBox(*bbox)
	if err != nil {
		log.Println(err)
		flag.Usage()
		return 2
	}
	zmin, zmax, err := parseZooms(*zooms)
	if err != nil {
		log.Println(err)
		return 2
	}
	mode, err := maplayer.ParseMode(*modeName)
	if err != nil {
		log.Println(err)
		return 2
	}

	cfg, err := config.New()
	if err != nil {
		log.Println("failed to load config: ", err)
		return 2
	}
	l := logger.NewZapLogger(cfg.Logger).Named("prefetch")
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	maps, err := app.NewMaps(cfg, l)
	if err != nil {
		l.Error("failed to initialize maps", "error", err)
		return 1
	}
	defer maps.Close()

	s := maplayer.DefaultSettings(*sourceID)
	s.AutoDownload = false
	layer, err := maplayer.New(maps.LayerDeps(), s)
	if err != nil {
		l.Error("failed to open map source", "source", *sourceID, "error", err)
		return 1
	}
	defer layer.Close()
	src, _ := layer.Source()

	ul := projection.NewLatLon(bound.Max.Lat(), bound.Min.Lon())
	br := projection.NewLatLon(bound.Min.Lat(), bound.Max.Lon())

	total := 0
	for z := zmin; z <= zmax; z++ {
		n, err := layer.HowManyToGet(ctx, ul, br, projection.ZoomLevelToMpp(z), mode)
		if err != nil {
			l.Error("cannot download this zoom", "source", src.ID, "zoom", z, "error", err)
			return 1
		}
		if src.DrawMode() == projection.DrawModeMercator {
			l.Info("zoom level", "zoom", z, "tiles_in_bbox", tilesIn(bound, z), "to_get", n)
		}
		total += n
	}
	if total == 0 {
		fmt.Println("nothing to download")
		return 0
	}

	ch, unsubscribe := maps.Bus.Subscribe()
	defer unsubscribe()

	ours := make(map[int64]bool)
	for z := zmin; z <= zmax; z++ {
		sub, err := layer.DownloadSection(ctx, ul, br, projection.ZoomLevelToMpp(z), mode)
		if err != nil {
			l.Error("failed to queue download", "zoom", z, "error", err)
			return 1
		}
		for _, id := range sub.Tasks {
			ours[int64(id)] = true
		}
	}

	bar := progressbar.Default(int64(total), fmt.Sprintf("%s z%d-%d", src.Label, zmin, zmax))
	done := make(chan struct{})
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		maps.Remote.Wait()
		close(done)
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return nil
				}
				switch {
				case e.Kind == events.TileReady && ours[e.TaskID]:
					bar.Add(1)
				case e.Kind == events.Status && e.Source == src.ID:
					failures++
				}
			case <-done:
				return nil
			case <-gctx.Done():
				maps.Remote.CancelAll()
				<-done
				return gctx.Err()
			}
		}
	})

	err = g.Wait()
	bar.Finish()
	fmt.Println()
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "prefetch interrupted")
		return 130
	case failures > 0:
		fmt.Fprintf(os.Stderr, "%d tiles failed to download\n", failures)
		return 1
	}
	return 0
}

func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: want minLon,minLat,maxLon,maxLat", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if b.Min.Lon() > b.Max.Lon() || b.Min.Lat() > b.Max.Lat() {
		return orb.Bound{}, fmt.Errorf("bbox %q: min corner exceeds max corner", s)
	}
	if !mapsource.World.Contains(b.Min) || !mapsource.World.Contains(b.Max) {
		return orb.Bound{}, fmt.Errorf("bbox %q: outside lon/lat range", s)
	}
	return b, nil
}

func parseZooms(s string) (int, int, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	zmin, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("zoom %q: %w", s, err)
	}
	zmax := zmin
	if isRange {
		if zmax, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("zoom %q: %w", s, err)
		}
	}
	if zmin < 0 || zmax > projection.MaxScale || zmin > zmax {
		return 0, 0, fmt.Errorf("zoom %q: want levels within 0-%d", s, projection.MaxScale)
	}
	return zmin, zmax, nil
}

// tilesIn is the number of web mercator tiles covering b at zoom z.
func tilesIn(b orb.Bound, z int) int {
	ul := maptile.At(orb.Point{b.Min.Lon(), b.Max.Lat()}, maptile.Zoom(z))
	br := maptile.At(orb.Point{b.Max.Lon(), b.Min.Lat()}, maptile.Zoom(z))
	return int(br.X-ul.X+1) * int(br.Y-ul.Y+1)
}
