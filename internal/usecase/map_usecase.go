package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/usecase/maplayer"
	"github.com/jaennil/guide_helper/backend/maps/internal/viewport"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

var ErrInvalidRequest = errors.New("invalid request")

type RenderRequest struct {
	SourceID int
	Center   projection.LatLon
	Mpp      float64
	Width    int
	Height   int
	Alpha    uint8
	// DrawMode defaults to the source's own mode.
	DrawMode *projection.DrawMode
}

type DownloadRequest struct {
	SourceID int
	UL, BR   projection.LatLon
	Mpp      float64
	Mode     maplayer.Mode
}

type layerKey struct {
	source int
	alpha  uint8
}

// MapUseCase serves renders and downloads with one long lived layer per
// source and alpha, so the autodownload debounce spans requests.
type MapUseCase struct {
	deps         maplayer.Deps
	autodownload bool
	logger       logger.Logger

	mu     sync.Mutex
	layers map[layerKey]*maplayer.Layer
}

func NewMapUseCase(deps maplayer.Deps, autodownload bool, l logger.Logger) *MapUseCase {
	return &MapUseCase{
		deps:         deps,
		autodownload: autodownload,
		logger:       logger.OrNop(l),
		layers:       make(map[layerKey]*maplayer.Layer),
	}
}

func (uc *MapUseCase) Sources() []*mapsource.Source {
	return uc.deps.Registry.List()
}

func (uc *MapUseCase) Source(id int) (*mapsource.Source, bool) {
	return uc.deps.Registry.FindByID(id)
}

func (uc *MapUseCase) layer(source int, alpha uint8) (*maplayer.Layer, error) {
	k := layerKey{source, alpha}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if l, ok := uc.layers[k]; ok {
		return l, nil
	}

	s := maplayer.DefaultSettings(source)
	s.Alpha = alpha
	s.AutoDownload = uc.autodownload
	l, err := maplayer.New(uc.deps, s)
	if err != nil {
		return nil, err
	}
	uc.layers[k] = l
	uc.logger.Debug("map layer created", "source", source, "alpha", alpha)
	return l, nil
}

// Render draws the request into a fresh raster. The raster is returned
// with its status messages even when drawing failed.
func (uc *MapUseCase) Render(ctx context.Context, req RenderRequest) (*viewport.RasterSink, error) {
	src, ok := uc.deps.Registry.FindByID(req.SourceID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", maplayer.ErrUnknownSource, req.SourceID)
	}
	if req.Width <= 0 || req.Height <= 0 || req.Mpp <= 0 {
		return nil, fmt.Errorf("%w: %dx%d at %g mpp", ErrInvalidRequest, req.Width, req.Height, req.Mpp)
	}
	mode := src.DrawMode()
	if req.DrawMode != nil {
		mode = *req.DrawMode
	}

	l, err := uc.layer(req.SourceID, req.Alpha)
	if err != nil {
		return nil, err
	}
	center := projection.NewLatLon(req.Center.Lat, req.Center.Lon)
	vp := viewport.New(center, req.Mpp, req.Mpp, req.Width, req.Height, mode)
	sink := viewport.NewRasterSink(req.Width, req.Height)
	return sink, l.Draw(ctx, vp, sink)
}

func (uc *MapUseCase) Download(ctx context.Context, req DownloadRequest) (maplayer.Submission, error) {
	l, err := uc.layer(req.SourceID, 255)
	if err != nil {
		return maplayer.Submission{}, err
	}
	ul := projection.NewLatLon(req.UL.Lat, req.UL.Lon)
	br := projection.NewLatLon(req.BR.Lat, req.BR.Lon)
	return l.DownloadSection(ctx, ul, br, req.Mpp, req.Mode)
}

// Verify queues a check of the tiles already on disk in the request area.
func (uc *MapUseCase) Verify(ctx context.Context, req DownloadRequest) (maplayer.Submission, error) {
	l, err := uc.layer(req.SourceID, 255)
	if err != nil {
		return maplayer.Submission{}, err
	}
	ul := projection.NewLatLon(req.UL.Lat, req.UL.Lon)
	br := projection.NewLatLon(req.BR.Lat, req.BR.Lon)
	return l.VerifySection(ctx, ul, br, req.Mpp)
}

func (uc *MapUseCase) HowManyToGet(ctx context.Context, req DownloadRequest) (int, error) {
	l, err := uc.layer(req.SourceID, 255)
	if err != nil {
		return 0, err
	}
	ul := projection.NewLatLon(req.UL.Lat, req.UL.Lon)
	br := projection.NewLatLon(req.BR.Lat, req.BR.Lon)
	return l.HowManyToGet(ctx, ul, br, req.Mpp, req.Mode)
}

// Close retires every layer. Their running downloads finish silently.
func (uc *MapUseCase) Close() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	for k, l := range uc.layers {
		l.Close()
		delete(uc.layers, k)
	}
}
