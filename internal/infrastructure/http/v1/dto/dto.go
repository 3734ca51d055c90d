package dto

import (
	"github.com/jaennil/guide_helper/backend/maps/internal/mapsource"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
)

type RenderQuery struct {
	Source   *int    `form:"source" validate:"omitempty,gte=0"`
	Lat      float64 `form:"lat" validate:"gte=-90,lte=90"`
	Lon      float64 `form:"lon" validate:"gte=-180,lte=180"`
	Mpp      float64 `form:"mpp" validate:"gt=0,lte=1048576"`
	Width    int     `form:"width" validate:"gte=1,lte=4096"`
	Height   int     `form:"height" validate:"gte=1,lte=4096"`
	Alpha    *int    `form:"alpha" validate:"omitempty,gte=0,lte=255"`
	DrawMode string  `form:"drawmode" validate:"omitempty,oneof=utm expedia mercator latlon"`
}

// DownloadRequest selects a bounding box. Mpp wins over Zoom when both
// are given.
type DownloadRequest struct {
	Source int     `json:"source" validate:"gte=0"`
	MinLat float64 `json:"min_lat" validate:"gte=-90,lte=90"`
	MinLon float64 `json:"min_lon" validate:"gte=-180,lte=180"`
	MaxLat float64 `json:"max_lat" validate:"gte=-90,lte=90,gtefield=MinLat"`
	MaxLon float64 `json:"max_lon" validate:"gte=-180,lte=180,gtefield=MinLon"`
	Zoom   int     `json:"zoom" validate:"gte=0,lte=22"`
	Mpp    float64 `json:"mpp" validate:"omitempty,gt=0"`
	Mode   string  `json:"mode" validate:"omitempty,oneof=missing bad new all refresh"`
	// DryRun only counts the tiles.
	DryRun bool `json:"dry_run"`
}

func (r DownloadRequest) Metres() float64 {
	if r.Mpp > 0 {
		return r.Mpp
	}
	return projection.ZoomLevelToMpp(r.Zoom)
}

type DownloadResponse struct {
	TaskID int64   `json:"task_id,omitempty"`
	Tasks  []int64 `json:"tasks,omitempty"`
	Tiles  int     `json:"tiles"`
	Queued bool    `json:"queued"`
}

type SourceResponse struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	DrawMode  string    `json:"drawmode"`
	TileSize  [2]int    `json:"tile_size"`
	ZoomMin   int       `json:"zoom_min"`
	ZoomMax   int       `json:"zoom_max"`
	Bounds    []float64 `json:"bounds"`
	Copyright string    `json:"copyright,omitempty"`
	// DirectAccess sources read local files and never download.
	DirectAccess bool `json:"direct_access"`
	Downloadable bool `json:"downloadable"`
}

func NewSourceResponse(s *mapsource.Source) SourceResponse {
	return SourceResponse{
		ID:           s.ID,
		Name:         s.Name,
		Label:        s.Label,
		DrawMode:     s.DrawMode().String(),
		TileSize:     [2]int{s.TileSizeX, s.TileSizeY},
		ZoomMin:      s.ZoomMin,
		ZoomMax:      s.ZoomMax,
		Bounds:       []float64{s.Bounds.Min.Lon(), s.Bounds.Min.Lat(), s.Bounds.Max.Lon(), s.Bounds.Max.Lat()},
		Copyright:    s.Copyright,
		DirectAccess: s.IsDirectFileAccess(),
		Downloadable: !s.IsDirectFileAccess() && s.HasDownloader(),
	}
}

type FlushResponse struct {
	Source  int `json:"source"`
	Removed int `json:"removed"`
}

type AckResponse struct {
	Acknowledged int64 `json:"acknowledged"`
}

type CancelResponse struct {
	Canceled int `json:"canceled"`
}
