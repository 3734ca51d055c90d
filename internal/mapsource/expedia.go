package mapsource

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"

	"github.com/jaennil/guide_helper/backend/maps/internal/download"
	"github.com/jaennil/guide_helper/backend/maps/internal/projection"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tilestore"
)

const (
	ExpediaHost = "expedia.com"
	// ExpediaURITemplate takes lat, lon, language, altitude, width and height.
	ExpediaURITemplate = "/pub/agent.dll?qscr=mrdt&ID=3XNsF.&CenP=%f,%f&Lang=%s&Alti=%d&Size=%d,%d&Offs=0.000000,0.000000&BCheck&tpid=1"

	// AltiToMpp converts an Expedia altitude to metres per pixel.
	AltiToMpp = 1.4017295

	heightOfLatDegree = 111318.84502 / AltiToMpp
	// the logo band cut from top and bottom, plus a pixel of overlap
	expediaLogoBand  = 25
	expediaHeightPad = 26
	expediaWidthPad  = 1
)

type ExpediaConfig struct {
	ID          int
	Hostname    string
	URITemplate string
}

// NewExpedia builds the legacy Expedia street map source. The remote
// service has changed shape, so it is registered deprecated and its
// request template is data.
func NewExpedia(c ExpediaConfig) *Source {
	host := c.Hostname
	if host == "" {
		host = ExpediaHost
	}
	tpl := c.URITemplate
	if tpl == "" {
		tpl = ExpediaURITemplate
	}
	fam := projection.Expedia{}

	return &Source{
		ID:            c.ID,
		Name:          "Expedia",
		Label:         "Expedia Street Maps",
		FileExtension: ".png",
		ZoomMin:       0,
		ZoomMax:       22,
		Bounds:        World,
		Deprecated:    true,
		Projection:    fam,
		Hostname:      host,
		URI: func(m projection.MapCoord) string {
			ll := fam.ToCenter(m).ToLatLon()
			w, h := expediaRequestSize(m.Scale, ll.Lat)
			lang := "USA0409"
			if ll.Lon > -30 {
				lang = "EUR0809"
			}
			return fmt.Sprintf(tpl, ll.Lat, ll.Lon, lang, m.Scale, w, h)
		},
		Options:     download.Options{FollowLocation: 2, CheckFile: download.CheckMapFile},
		PostProcess: CropLogoBands,
	}
}

// expediaRequestSize is the pixel size covering one lattice cell plus the
// bands cropped afterwards.
func expediaRequestSize(alti int, lat float64) (int, int) {
	freq, ok := projection.ExpediaFreq(alti)
	if !ok || alti == 0 {
		return 0, 0
	}
	height := int(heightOfLatDegree / freq / float64(alti))
	width := int(float64(height) * math.Cos(lat*math.Pi/180))
	return width + 2*expediaWidthPad, height + 2*expediaHeightPad
}

// CropLogoBands removes the logo bands from the top and bottom of the
// image at path and stores it back as PNG.
func CropLogoBands(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	b := img.Bounds()
	if b.Dy() <= 2*expediaLogoBand {
		return fmt.Errorf("image %s too small to crop: %dx%d", path, b.Dx(), b.Dy())
	}
	crop := image.Rect(b.Min.X, b.Min.Y+expediaLogoBand, b.Max.X, b.Max.Y-expediaLogoBand)
	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(out, out.Bounds(), img, crop.Min, draw.Src)

	tmp, err := tilestore.CreateTemp(path)
	if err != nil {
		return err
	}
	if err := png.Encode(tmp, out); err != nil {
		tmp.Abort()
		return err
	}
	return tmp.Commit()
}
