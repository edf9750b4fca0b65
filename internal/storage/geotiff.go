package storage

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"forestagree/internal/raster"
	"forestagree/internal/types"
)

// GeoTIFF is an encoded raster: a single-band grayscale TIFF, its ESRI
// world file and a GDAL PAM sidecar carrying the CRS, nodata value and
// pixel type.
type GeoTIFF struct {
	Image []byte
	World []byte
	Aux   []byte
}

// Sidecar file names for an image named name.tif.
func worldName(name string) string { return strings.TrimSuffix(name, ".tif") + ".tfw" }
func auxName(name string) string   { return name + ".aux.xml" }

type pamDataset struct {
	XMLName xml.Name `xml:"PAMDataset"`
	SRS     string   `xml:"SRS"`
	Band    pamBand  `xml:"PAMRasterBand"`
}

type pamBand struct {
	Band        int      `xml:"band,attr"`
	NoDataValue int      `xml:"NoDataValue"`
	Metadata    []pamMDI `xml:"Metadata>MDI"`
}

type pamMDI struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

const mdiPixelType = "PIXEL_TYPE"

// EncodeGeoTIFF serializes ir. uint8 rasters become 8-bit gray, int16
// rasters 16-bit gray holding the two's-complement bits.
func EncodeGeoTIFF(ir *raster.IntRaster) (*GeoTIFF, error) {
	rect := image.Rect(0, 0, ir.Cols, ir.Rows)
	var img image.Image
	switch ir.Type {
	case raster.PixelUint8:
		g := image.NewGray(rect)
		for row := 0; row < ir.Rows; row++ {
			for col := 0; col < ir.Cols; col++ {
				g.Pix[row*g.Stride+col] = uint8(ir.Data[ir.Index(col, row)])
			}
		}
		img = g
	case raster.PixelInt16:
		g := image.NewGray16(rect)
		for row := 0; row < ir.Rows; row++ {
			for col := 0; col < ir.Cols; col++ {
				u := uint16(ir.Data[ir.Index(col, row)])
				off := row*g.Stride + 2*col
				g.Pix[off] = uint8(u >> 8)
				g.Pix[off+1] = uint8(u)
			}
		}
		img = g
	default:
		return nil, types.NewAppError(types.ErrCodeConfigInvalidParameter,
			fmt.Sprintf("unsupported pixel type %q", ir.Type), nil)
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode TIFF", err)
	}

	aux, err := xml.MarshalIndent(pamDataset{
		SRS: ir.CRS,
		Band: pamBand{
			Band:        1,
			NoDataValue: int(ir.NoData),
			Metadata:    []pamMDI{{Key: mdiPixelType, Value: string(ir.Type)}},
		},
	}, "", "  ")
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode PAM sidecar", err)
	}

	return &GeoTIFF{Image: buf.Bytes(), World: worldFile(ir.Grid), Aux: aux}, nil
}

// worldFile returns the six ESRI world-file parameters. The last two are
// the map coordinates of the center of the top-left pixel.
func worldFile(g raster.Grid) []byte {
	cx, cy := g.PixelCenter(0, 0)
	vals := []float64{g.PixelSizeX, 0, 0, -g.PixelSizeY, cx, cy}
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// DecodeGeoTIFF parses the three parts written by EncodeGeoTIFF.
func DecodeGeoTIFF(g *GeoTIFF) (*raster.IntRaster, error) {
	var pam pamDataset
	if err := xml.Unmarshal(g.Aux, &pam); err != nil {
		return nil, fmt.Errorf("parse PAM sidecar: %w", err)
	}
	pixelType := raster.PixelUint8
	for _, m := range pam.Band.Metadata {
		if m.Key == mdiPixelType {
			pixelType = raster.PixelType(m.Value)
		}
	}

	fields := strings.Fields(string(g.World))
	if len(fields) != 6 {
		return nil, fmt.Errorf("world file has %d values, expected 6", len(fields))
	}
	var w [6]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse world file: %w", err)
		}
		w[i] = v
	}

	img, err := tiff.Decode(bytes.NewReader(g.Image))
	if err != nil {
		return nil, fmt.Errorf("decode TIFF: %w", err)
	}
	b := img.Bounds()
	grid := raster.Grid{
		CRS:        pam.SRS,
		PixelSizeX: w[0],
		PixelSizeY: -w[3],
		OriginX:    w[4] - w[0]/2,
		OriginY:    w[5] - w[3]/2,
		Cols:       b.Dx(),
		Rows:       b.Dy(),
	}
	out := &raster.IntRaster{Grid: grid, Type: pixelType, NoData: int16(pam.Band.NoDataValue), Data: make([]int16, grid.Len())}

	switch m := img.(type) {
	case *image.Gray:
		for row := 0; row < grid.Rows; row++ {
			for col := 0; col < grid.Cols; col++ {
				out.Data[grid.Index(col, row)] = int16(m.GrayAt(b.Min.X+col, b.Min.Y+row).Y)
			}
		}
	case *image.Gray16:
		for row := 0; row < grid.Rows; row++ {
			for col := 0; col < grid.Cols; col++ {
				out.Data[grid.Index(col, row)] = int16(m.Gray16At(b.Min.X+col, b.Min.Y+row).Y)
			}
		}
	default:
		return nil, fmt.Errorf("unexpected TIFF color model %T", img)
	}
	return out, nil
}

// ReadGeoTIFF reads a GeoTIFF and its sidecars from the local filesystem.
func ReadGeoTIFF(path string) (*raster.IntRaster, error) {
	var g GeoTIFF
	var err error
	if g.Image, err = os.ReadFile(path); err != nil {
		return nil, err
	}
	if g.World, err = os.ReadFile(worldName(path)); err != nil {
		return nil, err
	}
	if g.Aux, err = os.ReadFile(auxName(path)); err != nil {
		return nil, err
	}
	return DecodeGeoTIFF(&g)
}
