package fitswriter

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// WritePreview renders arr's value plane (the first channel, for a
// weighted 3-D array) as an 8-bit grayscale TIFF, suitable for a quick
// visual sanity check of a capture without a FITS viewer. It is not
// part of the acquisition data path.
func WritePreview(arr *sharedarray.Array, path string) *ipcerr.Stack {
	width := int(arr.DimSize(0))
	height := int(arr.DimSize(1))
	if width <= 0 || height <= 0 {
		return ipcerr.NewStack().Push("fitswriter.WritePreview", ipcerr.BadSize)
	}

	gray, err := toGray8(arr, width, height)
	if err != nil {
		return err
	}

	f, openErr := os.Create(path)
	if openErr != nil {
		return ipcerr.NewStack().PushSystem("fitswriter.WritePreview", int(errnoOf(openErr)))
	}
	defer f.Close()

	if encErr := tiff.Encode(f, gray, nil); encErr != nil {
		return ipcerr.NewStack().Push("fitswriter.WritePreview", ipcerr.Unwritable)
	}
	return nil
}

// toGray8 normalizes arr's value plane to 8-bit grayscale by a simple
// min/max stretch (no gamma, no channel selection beyond "value").
func toGray8(arr *sharedarray.Array, width, height int) (*image.Gray, *ipcerr.Stack) {
	n := width * height
	raw := arr.DataPtr()
	values := make([]float64, n)

	switch arr.ElementType() {
	case sharedarray.Uint8:
		for i := 0; i < n; i++ {
			values[i] = float64(raw[i])
		}
	case sharedarray.Int8:
		for i := 0; i < n; i++ {
			values[i] = float64(int8(raw[i]))
		}
	case sharedarray.Uint16:
		for i := 0; i < n; i++ {
			values[i] = float64(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case sharedarray.Int16:
		for i := 0; i < n; i++ {
			values[i] = float64(int16(binary.LittleEndian.Uint16(raw[i*2:])))
		}
	case sharedarray.Uint32:
		for i := 0; i < n; i++ {
			values[i] = float64(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case sharedarray.Int32:
		for i := 0; i < n; i++ {
			values[i] = float64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case sharedarray.Float32:
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			values[i] = float64(math.Float32frombits(bits))
		}
	case sharedarray.Float64:
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(raw[i*8:])
			values[i] = math.Float64frombits(bits)
		}
	default:
		return nil, ipcerr.NewStack().Push("fitswriter.toGray8", ipcerr.BadType)
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := values[y*width+x]
			var scaled float64
			if span > 0 {
				scaled = (v - lo) / span * 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(scaled)})
		}
	}
	return img, nil
}
