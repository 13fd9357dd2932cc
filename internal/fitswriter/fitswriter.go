// Package fitswriter implements a minimal single-HDU FITS writer for
// shared arrays captured off the camera fabric: a SIMPLE/BITPIX/
// NAXIS/NAXISn/END primary header padded to a 2880-byte block,
// followed by the pixel data in FITS' native big-endian byte order,
// padded to the next 2880-byte boundary. It writes the image into the
// primary HDU only: no extensions, no WCS, no compression.
package fitswriter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// errnoOf extracts the underlying errno from an os package error, or 0
// if err does not wrap one (e.g. a pure Go error from a different
// layer).
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

const (
	blockSize = 2880
	cardSize  = 80
)

// bzeroFor returns the BZERO offset FITS' unsigned-integer convention
// requires for eltype, and true if eltype needs one (FITS has no
// native unsigned integer BITPIX; the convention stores value-BZERO in
// the signed representation of the same width).
func bzeroFor(eltype sharedarray.ElementType) (bzero float64, needed bool) {
	switch eltype {
	case sharedarray.Uint16:
		return 32768, true
	case sharedarray.Uint32:
		return 2147483648, true
	default:
		return 0, false
	}
}

func bitpixFor(eltype sharedarray.ElementType) (int, *ipcerr.Stack) {
	switch eltype {
	case sharedarray.Int8, sharedarray.Uint8:
		return 8, nil
	case sharedarray.Int16, sharedarray.Uint16:
		return 16, nil
	case sharedarray.Int32, sharedarray.Uint32:
		return 32, nil
	case sharedarray.Float32:
		return -32, nil
	case sharedarray.Float64:
		return -64, nil
	default:
		return 0, ipcerr.NewStack().Push("fitswriter.bitpixFor", ipcerr.BadType)
	}
}

func card(key, value string) string {
	s := fmt.Sprintf("%-8s= %-70s", key, value)
	if len(s) > cardSize {
		s = s[:cardSize]
	}
	return s + strings.Repeat(" ", cardSize-len(s))
}

func endCard() string {
	return "END" + strings.Repeat(" ", cardSize-3)
}

func padToBlock(buf []byte, pad byte) []byte {
	rem := len(buf) % blockSize
	if rem == 0 {
		return buf
	}
	for i := 0; i < blockSize-rem; i++ {
		buf = append(buf, pad)
	}
	return buf
}

// Writer adapts the package-level Save function to the
// external.FITSWriter interface.
type Writer struct{}

func (Writer) Save(arr *sharedarray.Array, path string, overwrite bool) *ipcerr.Stack {
	return Save(arr, path, overwrite)
}

// PreviewWriter adapts WritePreview to external.DebugPreviewWriter.
type PreviewWriter struct{}

func (PreviewWriter) WritePreview(arr *sharedarray.Array, path string) *ipcerr.Stack {
	return WritePreview(arr, path)
}

// Save writes arr's current contents to path as a single-HDU FITS
// file. The caller must already hold arr's lock if it needs the shape
// metadata to stay consistent with the written pixel data; Save itself
// only reads, it does not lock arr.
func Save(arr *sharedarray.Array, path string, overwrite bool) *ipcerr.Stack {
	bitpix, err := bitpixFor(arr.ElementType())
	if err != nil {
		return err
	}

	var cards []string
	cards = append(cards, card("SIMPLE", "T"))
	cards = append(cards, card("BITPIX", fmt.Sprintf("%d", bitpix)))
	cards = append(cards, card("NAXIS", fmt.Sprintf("%d", arr.NDims())))
	for d := 0; d < arr.NDims(); d++ {
		cards = append(cards, card(fmt.Sprintf("NAXIS%d", d+1), fmt.Sprintf("%d", arr.DimSize(d))))
	}
	if bzero, needed := bzeroFor(arr.ElementType()); needed {
		cards = append(cards, card("BZERO", fmt.Sprintf("%g", bzero)))
		cards = append(cards, card("BSCALE", "1"))
	}

	var header []byte
	for _, c := range cards {
		header = append(header, []byte(c)...)
	}
	header = append(header, []byte(endCard())...)
	header = padToBlock(header, ' ')

	data, encErr := encodeData(arr)
	if encErr != nil {
		return encErr
	}
	data = padToBlock(data, 0)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, openErr := os.OpenFile(path, flags, 0644)
	if openErr != nil {
		return ipcerr.NewStack().PushSystem("fitswriter.Save", int(errnoOf(openErr)))
	}
	defer f.Close()

	if _, writeErr := f.Write(header); writeErr != nil {
		return ipcerr.NewStack().PushSystem("fitswriter.Save", int(errnoOf(writeErr)))
	}
	if _, writeErr := f.Write(data); writeErr != nil {
		return ipcerr.NewStack().PushSystem("fitswriter.Save", int(errnoOf(writeErr)))
	}
	return nil
}

// encodeData converts arr's native-endian payload into FITS'
// big-endian on-disk representation, applying the BZERO shift for
// unsigned element types.
func encodeData(arr *sharedarray.Array) ([]byte, *ipcerr.Stack) {
	n := int(arr.Length())
	raw := arr.DataPtr()

	switch arr.ElementType() {
	case sharedarray.Int8, sharedarray.Uint8:
		out := make([]byte, n)
		copy(out, raw[:n])
		return out, nil
	case sharedarray.Int16:
		out := make([]byte, n*2)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
			binary.BigEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out, nil
	case sharedarray.Uint16:
		out := make([]byte, n*2)
		for i := 0; i < n; i++ {
			v := binary.LittleEndian.Uint16(raw[i*2:])
			binary.BigEndian.PutUint16(out[i*2:], uint16(int32(v)-32768))
		}
		return out, nil
	case sharedarray.Int32:
		out := make([]byte, n*4)
		for i := 0; i < n; i++ {
			v := binary.LittleEndian.Uint32(raw[i*4:])
			binary.BigEndian.PutUint32(out[i*4:], v)
		}
		return out, nil
	case sharedarray.Uint32:
		out := make([]byte, n*4)
		for i := 0; i < n; i++ {
			v := int64(binary.LittleEndian.Uint32(raw[i*4:])) - 2147483648
			binary.BigEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
		return out, nil
	case sharedarray.Float32:
		out := make([]byte, n*4)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint32(raw[i*4:])
			binary.BigEndian.PutUint32(out[i*4:], bits)
		}
		return out, nil
	case sharedarray.Float64:
		out := make([]byte, n*8)
		for i := 0; i < n; i++ {
			bits := binary.LittleEndian.Uint64(raw[i*8:])
			binary.BigEndian.PutUint64(out[i*8:], bits)
		}
		return out, nil
	default:
		return nil, ipcerr.NewStack().Push("fitswriter.encodeData", ipcerr.BadType)
	}
}
