// Package rawconvert implements the dense raw-frame conversion kernel:
// per-row copy-with-type-conversion decoders for the linear mono
// encodings, and the bit-unpacking decoder for Mono12Packed,
// dispatched through a 2-D table built once at package init time.
package rawconvert

import (
	"unsafe"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
)

// Encoding identifies the on-wire pixel layout produced by the camera
// SDK.
type Encoding int

const (
	Mono8 Encoding = iota
	Mono12
	Mono12Packed
	Mono12Coded
	Mono12CodedPacked
	Mono16
	Mono22Parallel
	Mono22PackedParallel
	Mono32
	RGB8Packed
	Float32
	Float64
	Unknown
)

func (e Encoding) String() string {
	switch e {
	case Mono8:
		return "Mono8"
	case Mono12:
		return "Mono12"
	case Mono12Packed:
		return "Mono12Packed"
	case Mono12Coded:
		return "Mono12Coded"
	case Mono12CodedPacked:
		return "Mono12CodedPacked"
	case Mono16:
		return "Mono16"
	case Mono22Parallel:
		return "Mono22Parallel"
	case Mono22PackedParallel:
		return "Mono22PackedParallel"
	case Mono32:
		return "Mono32"
	case RGB8Packed:
		return "RGB8Packed"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	default:
		return "Unknown"
	}
}

// decodeFunc is the type-erased shape every table cell has; dst is
// always the concrete destination slice ([]uint8, []uint16, []uint32,
// []float32 or []float64), never a pointer, since the destination
// buffer is owned by the caller (typically a pkg/sharedarray payload
// view) and decoders only ever write into it.
type decodeFunc func(dst any, src []byte, srcStride, width, height int) *ipcerr.Stack

// table is indexed [src][dst]; a nil cell is an unrecognized pair.
var table [int(Unknown) + 1][int(Unknown) + 1]decodeFunc

func init() {
	registerMonoFamily(Mono8, decodeMono[uint8])
	registerMonoFamily(Mono16, decodeMono[uint16])
	registerMonoFamily(Mono12, decodeMono[uint16]) // Mono12 unpacked aliases Mono16 on the wire.
	registerMonoFamily(Mono32, decodeMono[uint32])
	registerPackedFamily(Mono12Packed, decodeMono12Packed)
}

func registerMonoFamily(src Encoding, decode func(dst any, src []byte, srcStride, width, height int, destKind Encoding) *ipcerr.Stack) {
	for _, d := range []Encoding{Mono8, Mono16, Mono32, Float32, Float64} {
		dst := d
		table[src][dst] = func(out any, raw []byte, stride, w, h int) *ipcerr.Stack {
			return decode(out, raw, stride, w, h, dst)
		}
	}
}

func registerPackedFamily(src Encoding, decode func(dst any, src []byte, stride, w, h int, destKind Encoding) *ipcerr.Stack) {
	for _, d := range []Encoding{Mono8, Mono16, Mono32, Float32, Float64} {
		dst := d
		table[src][dst] = func(out any, raw []byte, stride, w, h int) *ipcerr.Stack {
			return decode(out, raw, stride, w, h, dst)
		}
	}
}

// Convert is the public dispatch entry point. dst must be the slice
// type matching dstEnc (see the decode switch below for the mapping);
// srcStride is the byte distance between the first pixel of
// consecutive source rows and may exceed width*bytesPerPixel(srcEnc).
func Convert(dst any, dstEnc Encoding, src []byte, srcEnc Encoding, width, height, srcStride int) *ipcerr.Stack {
	if width <= 0 || height <= 0 {
		return ipcerr.NewStack().Push("rawconvert.Convert", ipcerr.BadArgument)
	}
	if int(srcEnc) < 0 || int(srcEnc) > int(Unknown) || int(dstEnc) < 0 || int(dstEnc) > int(Unknown) {
		return ipcerr.NewStack().Push("rawconvert.Convert", ipcerr.BadEncoding)
	}
	fn := table[srcEnc][dstEnc]
	if fn == nil {
		return ipcerr.NewStack().Push("rawconvert.Convert", ipcerr.BadEncoding)
	}
	return fn(dst, src, srcStride, width, height)
}

// decodeMono is the single generic kernel for the "Mono N -> M"
// family: S is the wire sample width (uint8/uint16/uint32), the
// destination kind is resolved to a concrete Go type by the small
// switch below and then handed to decodeMonoTyped, whose inner loop is
// a trivial indexed copy with no function calls or branches.
func decodeMono[S mono](dst any, src []byte, srcStride, width, height int, destKind Encoding) *ipcerr.Stack {
	switch destKind {
	case Mono8:
		out, ok := dst.([]uint8)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono", ipcerr.BadArgument)
		}
		decodeMonoTyped[S, uint8](out, src, srcStride, width, height)
	case Mono16:
		out, ok := dst.([]uint16)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono", ipcerr.BadArgument)
		}
		decodeMonoTyped[S, uint16](out, src, srcStride, width, height)
	case Mono32:
		out, ok := dst.([]uint32)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono", ipcerr.BadArgument)
		}
		decodeMonoTyped[S, uint32](out, src, srcStride, width, height)
	case Float32:
		out, ok := dst.([]float32)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono", ipcerr.BadArgument)
		}
		decodeMonoTyped[S, float32](out, src, srcStride, width, height)
	case Float64:
		out, ok := dst.([]float64)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono", ipcerr.BadArgument)
		}
		decodeMonoTyped[S, float64](out, src, srcStride, width, height)
	default:
		return ipcerr.NewStack().Push("rawconvert.decodeMono", ipcerr.BadEncoding)
	}
	return nil
}

// decodeMonoTyped is the fully-monomorphized row loop: no scaling or
// clamping, zero-extending integer reads promoted to D by a plain
// numeric conversion.
func decodeMonoTyped[S mono, D dest](dst []D, src []byte, srcStride, width, height int) {
	sampleSize := int(unsafe.Sizeof(S(0)))
	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride:]
		dstRow := dst[y*width : y*width+width]
		for x := 0; x < width; x++ {
			dstRow[x] = D(readSample[S](srcRow[x*sampleSize : x*sampleSize+sampleSize]))
		}
	}
}

// readSample decodes one little-endian sample of width S from b. This
// is the one place that encodes an endianness choice; no
// cross-architecture byte order handling is attempted, and it is
// native-order on every target this module supports.
func readSample[S mono](b []byte) S {
	switch any(S(0)).(type) {
	case uint8:
		return S(b[0])
	case uint16:
		return S(uint16(b[0]) | uint16(b[1])<<8)
	default: // uint32
		return S(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	}
}

// decodeMono12Packed decodes the Mono12Packed wire format: two 12-bit
// samples packed into three bytes b0 b1 b2 as
//
//	sample0 = (b0 << 4) | (b1 & 0x0F)
//	sample1 = (b2 << 4) | (b1 >> 4)
//
// Each row consumes floor(width/2) triplets emitting two samples, then
// one trailing pair of bytes for an odd width, emitting sample0 only
// (the odd-width branch sits outside the per-pixel loop, per the
// performance contract).
func decodeMono12Packed(dst any, src []byte, srcStride, width, height int, destKind Encoding) *ipcerr.Stack {
	switch destKind {
	case Mono8:
		out, ok := dst.([]uint8)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono12Packed", ipcerr.BadArgument)
		}
		decodeMono12PackedTyped(out, src, srcStride, width, height)
	case Mono16:
		out, ok := dst.([]uint16)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono12Packed", ipcerr.BadArgument)
		}
		decodeMono12PackedTyped(out, src, srcStride, width, height)
	case Mono32:
		out, ok := dst.([]uint32)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono12Packed", ipcerr.BadArgument)
		}
		decodeMono12PackedTyped(out, src, srcStride, width, height)
	case Float32:
		out, ok := dst.([]float32)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono12Packed", ipcerr.BadArgument)
		}
		decodeMono12PackedTyped(out, src, srcStride, width, height)
	case Float64:
		out, ok := dst.([]float64)
		if !ok || len(out) < width*height {
			return ipcerr.NewStack().Push("rawconvert.decodeMono12Packed", ipcerr.BadArgument)
		}
		decodeMono12PackedTyped(out, src, srcStride, width, height)
	default:
		return ipcerr.NewStack().Push("rawconvert.decodeMono12Packed", ipcerr.BadEncoding)
	}
	return nil
}

func decodeMono12PackedTyped[D dest](dst []D, src []byte, srcStride, width, height int) {
	pairs := width / 2
	odd := width%2 == 1
	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride:]
		dstRow := dst[y*width : y*width+width]
		for p := 0; p < pairs; p++ {
			b0 := srcRow[p*3]
			b1 := srcRow[p*3+1]
			b2 := srcRow[p*3+2]
			s0 := uint16(b0)<<4 | uint16(b1&0x0F)
			s1 := uint16(b2)<<4 | uint16(b1>>4)
			dstRow[p*2] = D(s0)
			dstRow[p*2+1] = D(s1)
		}
		if odd {
			b0 := srcRow[pairs*3]
			b1 := srcRow[pairs*3+1]
			s0 := uint16(b0)<<4 | uint16(b1&0x0F)
			dstRow[width-1] = D(s0)
		}
	}
}

// BytesPerPixel returns the on-wire sample width of a linear mono
// encoding, used by callers computing a tightly-packed stride. It is
// undefined (0) for the packed/unknown encodings, which have no fixed
// per-pixel byte width.
func BytesPerPixel(e Encoding) int {
	switch e {
	case Mono8:
		return 1
	case Mono16, Mono12:
		return 2
	case Mono32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}
