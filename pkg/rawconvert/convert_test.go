package rawconvert

import (
	"math/rand"
	"testing"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
)

// TestMono12PackedPairing checks that for any three bytes b0 b1 b2,
// the decoded pair matches the documented bit layout exactly.
func TestMono12PackedPairing(t *testing.T) {
	for trial := 0; trial < 200; trial++ {
		b0 := byte(rand.Intn(256))
		b1 := byte(rand.Intn(256))
		b2 := byte(rand.Intn(256))
		src := []byte{b0, b1, b2}
		dst := make([]uint16, 2)
		decodeMono12PackedTyped(dst, src, 3, 2, 1)

		wantP0 := uint16(b0)<<4 | uint16(b1&0x0F)
		wantP1 := uint16(b2)<<4 | uint16(b1>>4)
		if dst[0] != wantP0 || dst[1] != wantP1 {
			t.Fatalf("b0=%#x b1=%#x b2=%#x: got (%#x,%#x) want (%#x,%#x)",
				b0, b1, b2, dst[0], dst[1], wantP0, wantP1)
		}
	}
}

// TestMono12PackedOddWidth checks the trailing odd-width sample.
func TestMono12PackedOddWidth(t *testing.T) {
	src := []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0}
	dst := make([]uint16, 5)
	decodeMono12PackedTyped(dst, src, len(src), 5, 1)

	want := []uint16{0x124, 0x563, 0x78A, 0xBC9, 0xDE0}
	for i, w := range want {
		if dst[i] != w {
			t.Fatalf("sample %d = %#x, want %#x (full: %v)", i, dst[i], w, dst)
		}
	}
}

func TestMonoRoundTripMono8(t *testing.T) {
	const w, h = 37, 13
	src := make([]byte, w*h)
	rand.Read(src)

	mid := make([]uint8, w*h)
	if err := Convert(mid, Mono8, src, Mono8, w, h, w); err != nil {
		t.Fatalf("Mono8->Mono8: %v", err)
	}
	for i := range src {
		if mid[i] != src[i] {
			t.Fatalf("byte %d: got %d want %d", i, mid[i], src[i])
		}
	}
}

func TestMonoRoundTripMono16(t *testing.T) {
	const w, h = 64, 9
	raw := make([]uint16, w*h)
	for i := range raw {
		raw[i] = uint16(rand.Intn(1 << 16))
	}
	src := make([]byte, w*h*2)
	for i, v := range raw {
		src[i*2] = byte(v)
		src[i*2+1] = byte(v >> 8)
	}

	dst := make([]uint16, w*h)
	if err := Convert(dst, Mono16, src, Mono16, w, h, w*2); err != nil {
		t.Fatalf("Mono16->Mono16: %v", err)
	}
	for i := range raw {
		if dst[i] != raw[i] {
			t.Fatalf("sample %d: got %d want %d", i, dst[i], raw[i])
		}
	}
}

func TestMono12PackedRoundTripRecoversSamples(t *testing.T) {
	const w, h = 33, 5 // odd width exercises the tail branch every row.
	depth := 1 << 12
	samples := make([][]uint16, h)
	src := make([]byte, 0, h*((w/2)*3+2))
	stride := (w/2)*3 + (w%2)*2

	rowBuf := make([]byte, stride)
	for y := 0; y < h; y++ {
		row := make([]uint16, w)
		for i := range row {
			row[i] = uint16(rand.Intn(depth))
		}
		samples[y] = row

		off := 0
		pairs := w / 2
		for p := 0; p < pairs; p++ {
			s0, s1 := row[p*2], row[p*2+1]
			b0 := byte(s0 >> 4)
			b1 := byte(s0&0x0F) | byte((s1&0x0F)<<4)
			b2 := byte(s1 >> 4)
			rowBuf[off] = b0
			rowBuf[off+1] = b1
			rowBuf[off+2] = b2
			off += 3
		}
		if w%2 == 1 {
			s0 := row[w-1]
			rowBuf[off] = byte(s0 >> 4)
			rowBuf[off+1] = byte(s0 & 0x0F)
		}
		src = append(src, rowBuf...)
	}

	dst := make([]uint16, w*h)
	if err := Convert(dst, Mono16, src, Mono12Packed, w, h, stride); err != nil {
		t.Fatalf("Mono12Packed->Mono16: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			got := dst[y*w+x]
			want := samples[y][x]
			if got != want {
				t.Fatalf("(%d,%d): got %#x want %#x", x, y, got, want)
			}
		}
	}
}

// TestAllCellsRegistered exercises every supported (src, dst) pair and
// checks that each one dispatches to a registered decoder without
// error; an unsupported pair is covered by
// TestUnknownPairReturnsBadEncoding.
func TestAllCellsRegistered(t *testing.T) {
	sources := []Encoding{Mono8, Mono16, Mono12, Mono32, Mono12Packed}
	destinations := []Encoding{Mono8, Mono16, Mono32, Float32, Float64}

	const w, h = 4, 2
	srcBuf := make([]byte, w*h*8) // big enough for any source width/stride used below.

	for _, s := range sources {
		stride := w * BytesPerPixel(s)
		if s == Mono12Packed {
			stride = (w/2)*3 + (w%2)*2
		}
		for _, d := range destinations {
			var dst any
			switch d {
			case Mono8:
				dst = make([]uint8, w*h)
			case Mono16:
				dst = make([]uint16, w*h)
			case Mono32:
				dst = make([]uint32, w*h)
			case Float32:
				dst = make([]float32, w*h)
			case Float64:
				dst = make([]float64, w*h)
			}
			if err := Convert(dst, d, srcBuf, s, w, h, stride); err != nil {
				t.Fatalf("Convert(%s -> %s) unexpectedly failed: %v", s, d, err)
			}
		}
	}
}

func TestUnknownPairReturnsBadEncoding(t *testing.T) {
	dst := make([]uint8, 4)
	err := Convert(dst, Mono8, make([]byte, 16), RGB8Packed, 2, 2, 8)
	if err == nil || !err.Is(ipcerr.BadEncoding) {
		t.Fatalf("expected BadEncoding for RGB8Packed source, got %v", err)
	}
}

func TestFloatConversionNoRounding(t *testing.T) {
	src := []byte{0xFF, 0x00} // little-endian uint16 = 0x00FF = 255
	dst := make([]float64, 1)
	if err := Convert(dst, Float64, src, Mono16, 1, 1, 2); err != nil {
		t.Fatalf("Mono16->Float64: %v", err)
	}
	if dst[0] != 255.0 {
		t.Fatalf("got %v, want 255.0", dst[0])
	}
}
