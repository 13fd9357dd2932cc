package preprocess

import "testing"

func TestDCalculationUint8ToFloat32NoWeights(t *testing.T) {
	raw := []uint8{10, 20, 30}
	a := []float32{2, 2, 2}
	b := []float32{1, 1, 1}
	dst := make([]float32, 3)

	if err := Preprocess(dst, nil, raw, a, b, nil, nil); err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	want := []float32{18, 38, 58} // (raw-1)*2
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst[%d] = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestWeightsComputedWhenUAndVPresent(t *testing.T) {
	raw := []uint16{5, 0}
	a := []float64{1, 1}
	b := []float64{0, 0}
	u := []float64{10, 10}
	v := []float64{2, 2}
	dst := make([]float64, 2)
	w := make([]float64, 2)

	if err := Preprocess(dst, w, raw, a, b, u, v); err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	// d = [5, 0]; w = u/(max(d,0)+v) = [10/(5+2), 10/(0+2)]
	if dst[0] != 5 || dst[1] != 0 {
		t.Fatalf("dst = %v, want [5 0]", dst)
	}
	wantW0 := 10.0 / 7.0
	if w[0] != wantW0 {
		t.Fatalf("w[0] = %v, want %v", w[0], wantW0)
	}
	if w[1] != 5 {
		t.Fatalf("w[1] = %v, want 5", w[1])
	}
}

func TestWeightsDefaultToOneWhenUOrVMissing(t *testing.T) {
	raw := []uint8{7}
	a := []float32{1}
	b := []float32{0}
	dst := make([]float32, 1)
	w := make([]float32, 1)

	if err := Preprocess(dst, w, raw, a, b, nil, nil); err != nil {
		t.Fatalf("Preprocess (u,v both nil): %v", err)
	}
	if w[0] != 1 {
		t.Fatalf("w[0] = %v, want 1 when u and v absent", w[0])
	}

	u := []float32{9}
	w2 := make([]float32, 1)
	if err := Preprocess(dst, w2, raw, a, b, u, nil); err != nil {
		t.Fatalf("Preprocess (only u present): %v", err)
	}
	if w2[0] != 1 {
		t.Fatalf("w2[0] = %v, want 1 when only u present", w2[0])
	}
}

func TestDIsNotClampedNegative(t *testing.T) {
	raw := []uint8{0}
	a := []float32{1}
	b := []float32{5} // d = (0-5)*1 = -5
	dst := make([]float32, 1)

	if err := Preprocess(dst, nil, raw, a, b, nil, nil); err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if dst[0] != -5 {
		t.Fatalf("dst[0] = %v, want -5 (no clamping on d itself)", dst[0])
	}
}

func TestUndersizedDestinationIsBadSize(t *testing.T) {
	raw := []uint8{1, 2, 3}
	a := []float32{1, 1}
	b := []float32{1, 1}
	dst := make([]float32, 2)

	if err := Preprocess(dst, nil, raw, a, b, nil, nil); err == nil {
		t.Fatalf("Preprocess should reject a/b/dst shorter than raw")
	}
}

func TestUnsupportedRawTypeIsBadType(t *testing.T) {
	raw := []int32{1, 2, 3}
	a := []float32{1, 1, 1}
	b := []float32{0, 0, 0}
	dst := make([]float32, 3)

	if err := Preprocess(dst, nil, raw, a, b, nil, nil); err == nil {
		t.Fatalf("Preprocess should reject a raw type outside {u8, u16}")
	}
}
