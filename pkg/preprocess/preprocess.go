// Package preprocess implements the per-pixel bias/gain preprocessing
// kernel: d[i] = (raw[i] - b[i]) * a[i], type-lifted from the raw
// sample width to a floating destination, with an optional weight
// plane w[i] = u[i] / (max(d[i], 0) + v[i]) when both u and v are
// supplied (or a constant 1 when weights are requested but u or v is
// missing). Raw types are u8/u16, destination types are f32/f64, four
// kernels total, monomorphized the same way as pkg/rawconvert's decode
// kernels, with no clamping applied to d itself; the formula is
// applied as-is.
package preprocess

import "github.com/taoshm/camerafabric/pkg/ipcerr"

type rawSample interface {
	~uint8 | ~uint16
}

type destSample interface {
	~float32 | ~float64
}

// Preprocess dispatches on the concrete types of raw and dst.
//
// raw must be []uint8 or []uint16. dst, a, and b must be a []float32
// or []float64 slice (matching each other) of at least len(raw)
// elements. weights, u, and v are optional: pass nil to omit any of
// them. When weights is non-nil it must have at least len(raw)
// elements of dst's type; u and v, if both non-nil, must likewise.
func Preprocess(dst, weights, raw, a, b, u, v any) *ipcerr.Stack {
	switch r := raw.(type) {
	case []uint8:
		return preprocessRaw(dst, weights, r, a, b, u, v)
	case []uint16:
		return preprocessRaw(dst, weights, r, a, b, u, v)
	default:
		return ipcerr.NewStack().Push("preprocess.Preprocess", ipcerr.BadType)
	}
}

func preprocessRaw[R rawSample](dst, weights any, raw []R, a, b, u, v any) *ipcerr.Stack {
	switch out := dst.(type) {
	case []float32:
		aa, bb, ok := destPair[float32](a, b)
		if !ok {
			return ipcerr.NewStack().Push("preprocess.Preprocess", ipcerr.BadArgument)
		}
		ww, wOk := destSlice[float32](weights)
		if weights != nil && !wOk {
			return ipcerr.NewStack().Push("preprocess.Preprocess", ipcerr.BadArgument)
		}
		uu, vv, uvOk := destPair[float32](u, v)
		if (u != nil || v != nil) && !uvOk {
			uu, vv = nil, nil
		}
		return preprocessTyped(out, ww, raw, aa, bb, uu, vv)
	case []float64:
		aa, bb, ok := destPair[float64](a, b)
		if !ok {
			return ipcerr.NewStack().Push("preprocess.Preprocess", ipcerr.BadArgument)
		}
		ww, wOk := destSlice[float64](weights)
		if weights != nil && !wOk {
			return ipcerr.NewStack().Push("preprocess.Preprocess", ipcerr.BadArgument)
		}
		uu, vv, uvOk := destPair[float64](u, v)
		if (u != nil || v != nil) && !uvOk {
			uu, vv = nil, nil
		}
		return preprocessTyped(out, ww, raw, aa, bb, uu, vv)
	default:
		return ipcerr.NewStack().Push("preprocess.Preprocess", ipcerr.BadType)
	}
}

// destSlice type-asserts v as []D, reporting false (not an error by
// itself) when v is nil or of the wrong type.
func destSlice[D destSample](v any) ([]D, bool) {
	if v == nil {
		return nil, false
	}
	s, ok := v.([]D)
	return s, ok
}

func destPair[D destSample](x, y any) ([]D, []D, bool) {
	xs, xok := destSlice[D](x)
	ys, yok := destSlice[D](y)
	if !xok || !yok {
		return nil, nil, false
	}
	return xs, ys, true
}

// preprocessTyped is the fully-monomorphized per-pixel loop. weights,
// u, and v may each be nil independently; the weight branch is
// computed only when weights is requested, using the u/v formula when
// both are present, or the constant 1 otherwise.
func preprocessTyped[R rawSample, D destSample](dst []D, weights []D, raw []R, a, b, u, v []D) *ipcerr.Stack {
	n := len(raw)
	if len(dst) < n || len(a) < n || len(b) < n {
		return ipcerr.NewStack().Push("preprocess.preprocessTyped", ipcerr.BadSize)
	}
	haveWeights := weights != nil
	if haveWeights && len(weights) < n {
		return ipcerr.NewStack().Push("preprocess.preprocessTyped", ipcerr.BadSize)
	}
	haveUV := u != nil && v != nil
	if haveUV && (len(u) < n || len(v) < n) {
		return ipcerr.NewStack().Push("preprocess.preprocessTyped", ipcerr.BadSize)
	}

	for i := 0; i < n; i++ {
		d := (D(raw[i]) - b[i]) * a[i]
		dst[i] = d
		if !haveWeights {
			continue
		}
		if haveUV {
			denom := d
			if denom < 0 {
				denom = 0
			}
			weights[i] = u[i] / (denom + v[i])
		} else {
			weights[i] = 1
		}
	}
	return nil
}
