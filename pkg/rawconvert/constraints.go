package rawconvert

// mono is the set of unsigned integer widths the camera SDK delivers
// on the wire as a linear (non-packed) mono encoding.
type mono interface {
	~uint8 | ~uint16 | ~uint32
}

// dest is the set of element types a decoder may write into a
// destination array (pkg/sharedarray).
type dest interface {
	~uint8 | ~uint16 | ~uint32 | ~float32 | ~float64
}
