// Package sharedarray implements the shared multi-dimensional pixel
// array: a shmobj region carrying shape metadata, writer/reader
// counts, a monotone publication counter, and a capture timestamp,
// followed by a 32-byte-aligned contiguous payload.
package sharedarray

import (
	"math"
	"os"
	"unsafe"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/ipctime"
	"github.com/taoshm/camerafabric/pkg/shmobj"
)

// MaxNDims is the maximum number of dimensions a shared array may have.
const MaxNDims = 5

// ElementType identifies the Go numeric type of one payload element.
type ElementType uint32

const (
	Int8 ElementType = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

// ByteSize returns the fixed byte size of one element.
func (e ElementType) ByteSize() int {
	switch e {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// header is the array-specific fixed-layout block that follows the
// shmobj generic header. It is immutable after construction except for
// NWriters/NReaders/Counter/TsSec/TsNsec, which the array's lock
// (inherited from the underlying shmobj.Object) guards.
type header struct {
	ElemType      uint32
	NDims         uint32
	Dims          [MaxNDims]int64
	Nelem         int64
	NWriters      int32
	NReaders      int32
	Counter       int64
	TsSec         int64
	TsNsec        int64
	PayloadOffset uint64
}

const headerAlign = 32

// Array is an attached view of a shared pixel array.
type Array struct {
	obj *shmobj.Object
	hdr *header
}

func align(x, n uintptr) uintptr {
	return (x + n - 1) &^ (n - 1)
}

// New constructs a fresh shared array of the given element type and
// shape. dims must have length in [1, MaxNDims]; every entry must be
// positive. The product of dims (nelem) is computed with an overflow
// check at each step.
func New(eltype ElementType, dims []int64, perm os.FileMode) (*Array, *ipcerr.Stack) {
	if len(dims) < 1 || len(dims) > MaxNDims {
		return nil, ipcerr.NewStack().Push("sharedarray.New", ipcerr.BadRank)
	}
	var nelem int64 = 1
	for _, d := range dims {
		if d <= 0 {
			return nil, ipcerr.NewStack().Push("sharedarray.New", ipcerr.BadSize)
		}
		if nelem > math.MaxInt64/d {
			return nil, ipcerr.NewStack().Push("sharedarray.New", ipcerr.OutOfRange)
		}
		nelem *= d
	}

	elemSize := eltype.ByteSize()
	if elemSize == 0 {
		return nil, ipcerr.NewStack().Push("sharedarray.New", ipcerr.BadType)
	}

	headerSize := align(unsafe.Sizeof(header{}), headerAlign)
	payloadBytes := nelem * int64(elemSize)
	if payloadBytes < 0 || payloadBytes > math.MaxInt64-int64(headerSize) {
		return nil, ipcerr.NewStack().Push("sharedarray.New", ipcerr.OutOfRange)
	}

	obj, err := shmobj.Create(shmobj.Array, int(headerSize)+int(payloadBytes), perm)
	if err != nil {
		return nil, ipcerr.Transfer(ipcerr.NewStack().Push("sharedarray.New", ipcerr.AssertionFailed), err)
	}

	hdr := (*header)(unsafe.Pointer(&obj.Payload()[0]))
	hdr.ElemType = uint32(eltype)
	hdr.NDims = uint32(len(dims))
	for k := 0; k < MaxNDims; k++ {
		if k < len(dims) {
			hdr.Dims[k] = dims[k]
		} else {
			hdr.Dims[k] = 1
		}
	}
	hdr.Nelem = nelem
	hdr.PayloadOffset = uint64(headerSize)

	return &Array{obj: obj, hdr: hdr}, nil
}

// Attach maps an existing shared array by ident, incrementing its
// reference count.
func Attach(ident uint64) (*Array, *ipcerr.Stack) {
	obj, err := shmobj.Attach(ident, shmobj.Array)
	if err != nil {
		return nil, err
	}
	hdr := (*header)(unsafe.Pointer(&obj.Payload()[0]))
	return &Array{obj: obj, hdr: hdr}, nil
}

// Detach releases this attachment.
func (a *Array) Detach() *ipcerr.Stack { return a.obj.Detach() }

func (a *Array) Ident() uint64 { return a.obj.Ident() }

// Lock/Unlock guard the mutator accessors below.
func (a *Array) Lock() *ipcerr.Stack   { return a.obj.Lock() }
func (a *Array) Unlock() *ipcerr.Stack { return a.obj.Unlock() }

// --- immutable accessors: no lock required. ---

func (a *Array) ElementType() ElementType { return ElementType(a.hdr.ElemType) }
func (a *Array) NDims() int               { return int(a.hdr.NDims) }
func (a *Array) Length() int64            { return a.hdr.Nelem }

// DimSize returns dims[d], or 1 for d >= NDims().
func (a *Array) DimSize(d int) int64 {
	if d < 0 || d >= MaxNDims {
		return 1
	}
	return a.hdr.Dims[d]
}

// SameShape reports whether a has element type eltype and exactly the
// dimensions dims, used by the ring's geometry-match check.
func (a *Array) SameShape(eltype ElementType, dims []int64) bool {
	if a.ElementType() != eltype || a.NDims() != len(dims) {
		return false
	}
	for k, d := range dims {
		if a.DimSize(k) != d {
			return false
		}
	}
	return true
}

// DataPtr returns the payload bytes, whose length is Length()*elemSize.
func (a *Array) DataPtr() []byte {
	payload := a.obj.Payload()
	return payload[a.hdr.PayloadOffset:]
}

// --- mutator accessors: caller must hold Lock. ---

func (a *Array) Counter() int64        { return a.hdr.Counter }
func (a *Array) SetCounter(c int64)    { a.hdr.Counter = c }
func (a *Array) NReaders() int32       { return a.hdr.NReaders }
func (a *Array) SetNReaders(n int32)   { a.hdr.NReaders = n }
func (a *Array) NWriters() int32       { return a.hdr.NWriters }
func (a *Array) SetNWriters(n int32)   { a.hdr.NWriters = n }

func (a *Array) Timestamp() ipctime.Time {
	return ipctime.Time{Sec: a.hdr.TsSec, Nsec: a.hdr.TsNsec}
}

func (a *Array) SetTimestamp(t ipctime.Time) {
	a.hdr.TsSec = t.Sec
	a.hdr.TsNsec = t.Nsec
}
