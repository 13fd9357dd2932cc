// Package shmobj implements the generic shared-object substrate: a
// POSIX shared-memory segment fronted by a small reference-counted
// header (a process-shared mutex, a type tag, an identity, and a
// size), on top of which pkg/sharedarray and pkg/camdesc lay their own
// typed payloads.
//
// The only discovery datum exposed externally is the region's ident.
// A segment's backing name is derived deterministically from its
// ident, so nothing outside this package ever needs the actual
// /dev/shm path. open/mmap/munmap/ftruncate are reached through
// golang.org/x/sys/unix instead of cgo, since none of them need a
// process-shared primitive.
package shmobj

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/taoshm/camerafabric/internal/ipcsync"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
)

// Type is the header's 32-bit tag: a fixed magic in the high 24 bits
// identifying "this is a camerafabric shared object", and a variant in
// the low 8 bits identifying which kind.
type Type uint32

const familyMagic uint32 = 0xCA3300 // occupies the high 24 bits of every valid Type.

const (
	BasicObject uint8 = iota
	Array
	Camera
)

func packType(variant uint8) Type {
	return Type(familyMagic | uint32(variant))
}

func (t Type) Variant() uint8 { return uint8(t) }
func (t Type) validMagic() bool {
	return uint32(t)&0xFFFFFF00 == familyMagic
}

// metaFields is the fixed-layout portion of the header that follows
// the process-shared mutex. Its first field must be 8-byte aligned,
// which Create/Attach arrange by rounding the mutex region up.
type metaFields struct {
	Type  uint32
	_     uint32
	Ident uint64
	Size  uint64
	Refs  int32
	_     int32
}

const payloadAlign = 32

// Object is a live mapping of a shared-memory segment: the header
// (mutex + metadata) plus the payload region a typed wrapper
// (pkg/sharedarray, pkg/camdesc) lays its own fields into.
type Object struct {
	ident         uint64
	addr          []byte
	mu            ipcsync.Mutex
	meta          *metaFields
	payloadOffset uintptr
	onDestroy     func()
}

// SetDestroyHook registers fn to run on the detach that brings refs to
// zero, after the header mutex is destroyed but before the segment is
// unmapped. This is where a typed wrapper embedding its own
// process-shared primitives in the payload (pkg/camdesc's semaphores)
// tears them down.
func (o *Object) SetDestroyHook(fn func()) {
	o.onDestroy = fn
}

func align(x, n uintptr) uintptr {
	return (x + n - 1) &^ (n - 1)
}

func headerLayout() (metaOffset, headerSize uintptr) {
	metaOffset = align(ipcsync.SizeofMutex(), 8)
	headerSize = align(metaOffset+unsafe.Sizeof(metaFields{}), payloadAlign)
	return
}

// shmPath derives the /dev/shm backing name from an ident. The ident
// alone is sufficient to relocate the segment.
func shmPath(ident uint64) string {
	return fmt.Sprintf("/dev/shm/camerafabric.%016x", ident)
}

const createRetries = 8

// Create allocates a new segment sized to hold payloadSize bytes of
// caller payload plus the generic header, and initializes it with
// refs=1. The returned Object's Ident is the value a consumer must be
// handed through some side channel to Attach later.
func Create(variant uint8, payloadSize int, perm os.FileMode) (*Object, *ipcerr.Stack) {
	metaOffset, headerSize := headerLayout()
	total := int(headerSize) + payloadSize

	var fd int
	var ident uint64
	var err error
	for attempt := 0; ; attempt++ {
		ident = newIdent()
		fd, err = unix.Open(shmPath(ident), unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, uint32(perm))
		if err == nil {
			break
		}
		if err == unix.EEXIST && attempt < createRetries {
			continue
		}
		return nil, ipcerr.NewStack().PushSystem("shmobj.Create", int(err.(unix.Errno)))
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		unix.Unlink(shmPath(ident))
		return nil, ipcerr.NewStack().PushSystem("shmobj.Create", int(err.(unix.Errno)))
	}

	addr, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(shmPath(ident))
		return nil, ipcerr.NewStack().PushSystem("shmobj.Create", int(err.(unix.Errno)))
	}

	mu, ipcErr := ipcsync.InitMutex(unsafe.Pointer(&addr[0]))
	if ipcErr != nil {
		unix.Munmap(addr)
		unix.Unlink(shmPath(ident))
		return nil, ipcerr.Transfer(ipcerr.NewStack().Push("shmobj.Create", ipcerr.AssertionFailed), ipcErr)
	}

	meta := (*metaFields)(unsafe.Pointer(&addr[metaOffset]))
	meta.Type = uint32(packType(variant))
	meta.Ident = ident
	meta.Size = uint64(total)
	meta.Refs = 1

	return &Object{
		ident:         ident,
		addr:          addr,
		mu:            mu,
		meta:          meta,
		payloadOffset: headerSize,
	}, nil
}

// Attach opens an existing segment by ident and increments its
// reference count, failing rather than touching refs if the segment's
// type doesn't match expectedVariant, its size is inconsistent with
// what Create would have produced, or it has already been destroyed
// (refs observed as zero). The open-then-lock sequence guards against
// the race where Detach's final unlink interleaves with a concurrent
// Attach: if open() loses that race it reports NotFound; if it wins
// but Detach has already zeroed refs under the header lock, Attach
// observes that under its own lock and fails cleanly without ever
// incrementing.
func Attach(ident uint64, expectedVariant uint8) (*Object, *ipcerr.Stack) {
	fd, err := unix.Open(shmPath(ident), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, ipcerr.NewStack().Push("shmobj.Attach", ipcerr.NotFound)
		}
		return nil, ipcerr.NewStack().PushSystem("shmobj.Attach", int(err.(unix.Errno)))
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, ipcerr.NewStack().PushSystem("shmobj.Attach", int(err.(unix.Errno)))
	}
	total := int(st.Size)
	metaOffset, headerSize := headerLayout()
	if total <= int(headerSize) {
		return nil, ipcerr.NewStack().Push("shmobj.Attach", ipcerr.BadSize)
	}

	addr, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, ipcerr.NewStack().PushSystem("shmobj.Attach", int(err.(unix.Errno)))
	}

	mu := ipcsync.OpenMutex(unsafe.Pointer(&addr[0]))
	meta := (*metaFields)(unsafe.Pointer(&addr[metaOffset]))

	t := Type(meta.Type)
	if !t.validMagic() {
		unix.Munmap(addr)
		return nil, ipcerr.NewStack().Push("shmobj.Attach", ipcerr.BadMagic)
	}
	if t.Variant() != expectedVariant {
		unix.Munmap(addr)
		return nil, ipcerr.NewStack().Push("shmobj.Attach", ipcerr.BadType)
	}
	if meta.Size != uint64(total) {
		unix.Munmap(addr)
		return nil, ipcerr.NewStack().Push("shmobj.Attach", ipcerr.BadSize)
	}

	if lockErr := mu.Lock(); lockErr != nil {
		unix.Munmap(addr)
		return nil, ipcerr.Transfer(ipcerr.NewStack().Push("shmobj.Attach", ipcerr.AssertionFailed), lockErr)
	}
	if meta.Refs <= 0 {
		unix.Munmap(addr)
		_ = mu.Unlock()
		return nil, ipcerr.NewStack().Push("shmobj.Attach", ipcerr.Destroyed)
	}
	meta.Refs++
	if unlockErr := mu.Unlock(); unlockErr != nil {
		return nil, ipcerr.Transfer(ipcerr.NewStack().Push("shmobj.Attach", ipcerr.AssertionFailed), unlockErr)
	}

	return &Object{
		ident:         ident,
		addr:          addr,
		mu:            mu,
		meta:          meta,
		payloadOffset: headerSize,
	}, nil
}

// Detach decrements the reference count under the header lock. The
// last detach destroys the mutex (via ipcsync's retry-on-EBUSY path,
// since the lock is released before destruction is attempted) and
// unlinks the backing /dev/shm name so no further Attach can find it.
// Every call, last or not, unmaps this process's own view of the
// segment.
func (o *Object) Detach() *ipcerr.Stack {
	if err := o.mu.Lock(); err != nil {
		return err
	}
	o.meta.Refs--
	last := o.meta.Refs == 0
	if err := o.mu.Unlock(); err != nil {
		return err
	}

	if last {
		if err := o.mu.Destroy(true); err != nil {
			unix.Munmap(o.addr)
			return err
		}
		if o.onDestroy != nil {
			o.onDestroy()
		}
		if err := unix.Munmap(o.addr); err != nil {
			return ipcerr.NewStack().PushSystem("shmobj.Detach", int(err.(unix.Errno)))
		}
		if err := unix.Unlink(shmPath(o.ident)); err != nil && err != unix.ENOENT {
			return ipcerr.NewStack().PushSystem("shmobj.Detach", int(err.(unix.Errno)))
		}
		return nil
	}

	if err := unix.Munmap(o.addr); err != nil {
		return ipcerr.NewStack().PushSystem("shmobj.Detach", int(err.(unix.Errno)))
	}
	return nil
}

// Lock/Unlock guard the mutable fields a typed wrapper lays into the
// payload region; immutable fields (shape, ident) may be read without
// holding the lock.
func (o *Object) Lock() *ipcerr.Stack   { return o.mu.Lock() }
func (o *Object) Unlock() *ipcerr.Stack { return o.mu.Unlock() }

// Payload returns the caller-owned region following the header.
func (o *Object) Payload() []byte { return o.addr[o.payloadOffset:] }

func (o *Object) Ident() uint64 { return o.ident }
func (o *Object) Size() uint64  { return o.meta.Size }

// Refs reports the current reference count. Callers needing a
// consistent read should hold Lock.
func (o *Object) Refs() int32 { return o.meta.Refs }
