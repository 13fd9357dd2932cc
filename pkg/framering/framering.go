// Package framering implements the producer-side camera frame ring: a
// small local pool of shared arrays recycled across captures, with an
// eviction-refusal rule that guarantees no in-progress reader ever has
// its buffer pulled out from under it.
// The recycling/never-evict-a-live-buffer discipline is grounded in
// the corpus's warpcomdev-asicamera2 jpeg.Pool, which refuses to
// recycle a frame slot while readers still hold a reference to it;
// here the same refusal is expressed through the shared array's own
// nreaders/nwriters counters instead of a local WaitGroup, since those
// counts must be visible to other processes.
package framering

import (
	"os"

	"github.com/taoshm/camerafabric/pkg/camdesc"
	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/sharedarray"
)

// Ring owns the producer's local pool. It is not itself shared memory
// and is not safe for concurrent use from more than one goroutine; the
// producer must serialize its own calls.
type Ring struct {
	desc   *camdesc.Descriptor
	eltype sharedarray.ElementType
	perm   os.FileMode
	slots  []*sharedarray.Array
	spare  *sharedarray.Array
	index  int
}

// New builds a ring of nframes slots (nframes >= 2) publishing arrays
// of eltype against desc's current geometry.
func New(desc *camdesc.Descriptor, nframes int, eltype sharedarray.ElementType, perm os.FileMode) (*Ring, *ipcerr.Stack) {
	if nframes < 2 {
		return nil, ipcerr.NewStack().Push("framering.New", ipcerr.BadArgument)
	}
	return &Ring{
		desc:   desc,
		eltype: eltype,
		perm:   perm,
		slots:  make([]*sharedarray.Array, nframes),
		index:  -1,
	}, nil
}

func currentDims(desc *camdesc.Descriptor) []int64 {
	_, _, w, h := desc.Geometry()
	if desc.Weighted() {
		return []int64{int64(w), int64(h), 2}
	}
	return []int64{int64(w), int64(h)}
}

// FetchNext returns the next ring slot's array, ready for the producer
// to write a fresh frame into (nwriters already set to 1). The caller
// must already hold the descriptor lock.
func (r *Ring) FetchNext() (*sharedarray.Array, *ipcerr.Stack) {
	dims := currentDims(r.desc)
	next := (r.index + 1) % len(r.slots)
	a := r.slots[next]

	if a != nil {
		lastIdent, _ := r.desc.LastFrame()
		switch {
		case int64(a.Ident()) == lastIdent:
			// A reader may still be pointed at this exact frame;
			// never recycle it.
			r.discard(a)
			a = nil
		case !a.SameShape(r.eltype, dims):
			r.discard(a)
			a = nil
		default:
			busy, err := claimIfIdle(a)
			if err != nil {
				return nil, err
			}
			if busy {
				r.discard(a)
				a = nil
			}
		}
	}

	if a == nil {
		if r.spare != nil && r.spare.SameShape(r.eltype, dims) {
			a = r.spare
			r.spare = nil
			if err := setWriter(a, 1); err != nil {
				return nil, err
			}
		} else {
			if r.spare != nil {
				r.discard(r.spare)
				r.spare = nil
			}
			fresh, err := sharedarray.New(r.eltype, dims, r.perm)
			if err != nil {
				return nil, err
			}
			if err := setWriter(fresh, 1); err != nil {
				return nil, err
			}
			a = fresh
		}
	}

	r.slots[next] = a
	r.index = next
	return a, nil
}

// claimIfIdle locks a, checks the eviction-refusal predicate
// (nreaders != 0 or nwriters != 0), and if idle marks it claimed for
// writing before unlocking. It reports whether the array was found
// busy (and therefore not claimed).
func claimIfIdle(a *sharedarray.Array) (busy bool, stack *ipcerr.Stack) {
	if err := a.Lock(); err != nil {
		return false, err
	}
	busy = a.NReaders() != 0 || a.NWriters() != 0
	if !busy {
		a.SetNWriters(1)
	}
	if err := a.Unlock(); err != nil {
		return false, err
	}
	return busy, nil
}

func setWriter(a *sharedarray.Array, n int32) *ipcerr.Stack {
	if err := a.Lock(); err != nil {
		return err
	}
	a.SetNWriters(n)
	return a.Unlock()
}

func (r *Ring) discard(a *sharedarray.Array) {
	a.Detach()
}

// PublishNext marks arr published: clears nwriters, assigns the next
// monotone counter, and records it as the descriptor's latest frame.
// It then posts every consumer semaphore slot currently at zero,
// collapsing missed wake-ups into a single guaranteed notification per
// new frame, and tops up the spare slot for the next cycle. The caller
// must already hold the descriptor lock.
func (r *Ring) PublishNext(arr *sharedarray.Array) *ipcerr.Stack {
	dims := currentDims(r.desc)
	if !arr.SameShape(r.eltype, dims) {
		return ipcerr.NewStack().Push("framering.PublishNext", ipcerr.BadArgument)
	}

	if err := arr.Lock(); err != nil {
		return err
	}
	if arr.NWriters() != 1 || arr.NReaders() != 0 {
		arr.Unlock()
		return ipcerr.NewStack().Push("framering.PublishNext", ipcerr.AssertionFailed)
	}
	arr.SetNWriters(0)
	_, lastCounter := r.desc.LastFrame()
	counter := lastCounter + 1
	arr.SetCounter(counter)
	if err := arr.Unlock(); err != nil {
		return err
	}

	r.desc.SetLastFrame(arr.Ident(), counter)

	for i := 0; i < camdesc.NSem; i++ {
		sem, err := r.desc.Sem(i)
		if err != nil {
			return err
		}
		if sem.Value() == 0 {
			if err := sem.Post(); err != nil {
				return err
			}
		}
	}

	if r.spare == nil {
		spare, err := sharedarray.New(r.eltype, dims, r.perm)
		if err != nil {
			return err
		}
		r.spare = spare
	}
	return nil
}

// Close detaches every array this ring still holds a reference to: the
// slots and the spare. Called when the producer shuts down.
func (r *Ring) Close() *ipcerr.Stack {
	var first *ipcerr.Stack
	for i, a := range r.slots {
		if a == nil {
			continue
		}
		if err := a.Detach(); err != nil && first == nil {
			first = err
		}
		r.slots[i] = nil
	}
	if r.spare != nil {
		if err := r.spare.Detach(); err != nil && first == nil {
			first = err
		}
		r.spare = nil
	}
	return first
}
