package shmobj

import (
	"os"
	"sync/atomic"
	"time"
)

// identSource hands out unique object identities for newly created
// segments: a boot-time salt (wall-clock nanoseconds xored with the
// process id) combined with a monotonically increasing counter, so two
// segments created by the same process never collide. Segments created
// by different processes on the same host collide only when their
// salt XOR counter values happen to match; Create then retries with a
// fresh ident, since the backing name already exists.
type identSource struct {
	salt    uint64
	counter atomic.Uint64
}

func newIdentSource() *identSource {
	return &identSource{salt: uint64(time.Now().UnixNano()) ^ uint64(os.Getpid())<<32}
}

func (s *identSource) next() uint64 {
	return s.salt ^ s.counter.Add(1)
}

var identCounter = newIdentSource()

func newIdent() uint64 {
	return identCounter.next()
}
