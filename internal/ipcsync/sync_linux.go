// Package ipcsync implements cross-process lock primitives: a
// process-shared mutex, condition variable, and counting semaphore,
// each operating directly on memory the caller has mapped from a
// shared-memory segment (see pkg/shmobj). It reaches past Go's
// standard library into the host's POSIX threading interface via cgo,
// because Go's own sync primitives have no process-shared variant.
package ipcsync

/*
#cgo LDFLAGS: -lpthread

#include <pthread.h>
#include <semaphore.h>
#include <errno.h>
#include <time.h>

static int tao_mutex_init_pshared(pthread_mutex_t *m) {
	pthread_mutexattr_t attr;
	int rc = pthread_mutexattr_init(&attr);
	if (rc != 0) return rc;
	rc = pthread_mutexattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) { pthread_mutexattr_destroy(&attr); return rc; }
	rc = pthread_mutexattr_setrobust(&attr, PTHREAD_MUTEX_ROBUST);
	if (rc != 0) { pthread_mutexattr_destroy(&attr); return rc; }
	rc = pthread_mutex_init(m, &attr);
	pthread_mutexattr_destroy(&attr);
	return rc;
}

static int tao_mutex_lock(pthread_mutex_t *m) {
	int rc = pthread_mutex_lock(m);
	if (rc == EOWNERDEAD) {
		// A peer died while holding the lock. State is plain reference
		// counts with no invariant to repair, so mark it recovered.
		pthread_mutex_consistent(m);
		return 0;
	}
	return rc;
}

static int tao_mutex_trylock(pthread_mutex_t *m) {
	int rc = pthread_mutex_trylock(m);
	if (rc == EOWNERDEAD) {
		pthread_mutex_consistent(m);
		return 0;
	}
	return rc;
}

static int tao_mutex_unlock(pthread_mutex_t *m) { return pthread_mutex_unlock(m); }
static int tao_mutex_destroy(pthread_mutex_t *m) { return pthread_mutex_destroy(m); }

static int tao_cond_init_pshared(pthread_cond_t *c) {
	pthread_condattr_t attr;
	int rc = pthread_condattr_init(&attr);
	if (rc != 0) return rc;
	rc = pthread_condattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) { pthread_condattr_destroy(&attr); return rc; }
	rc = pthread_cond_init(c, &attr);
	pthread_condattr_destroy(&attr);
	return rc;
}

static int tao_cond_wait(pthread_cond_t *c, pthread_mutex_t *m) { return pthread_cond_wait(c, m); }

static int tao_cond_timedwait(pthread_cond_t *c, pthread_mutex_t *m, long long sec, long nsec) {
	struct timespec ts;
	ts.tv_sec = (time_t)sec;
	ts.tv_nsec = nsec;
	return pthread_cond_timedwait(c, m, &ts);
}

static int tao_cond_signal(pthread_cond_t *c) { return pthread_cond_signal(c); }
static int tao_cond_broadcast(pthread_cond_t *c) { return pthread_cond_broadcast(c); }
static int tao_cond_destroy(pthread_cond_t *c) { return pthread_cond_destroy(c); }

static int tao_sem_init_pshared(sem_t *s, unsigned int value) {
	if (sem_init(s, 1, value) != 0) return errno;
	return 0;
}
static int tao_sem_post(sem_t *s) { if (sem_post(s) != 0) return errno; return 0; }
static int tao_sem_wait(sem_t *s) { if (sem_wait(s) != 0) return errno; return 0; }
static int tao_sem_trywait(sem_t *s) { if (sem_trywait(s) != 0) return errno; return 0; }
static int tao_sem_timedwait(sem_t *s, long long sec, long nsec) {
	struct timespec ts;
	ts.tv_sec = (time_t)sec;
	ts.tv_nsec = nsec;
	if (sem_timedwait(s, &ts) != 0) return errno;
	return 0;
}
static int tao_sem_destroy(sem_t *s) { if (sem_destroy(s) != 0) return errno; return 0; }
static int tao_sem_getvalue(sem_t *s) {
	int v = 0;
	sem_getvalue(s, &v);
	return v;
}
*/
import "C"

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/taoshm/camerafabric/pkg/ipcerr"
	"github.com/taoshm/camerafabric/pkg/ipctime"
)

// oneYear is the degradation threshold shared by Cond.TimedWait and
// Sem.TimedWait: durations beyond it fall back to an untimed wait
// rather than risk an unrepresentable absolute deadline.
const oneYear = 365 * 24 * time.Hour

// WaitOutcome is the three-way result of a timed wait.
type WaitOutcome int

const (
	Acquired WaitOutcome = iota
	TimedOut
	WouldBlock
)

// Mutex is a process-shared pthread mutex embedded at a fixed offset
// inside a mapped shared-memory region. The zero value is not usable;
// construct one with InitMutex over the target memory.
type Mutex struct {
	c *C.pthread_mutex_t
}

// InitMutex initializes the pthread_mutex_t at addr as process-shared
// and robust, so a peer's abrupt death leaves the mutex recoverable
// rather than permanently wedged.
func InitMutex(addr unsafe.Pointer) (Mutex, *ipcerr.Stack) {
	m := Mutex{c: (*C.pthread_mutex_t)(addr)}
	if rc := C.tao_mutex_init_pshared(m.c); rc != 0 {
		return Mutex{}, ipcerr.NewStack().PushSystem("ipcsync.InitMutex", int(rc))
	}
	return m, nil
}

// OpenMutex wraps an already-initialized pthread_mutex_t at addr,
// used by attach paths that don't create the lock themselves.
func OpenMutex(addr unsafe.Pointer) Mutex {
	return Mutex{c: (*C.pthread_mutex_t)(addr)}
}

// Lock pins the calling goroutine to its OS thread until the matching
// Unlock, since a robust mutex can only be released by the thread that
// owns it.
func (m Mutex) Lock() *ipcerr.Stack {
	runtime.LockOSThread()
	if rc := C.tao_mutex_lock(m.c); rc != 0 {
		runtime.UnlockOSThread()
		return ipcerr.NewStack().PushSystem("Mutex.Lock", int(rc))
	}
	return nil
}

// TryLock attempts to lock without blocking; ok is false (no error)
// when the mutex is already held. On success the goroutine stays
// pinned to its OS thread until Unlock, as with Lock.
func (m Mutex) TryLock() (ok bool, stack *ipcerr.Stack) {
	runtime.LockOSThread()
	rc := C.tao_mutex_trylock(m.c)
	switch rc {
	case 0:
		return true, nil
	case C.EBUSY:
		runtime.UnlockOSThread()
		return false, nil
	default:
		runtime.UnlockOSThread()
		return false, ipcerr.NewStack().PushSystem("Mutex.TryLock", int(rc))
	}
}

func (m Mutex) Unlock() *ipcerr.Stack {
	if rc := C.tao_mutex_unlock(m.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Mutex.Unlock", int(rc))
	}
	runtime.UnlockOSThread()
	return nil
}

// Destroy tears down the mutex. When wait is true it retries on EBUSY
// (lock-then-unlock-then-retry) so that destruction eventually
// succeeds as long as no peer holds the lock forever.
func (m Mutex) Destroy(wait bool) *ipcerr.Stack {
	for {
		rc := C.tao_mutex_destroy(m.c)
		if rc == 0 {
			return nil
		}
		if rc != C.EBUSY || !wait {
			return ipcerr.NewStack().PushSystem("Mutex.Destroy", int(rc))
		}
		if err := m.Lock(); err != nil {
			return err
		}
		if err := m.Unlock(); err != nil {
			return err
		}
	}
}

// RawPointer exposes the underlying address for callers (e.g. Cond)
// that must be constructed with a matching mutex.
func (m Mutex) RawPointer() unsafe.Pointer { return unsafe.Pointer(m.c) }

// Cond is a process-shared condition variable, always used together
// with the Mutex the caller already holds.
type Cond struct {
	c *C.pthread_cond_t
}

func InitCond(addr unsafe.Pointer) (Cond, *ipcerr.Stack) {
	c := Cond{c: (*C.pthread_cond_t)(addr)}
	if rc := C.tao_cond_init_pshared(c.c); rc != 0 {
		return Cond{}, ipcerr.NewStack().PushSystem("ipcsync.InitCond", int(rc))
	}
	return c, nil
}

func OpenCond(addr unsafe.Pointer) Cond {
	return Cond{c: (*C.pthread_cond_t)(addr)}
}

// Wait blocks until Signal/Broadcast, re-acquiring m before returning.
// The caller must already hold m.
func (c Cond) Wait(m Mutex) *ipcerr.Stack {
	if rc := C.tao_cond_wait(c.c, m.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Cond.Wait", int(rc))
	}
	return nil
}

// TimedWait waits up to d, degrading to an untimed Wait when d exceeds
// one year.
func (c Cond) TimedWait(m Mutex, d time.Duration) (WaitOutcome, *ipcerr.Stack) {
	if d > oneYear {
		if err := c.Wait(m); err != nil {
			return WouldBlock, err
		}
		return Acquired, nil
	}
	deadline := ipctime.AbsoluteDeadline(d)
	rc := C.tao_cond_timedwait(c.c, m.c, C.longlong(deadline.Sec), C.long(deadline.Nsec))
	switch rc {
	case 0:
		return Acquired, nil
	case C.ETIMEDOUT:
		return TimedOut, nil
	default:
		return WouldBlock, ipcerr.NewStack().PushSystem("Cond.TimedWait", int(rc))
	}
}

func (c Cond) Signal() *ipcerr.Stack {
	if rc := C.tao_cond_signal(c.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Cond.Signal", int(rc))
	}
	return nil
}

func (c Cond) Broadcast() *ipcerr.Stack {
	if rc := C.tao_cond_broadcast(c.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Cond.Broadcast", int(rc))
	}
	return nil
}

func (c Cond) Destroy() *ipcerr.Stack {
	if rc := C.tao_cond_destroy(c.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Cond.Destroy", int(rc))
	}
	return nil
}

// Sem is a process-shared counting semaphore, one per descriptor slot.
type Sem struct {
	c *C.sem_t
}

func InitSem(addr unsafe.Pointer, initial uint32) (Sem, *ipcerr.Stack) {
	s := Sem{c: (*C.sem_t)(addr)}
	if rc := C.tao_sem_init_pshared(s.c, C.uint(initial)); rc != 0 {
		return Sem{}, ipcerr.NewStack().PushSystem("ipcsync.InitSem", int(rc))
	}
	return s, nil
}

func OpenSem(addr unsafe.Pointer) Sem {
	return Sem{c: (*C.sem_t)(addr)}
}

func (s Sem) Post() *ipcerr.Stack {
	if rc := C.tao_sem_post(s.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Sem.Post", int(rc))
	}
	return nil
}

func (s Sem) Wait() *ipcerr.Stack {
	if rc := C.tao_sem_wait(s.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Sem.Wait", int(rc))
	}
	return nil
}

// TryWait never blocks: it returns (Acquired, nil) or (WouldBlock, nil).
func (s Sem) TryWait() (WaitOutcome, *ipcerr.Stack) {
	rc := C.tao_sem_trywait(s.c)
	switch rc {
	case 0:
		return Acquired, nil
	case C.EAGAIN:
		return WouldBlock, nil
	default:
		return WouldBlock, ipcerr.NewStack().PushSystem("Sem.TryWait", int(rc))
	}
}

// TimedWait waits up to d. d <= 0 short-circuits to TryWait; d > one
// year degrades to an untimed Wait.
func (s Sem) TimedWait(d time.Duration) (WaitOutcome, *ipcerr.Stack) {
	if d <= 0 {
		return s.TryWait()
	}
	if d > oneYear {
		if err := s.Wait(); err != nil {
			return WouldBlock, err
		}
		return Acquired, nil
	}
	deadline := ipctime.AbsoluteDeadline(d)
	rc := C.tao_sem_timedwait(s.c, C.longlong(deadline.Sec), C.long(deadline.Nsec))
	switch rc {
	case 0:
		return Acquired, nil
	case C.ETIMEDOUT:
		return TimedOut, nil
	default:
		return WouldBlock, ipcerr.NewStack().PushSystem("Sem.TimedWait", int(rc))
	}
}

func (s Sem) Destroy() *ipcerr.Stack {
	if rc := C.tao_sem_destroy(s.c); rc != 0 {
		return ipcerr.NewStack().PushSystem("Sem.Destroy", int(rc))
	}
	return nil
}

// Value returns the semaphore's current count, used by the ring's
// "post only if zero" publish rule.
func (s Sem) Value() int {
	return int(C.tao_sem_getvalue(s.c))
}

// SizeofMutex, SizeofCond and SizeofSem report the host's native
// layout sizes so pkg/shmobj can lay out a region without knowing C
// struct internals itself.
func SizeofMutex() uintptr { return unsafe.Sizeof(C.pthread_mutex_t{}) }
func SizeofCond() uintptr  { return unsafe.Sizeof(C.pthread_cond_t{}) }
func SizeofSem() uintptr   { return unsafe.Sizeof(C.sem_t{}) }
