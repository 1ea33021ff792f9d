package scheduler

import (
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/crypto"
)

// TimeEffects is the clock capability handed to views and to the scheduler
// itself. Production code uses OSTime; tests drive a SimClock.
type TimeEffects interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RandEffects is the randomness capability.
type RandEffects interface {
	io.Reader
}

// StorageEffects is the persistence capability. Implementations may fail
// transiently with StorageUnavailable; callers retry through RetryStorage.
type StorageEffects interface {
	Persist(key string, value []byte) error
	Load(key string) ([]byte, error)
}

// Effects bundles the capabilities a view can use during recomputation.
type Effects struct {
	Time    TimeEffects
	Rand    RandEffects
	Storage StorageEffects
}

// OSEffects returns the production capability set: wall clock, OS entropy
// and the given storage.
func OSEffects(storage StorageEffects) *Effects {
	return &Effects{
		Time:    OSTime{},
		Rand:    rand.Reader,
		Storage: storage,
	}
}

// OSTime is the wall clock.
type OSTime struct{}

// Now implements TimeEffects.
func (OSTime) Now() time.Time { return time.Now() }

// After implements TimeEffects.
func (OSTime) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RetryStorage wraps a StorageEffects with bounded retry. Each attempt that
// fails with StorageUnavailable sleeps for an exponentially growing backoff
// on the injected clock before the next one; any other error is final.
type RetryStorage struct {
	inner    StorageEffects
	clock    TimeEffects
	attempts int
	backoff  time.Duration
}

// NewRetryStorage builds a RetryStorage.
func NewRetryStorage(inner StorageEffects, clock TimeEffects, attempts int, backoff time.Duration) *RetryStorage {
	return &RetryStorage{inner: inner, clock: clock, attempts: attempts, backoff: backoff}
}

// Persist implements StorageEffects.
func (r *RetryStorage) Persist(key string, value []byte) error {
	return r.retry(func() error { return r.inner.Persist(key, value) })
}

// Load implements StorageEffects.
func (r *RetryStorage) Load(key string) ([]byte, error) {
	var out []byte
	err := r.retry(func() error {
		var e error
		out, e = r.inner.Load(key)
		return e
	})
	return out, err
}

func (r *RetryStorage) retry(f func() error) error {
	backoff := r.backoff
	var err error
	for i := 0; i < r.attempts; i++ {
		if err = f(); err == nil || !common.IsCoded(err, common.StorageUnavailable) {
			return err
		}
		<-r.clock.After(backoff)
		backoff *= 2
	}
	return err
}

// FileStorage persists view state as flat files under a directory, one file
// per key.
type FileStorage struct {
	Dir string
}

// Persist implements StorageEffects.
func (f FileStorage) Persist(key string, value []byte) error {
	if err := os.MkdirAll(f.Dir, 0700); err != nil {
		return common.NewCodedErr(common.StorageUnavailable, "FileStorage", err.Error())
	}
	if err := os.WriteFile(filepath.Join(f.Dir, key), value, 0600); err != nil {
		return common.NewCodedErr(common.StorageUnavailable, "FileStorage", err.Error())
	}
	return nil
}

// Load implements StorageEffects.
func (f FileStorage) Load(key string) ([]byte, error) {
	out, err := os.ReadFile(filepath.Join(f.Dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewCodedErr(common.KeyNotFound, "FileStorage", key)
		}
		return nil, common.NewCodedErr(common.StorageUnavailable, "FileStorage", err.Error())
	}
	return out, nil
}

// SimRand is a deterministic randomness stream derived from a seed, for
// simulated runs.
type SimRand struct {
	seed    []byte
	counter uint64
	buf     []byte
}

// NewSimRand builds a SimRand from a seed.
func NewSimRand(seed []byte) *SimRand {
	return &SimRand{seed: seed}
}

// Read implements io.Reader with a hash-chained stream.
func (s *SimRand) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(s.buf) == 0 {
			block := crypto.Blake3Concat(s.seed, counterBytes(s.counter))
			s.counter++
			s.buf = block.Bytes()
		}
		c := copy(p[n:], s.buf)
		s.buf = s.buf[c:]
		n += c
	}
	return n, nil
}

func counterBytes(c uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[i] = byte(c >> (8 * i))
	}
	return out
}
