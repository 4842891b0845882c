package operations

import (
	"context"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"rpb/store"
)

const (
	DefaultValueSize = 20
	letters          = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

type RunConfig struct {
	RunID        string
	ClientCount  int
	Iterations   int
	Duration     time.Duration
	Deadline     time.Duration
	ValueSize    int
	KeyPrefix    string
	WarmupPings  int
	WarmupPause  time.Duration
	Flush        bool
	IgnoreErrors bool
}

type OperationResult struct {
	Latency   time.Duration
	Operation string
	Err       error
}

type ThroughputResult struct {
	OperationCount  int
	Failures        int
	AccumulatedTime uint64
}

type Runner interface {
	Setup(ctx context.Context, handle store.Handle) error
	DoOneOperation(ctx context.Context, handle store.Handle, results chan *OperationResult, key string, value string)
	Cleanup()
}

// Emit delivers r unless ctx is done first, so that a worker abandoned at
// the collection deadline never blocks on a collector that has gone away.
func Emit(ctx context.Context, results chan *OperationResult, r *OperationResult) bool {
	select {
	case results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// KeyGenerator hands out keys derived from one shared counter. Concurrent
// callers always get distinct keys.
type KeyGenerator struct {
	prefix  string
	start   int64
	counter atomic.Int64
}

func NewKeyGenerator(prefix string, start int64) *KeyGenerator {
	kg := &KeyGenerator{prefix: prefix, start: start}
	kg.counter.Store(start)
	return kg
}

func (kg *KeyGenerator) Next() string {
	return kg.prefix + strconv.FormatInt(kg.counter.Add(1), 10)
}

// Issued is the number of keys handed out since the last Reset.
func (kg *KeyGenerator) Issued() int64 {
	return kg.counter.Load() - kg.start
}

func (kg *KeyGenerator) Reset() {
	kg.counter.Store(kg.start)
}

// ValueGenerator makes random alphabetic values of a fixed length. It is not
// safe for concurrent use; each worker owns one.
type ValueGenerator struct {
	size    int
	randInt *rand.Rand
	buf     []byte
}

func NewValueGenerator(size int) *ValueGenerator {
	if size <= 0 {
		size = DefaultValueSize
	}
	return &ValueGenerator{
		size:    size,
		randInt: rand.New(rand.NewSource(time.Now().UnixNano())),
		buf:     make([]byte, size),
	}
}

func (vg *ValueGenerator) Next() string {
	for i := range vg.buf {
		vg.buf[i] = letters[vg.randInt.Intn(len(letters))]
	}
	return string(vg.buf)
}
