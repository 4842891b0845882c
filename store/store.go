// Package store opens long-lived handles to a Redis endpoint. A handle
// executes single commands and pipelined batches and is safe for concurrent
// use by many workers.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type OpKind int

const (
	OpSet OpKind = iota
	OpDel
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDel:
		return "del"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

type Op struct {
	Kind  OpKind
	Key   string
	Value string
}

func Set(key, value string) Op {
	return Op{Kind: OpSet, Key: key, Value: value}
}

func Del(key string) Op {
	return Op{Kind: OpDel, Key: key}
}

// ErrUnknownOp is wrapped by the error of a batch holding an op of a kind
// the handle cannot send.
var ErrUnknownOp = errors.New("unknown op")

// Result is the outcome of one batched op. Count is the number of keys
// removed for OpDel and unused for OpSet.
type Result struct {
	Kind  OpKind
	Count int64
	Err   error
}

type Handle interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) (int64, error)

	// ExecBatch sends ops in one round trip and returns one Result per op
	// in input order. On a transactional handle the batch is wrapped in
	// MULTI/EXEC. The returned error is the first failure, if any.
	ExecBatch(ctx context.Context, ops []Op) ([]Result, error)

	FlushAll(ctx context.Context) error
	Transactional() bool

	// Close releases pooled connections. Calls after the first are no-ops
	// and return nil.
	Close() error
}

// ConnectionError means the endpoint could not be reached. It is fatal to
// a run.
type ConnectionError struct {
	Addrs []string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", strings.Join(e.Addrs, ","), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StoreError is a failed or timed out command.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Opener is the signature of Open, so drivers can be handed a fake.
type Opener func(ctx context.Context, cfg EndpointConfig) (Handle, error)

// Open builds the backend selected by cfg and pings it once within the
// dial timeout. No retries are made.
func Open(ctx context.Context, cfg EndpointConfig) (Handle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Resolve {
		addrs, err := ResolveAddresses(cfg.Addrs)
		if err != nil {
			return nil, &ConnectionError{Addrs: cfg.Addrs, Err: err}
		}
		cfg.Addrs = addrs
	}

	var handle Handle
	switch cfg.Client {
	case ClientRedigo:
		h, err := newRedigoHandle(ctx, cfg)
		if err != nil {
			return nil, &ConnectionError{Addrs: cfg.Addrs, Err: err}
		}
		handle = h
	default:
		handle = newGoRedisHandle(cfg)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := handle.Ping(pingCtx); err != nil {
		_ = handle.Close()
		return nil, &ConnectionError{Addrs: cfg.Addrs, Err: err}
	}

	return handle, nil
}

// prepareBatch returns one Result per op with Kind filled in. An op of an
// unknown kind fails the whole batch before anything is sent.
func prepareBatch(op string, ops []Op) ([]Result, error) {
	results := make([]Result, len(ops))
	for i, o := range ops {
		results[i].Kind = o.Kind
	}

	for _, o := range ops {
		if o.Kind != OpSet && o.Kind != OpDel {
			err := fmt.Errorf("%w %s", ErrUnknownOp, o.Kind)
			return failAll(results, err), &StoreError{Op: op, Key: o.Key, Err: err}
		}
	}
	return results, nil
}

func failAll(results []Result, err error) []Result {
	for i := range results {
		results[i].Err = err
	}
	return results
}
