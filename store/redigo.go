package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomodule/redigo/redis"
)

// redigoHandle is a single-node handle over a redigo pool. Wait is set, so
// Get blocks once MaxActive connections are checked out.
type redigoHandle struct {
	pool          *redis.Pool
	transactional bool
	closeOnce     sync.Once
}

var _ Handle = (*redigoHandle)(nil)

func newRedigoHandle(ctx context.Context, cfg EndpointConfig) (*redigoHandle, error) {
	addr := cfg.Addrs[0]
	options := []redis.DialOption{
		redis.DialConnectTimeout(cfg.DialTimeout),
		redis.DialReadTimeout(cfg.ReadTimeout),
		redis.DialWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.Password != "" {
		options = append(options, redis.DialPassword(cfg.Password))
	}

	h := &redigoHandle{
		pool: &redis.Pool{
			MaxActive: cfg.Pool.MaxTotal,
			MaxIdle:   cfg.Pool.MaxIdle,
			Wait:      true,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", addr, options...)
			},
		},
		transactional: cfg.Transactional,
	}

	if err := h.fillIdle(ctx, cfg.Pool.MinIdle); err != nil {
		_ = h.pool.Close()
		return nil, err
	}

	return h, nil
}

// fillIdle dials n connections up front and returns them to the pool.
func (h *redigoHandle) fillIdle(ctx context.Context, n int) error {
	if n > h.pool.MaxIdle {
		n = h.pool.MaxIdle
	}

	conns := make([]redis.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	for i := 0; i < n; i++ {
		c, err := h.pool.GetContext(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := c.Err(); err != nil {
			return err
		}
	}

	return nil
}

func (h *redigoHandle) conn(ctx context.Context) (redis.Conn, error) {
	return h.pool.GetContext(ctx)
}

func (h *redigoHandle) Transactional() bool {
	return h.transactional
}

func (h *redigoHandle) Ping(ctx context.Context) error {
	c, err := h.conn(ctx)
	if err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	defer c.Close()

	if _, err := c.Do("PING"); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

func (h *redigoHandle) Set(ctx context.Context, key, value string) error {
	c, err := h.conn(ctx)
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	defer c.Close()

	if _, err := redis.String(c.Do("SET", key, value)); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (h *redigoHandle) Del(ctx context.Context, key string) (int64, error) {
	c, err := h.conn(ctx)
	if err != nil {
		return 0, &StoreError{Op: "del", Key: key, Err: err}
	}
	defer c.Close()

	count, err := redis.Int64(c.Do("DEL", key))
	if err != nil {
		return 0, &StoreError{Op: "del", Key: key, Err: err}
	}
	return count, nil
}

func (h *redigoHandle) ExecBatch(ctx context.Context, ops []Op) ([]Result, error) {
	op := batchOpName(h.transactional)
	if len(ops) == 0 {
		return nil, nil
	}

	results, err := prepareBatch(op, ops)
	if err != nil {
		return results, err
	}

	c, err := h.conn(ctx)
	if err != nil {
		return failAll(results, err), &StoreError{Op: op, Err: err}
	}
	defer c.Close()

	if h.transactional {
		err = h.execMulti(c, ops, results)
	} else {
		err = h.execPipeline(c, ops, results)
	}

	if err != nil {
		return results, &StoreError{Op: op, Key: firstFailedKey(ops, results), Err: err}
	}
	return results, nil
}

func sendOp(c redis.Conn, o Op) error {
	switch o.Kind {
	case OpSet:
		return c.Send("SET", o.Key, o.Value)
	case OpDel:
		return c.Send("DEL", o.Key)
	default:
		return fmt.Errorf("%w %s", ErrUnknownOp, o.Kind)
	}
}

func fillResult(r *Result, reply interface{}, err error) {
	if err == nil {
		if e, ok := reply.(redis.Error); ok {
			err = e
		}
	}
	r.Err = err
	if err == nil && r.Kind == OpDel {
		r.Count, r.Err = redis.Int64(reply, nil)
	}
}

func (h *redigoHandle) execPipeline(c redis.Conn, ops []Op, results []Result) error {
	for _, o := range ops {
		if err := sendOp(c, o); err != nil {
			failAll(results, err)
			return err
		}
	}
	if err := c.Flush(); err != nil {
		failAll(results, err)
		return err
	}

	var first error
	for i := range results {
		reply, err := c.Receive()
		fillResult(&results[i], reply, err)
		if first == nil && results[i].Err != nil {
			first = results[i].Err
		}
	}
	return first
}

func (h *redigoHandle) execMulti(c redis.Conn, ops []Op, results []Result) error {
	if err := c.Send("MULTI"); err != nil {
		failAll(results, err)
		return err
	}
	for _, o := range ops {
		if err := sendOp(c, o); err != nil {
			failAll(results, err)
			return err
		}
	}

	// Do flushes, drains the QUEUED replies and returns the EXEC reply.
	replies, err := redis.Values(c.Do("EXEC"))
	if err != nil {
		failAll(results, err)
		return err
	}
	if len(replies) != len(ops) {
		err = fmt.Errorf("exec returned %d replies for %d ops", len(replies), len(ops))
		failAll(results, err)
		return err
	}

	var first error
	for i, reply := range replies {
		fillResult(&results[i], reply, nil)
		if first == nil && results[i].Err != nil {
			first = results[i].Err
		}
	}
	return first
}

func (h *redigoHandle) FlushAll(ctx context.Context) error {
	c, err := h.conn(ctx)
	if err != nil {
		return &StoreError{Op: "flushall", Err: err}
	}
	defer c.Close()

	if _, err := c.Do("FLUSHALL"); err != nil {
		return &StoreError{Op: "flushall", Err: err}
	}
	return nil
}

func (h *redigoHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.pool.Close()
	})
	return err
}
