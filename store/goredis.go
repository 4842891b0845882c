package store

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v7"
)

type goRedisHandle struct {
	single        *redis.Client
	cluster       *redis.ClusterClient
	transactional bool
	closeOnce     sync.Once
}

var _ Handle = (*goRedisHandle)(nil)

func newGoRedisHandle(cfg EndpointConfig) *goRedisHandle {
	h := &goRedisHandle{transactional: cfg.Transactional}

	if cfg.Topology == TopologyCluster {
		h.cluster = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.Pool.MaxTotal,
			MinIdleConns: cfg.Pool.MinIdle,
			PoolTimeout:  cfg.Pool.Timeout,
		})
		return h
	}

	h.single = redis.NewClient(&redis.Options{
		Addr:         cfg.Addrs[0],
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.Pool.MaxTotal,
		MinIdleConns: cfg.Pool.MinIdle,
		PoolTimeout:  cfg.Pool.Timeout,
		MaxRetries:   0,
	})
	return h
}

func (h *goRedisHandle) client(ctx context.Context) redis.Cmdable {
	if h.cluster != nil {
		return h.cluster.WithContext(ctx)
	}
	return h.single.WithContext(ctx)
}

func (h *goRedisHandle) Transactional() bool {
	return h.transactional
}

func (h *goRedisHandle) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	if err := h.client(ctx).Ping().Err(); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

func (h *goRedisHandle) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	if err := h.client(ctx).Set(key, value, 0).Err(); err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (h *goRedisHandle) Del(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &StoreError{Op: "del", Key: key, Err: err}
	}
	count, err := h.client(ctx).Del(key).Result()
	if err != nil {
		return 0, &StoreError{Op: "del", Key: key, Err: err}
	}
	return count, nil
}

func (h *goRedisHandle) ExecBatch(ctx context.Context, ops []Op) ([]Result, error) {
	op := batchOpName(h.transactional)
	if len(ops) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}

	results, err := prepareBatch(op, ops)
	if err != nil {
		return results, err
	}

	queue := func(pipe redis.Pipeliner) error {
		for _, o := range ops {
			if o.Kind == OpSet {
				pipe.Set(o.Key, o.Value, 0)
			} else {
				pipe.Del(o.Key)
			}
		}
		return nil
	}

	var cmds []redis.Cmder
	if h.transactional {
		cmds, err = h.client(ctx).TxPipelined(queue)
	} else {
		cmds, err = h.client(ctx).Pipelined(queue)
	}

	for i := range results {
		if i >= len(cmds) {
			results[i].Err = err
			continue
		}
		results[i].Err = cmds[i].Err()
		if intCmd, ok := cmds[i].(*redis.IntCmd); ok && results[i].Err == nil {
			results[i].Count = intCmd.Val()
		}
	}

	if err != nil {
		return results, &StoreError{Op: op, Key: firstFailedKey(ops, results), Err: err}
	}
	return results, nil
}

func (h *goRedisHandle) FlushAll(ctx context.Context) error {
	if h.cluster != nil {
		err := h.cluster.WithContext(ctx).ForEachMaster(func(master *redis.Client) error {
			return master.FlushAll().Err()
		})
		if err != nil {
			return &StoreError{Op: "flushall", Err: err}
		}
		return nil
	}
	if err := h.single.WithContext(ctx).FlushAll().Err(); err != nil {
		return &StoreError{Op: "flushall", Err: err}
	}
	return nil
}

func (h *goRedisHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.cluster != nil {
			err = h.cluster.Close()
		} else {
			err = h.single.Close()
		}
	})
	return err
}

func batchOpName(transactional bool) string {
	if transactional {
		return "multi/exec"
	}
	return "pipeline"
}

func firstFailedKey(ops []Op, results []Result) string {
	for i, r := range results {
		if r.Err != nil {
			return ops[i].Key
		}
	}
	return ""
}
