package operations

import (
	"context"
	"time"

	"rpb/store"
)

const (
	DISCRETE = "discrete"
)

// DiscreteBenchmark writes the key and then deletes it, one round trip per
// command.
type DiscreteBenchmark struct {
	config *RunConfig
}

var _ Runner = (*DiscreteBenchmark)(nil)

func NewDiscreteBenchmark(config *RunConfig) Runner {
	return &DiscreteBenchmark{
		config: config,
	}
}

func (discrete *DiscreteBenchmark) Setup(ctx context.Context, handle store.Handle) error {
	return nil
}

func (discrete *DiscreteBenchmark) Cleanup() {
}

func (discrete *DiscreteBenchmark) DoOneOperation(ctx context.Context, handle store.Handle, results chan *OperationResult, key string, value string) {
	executionStartTime := time.Now()

	err := handle.Set(ctx, key, value)
	if err == nil {
		_, err = handle.Del(ctx, key)
	}

	Emit(ctx, results, &OperationResult{
		Operation: DISCRETE,
		Latency:   time.Since(executionStartTime),
		Err:       err,
	})
}
