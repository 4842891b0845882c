package operations

import (
	"context"
	"time"

	"rpb/store"
)

const (
	PIPELINED = "pipelined"
)

// PipelinedBenchmark sends the write and the delete as one batch. Whether
// the batch is atomic depends on the handle.
type PipelinedBenchmark struct {
	config *RunConfig
}

var _ Runner = (*PipelinedBenchmark)(nil)

func NewPipelinedBenchmark(config *RunConfig) Runner {
	return &PipelinedBenchmark{
		config: config,
	}
}

func (pipelined *PipelinedBenchmark) Setup(ctx context.Context, handle store.Handle) error {
	return nil
}

func (pipelined *PipelinedBenchmark) Cleanup() {
}

func (pipelined *PipelinedBenchmark) DoOneOperation(ctx context.Context, handle store.Handle, results chan *OperationResult, key string, value string) {
	executionStartTime := time.Now()

	_, err := handle.ExecBatch(ctx, []store.Op{
		store.Set(key, value),
		store.Del(key),
	})

	Emit(ctx, results, &OperationResult{
		Operation: PIPELINED,
		Latency:   time.Since(executionStartTime),
		Err:       err,
	})
}
