package operations

import (
	"context"
	"time"

	"rpb/store"
)

const (
	PING = "ping"
)

type PingBenchmark struct {
	config *RunConfig
}

var _ Runner = (*PingBenchmark)(nil)

func NewPingBenchmark(config *RunConfig) Runner {
	return &PingBenchmark{
		config: config,
	}
}

func (ping *PingBenchmark) Setup(ctx context.Context, handle store.Handle) error {
	return nil
}

func (ping *PingBenchmark) Cleanup() {
}

func (ping *PingBenchmark) DoOneOperation(ctx context.Context, handle store.Handle, results chan *OperationResult, key string, value string) {
	executionStartTime := time.Now()

	err := handle.Ping(ctx)

	Emit(ctx, results, &OperationResult{
		Operation: PING,
		Latency:   time.Since(executionStartTime),
		Err:       err,
	})
}
