package operations

import (
	"context"

	"rpb/store"
)

// FakeBenchmark reports an instant success without touching the handle.
type FakeBenchmark struct {
	config *RunConfig
	name   string
}

var _ Runner = (*FakeBenchmark)(nil)

func NewFakeBenchmark(config *RunConfig, name string) Runner {
	return &FakeBenchmark{
		config: config,
		name:   name,
	}
}

func (fake *FakeBenchmark) Setup(ctx context.Context, handle store.Handle) error {
	return nil
}

func (fake *FakeBenchmark) Cleanup() {
}

func (fake *FakeBenchmark) DoOneOperation(ctx context.Context, handle store.Handle, results chan *OperationResult, key string, value string) {
	Emit(ctx, results, &OperationResult{
		Operation: fake.name,
	})
}
