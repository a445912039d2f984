package executor

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// WorkerPool runs independent operations with bounded parallelism
type WorkerPool struct {
	workerCount int
}

// NewWorkerPool creates a new worker pool
// workerCount: number of worker goroutines (0 = use NumCPU)
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}

// ExecuteParallel executes operation on all inputs using the pool.
// Results are returned in the same order as inputs (order-preserving).
// Every input runs even when another fails; the error reported is the one
// with the lowest index. Inputs not yet started when ctx is done fail with
// ctx.Err().
func ExecuteParallel[In, Out any](
	ctx context.Context,
	p *WorkerPool,
	inputs []In,
	operation func(context.Context, In) (Out, error),
) ([]Out, error) {
	results := make([]Out, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}
	errs := make([]error, len(inputs))

	var g errgroup.Group
	g.SetLimit(p.workerCount)
	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = operation(ctx, inputs[i])
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "parallel execution failed at index %d", i)
		}
	}
	return results, nil
}
