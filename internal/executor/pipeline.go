package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// pending is a transaction whose signature check may still be running.
type pending struct {
	tx       *Transaction
	hash     [32]byte
	verified chan error
}

// Pipeline validates transactions concurrently and commits them strictly
// in arrival order through one executor.
type Pipeline struct {
	exec    *Executor
	workers int
}

// NewPipeline creates a pipeline with the given number of validators.
func NewPipeline(exec *Executor, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{exec: exec, workers: workers}
}

// Stream consumes in until it is closed, sending one receipt per
// transaction to out in the same order. out is closed on return.
func (p *Pipeline) Stream(ctx context.Context, in <-chan *Transaction, out chan<- *Receipt) error {
	defer close(out)

	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan *pending, p.workers)
	slots := make(chan struct{}, p.workers)

	g.Go(func() error {
		defer close(queue)

		for {
			var tx *Transaction
			var ok bool

			select {
			case <-ctx.Done():
				return ctx.Err()
			case tx, ok = <-in:
				if !ok {
					return nil
				}
			}

			job := &pending{tx: tx, hash: tx.Hash(), verified: make(chan error, 1)}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			g.Go(func() error {
				job.verified <- job.tx.Verify()
				<-slots
				return nil
			})

			select {
			case queue <- job:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for job := range queue {
			var r *Receipt
			if err := <-job.verified; err != nil {
				r = rejected(job.hash, err)
			} else {
				r = p.exec.run(ctx, job.tx, job.hash, nil, true)
			}

			select {
			case out <- r:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

// Run pushes a batch through the pipeline and returns the receipts in
// input order.
func (p *Pipeline) Run(ctx context.Context, txs []*Transaction) ([]*Receipt, error) {
	in := make(chan *Transaction, len(txs))
	for _, tx := range txs {
		in <- tx
	}
	close(in)

	out := make(chan *Receipt, len(txs))
	if err := p.Stream(ctx, in, out); err != nil {
		return nil, err
	}

	receipts := make([]*Receipt, 0, len(txs))
	for r := range out {
		receipts = append(receipts, r)
	}

	return receipts, nil
}
