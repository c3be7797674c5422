package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// BatchError accumulates the failures of a batch run.
type BatchError struct {
	Errors []error
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	b.WriteString("multiple errors:")
	for _, err := range e.Errors {
		b.WriteString(" ")
		b.WriteString(err.Error())
		b.WriteString(";")
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	return e.Errors
}

// Count returns how many failures match target.
func (e *BatchError) Count(target error) int {
	n := 0
	for _, err := range e.Errors {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (e *BatchError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *BatchError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// BatchRunner executes many transfers concurrently through an Engine.
type BatchRunner struct {
	engine  *Engine
	workers int
}

// NewBatchRunner creates a BatchRunner with the provided concurrency.
func NewBatchRunner(engine *Engine, workers int) *BatchRunner {
	if workers <= 0 {
		workers = 4
	}
	return &BatchRunner{
		engine:  engine,
		workers: workers,
	}
}

// Run executes reqs and returns how many completed. Business failures are
// collected in a *BatchError; a cancelled context stops dispatching and is
// returned as is.
func (b *BatchRunner) Run(ctx context.Context, reqs []Request) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, len(reqs))
	var completed atomic.Int64
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if _, err := b.engine.Transfer(ctx, reqs[idx]); err != nil {
				errCh <- err
				continue
			}
			completed.Add(1)
		}
	}

	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := range reqs {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return int(completed.Load()), err
	}

	var batchErr BatchError
	for err := range errCh {
		batchErr.append(err)
	}
	return int(completed.Load()), batchErr.asError()
}
