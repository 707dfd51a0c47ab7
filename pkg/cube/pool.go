package cube

import (
	"runtime"
	"sync"
)

// Progress receives updates while the entries of a disc are extracted.
// Increment is only called from a single goroutine.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int)  {}
func (nopProgress) Increment() {}
func (nopProgress) Finish()    {}

type indexed[T any] struct {
	index int
	value T
}

// runOrdered calls fn for every index in [0, n) on up to workers goroutines
// and returns the results in index order. The first error is returned once
// all submitted work has drained.
func runOrdered[T any](n, workers int, progress Progress, fn func(i int) (T, error)) ([]T, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if progress == nil {
		progress = nopProgress{}
	}
	results := make([]T, n)

	workCh := make(chan int, workers*4)
	resultCh := make(chan indexed[T], workers*4)

	progress.Start(n)
	defer progress.Finish()

	// Result collector
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for r := range resultCh {
			results[r.index] = r.value
			progress.Increment()
		}
	}()

	var workerWg sync.WaitGroup
	var workerErr error
	var errOnce sync.Once

	for i := 0; i < workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for index := range workCh {
				v, err := fn(index)
				if err != nil {
					errOnce.Do(func() { workerErr = err })
					continue
				}
				resultCh <- indexed[T]{index, v}
			}
		}()
	}

	for i := 0; i < n; i++ {
		workCh <- i
	}

	close(workCh)
	workerWg.Wait()
	close(resultCh)
	collectWg.Wait()

	if workerErr != nil {
		return nil, workerErr
	}
	return results, nil
}
