package tracker

import (
	"sync"
	"time"
)

// workerPool propagates one tick's batch on a fixed number of goroutines.
// Each record is handed to exactly one worker, so records need no locking
// of their own; the tracker's write lock is held for the whole tick.
type workerPool struct {
	workers int
}

func newWorkerPool(workers int) *workerPool {
	return &workerPool{workers: workers}
}

func (wp *workerPool) run(batch []*Record, simTime time.Time, gmst float64) (ok, failed int) {
	jobs := make(chan *Record, wp.workers*2)
	results := make(chan error, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				results <- propagateRecord(rec, simTime, gmst)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, rec := range batch {
			jobs <- rec
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for err := range results {
		if err != nil {
			failed++
			continue
		}
		ok++
	}
	return ok, failed
}
