package fleet

import (
	"context"
	"sync"
)

// Job is one unit of pool work.
type Job[T any] struct {
	Payload T
	Fn      func(ctx context.Context, payload T) error
}

// Result pairs a job's payload with its outcome.
type Result[T any] struct {
	Payload T
	Err     error
}

// Pool runs jobs on a bounded set of workers. Unlike a long-lived queue it
// is sized per call: Run blocks until every job has finished and returns
// results in job order. Jobs never share state, so workers need no
// coordination beyond the feed channel.
type Pool[T any] struct {
	maxWorkers int
}

func NewPool[T any](maxWorkers int) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Pool[T]{maxWorkers: maxWorkers}
}

// Run executes jobs and collects per-job results. A job's failure is its
// result, not the pool's: Run itself never fails, and a canceled context
// surfaces as an error result on the jobs it prevented.
func (p *Pool[T]) Run(ctx context.Context, jobs []Job[T]) []Result[T] {
	results := make([]Result[T], len(jobs))
	feed := make(chan int)

	workers := p.maxWorkers
	if len(jobs) < workers {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range feed {
				job := jobs[i]
				if err := ctx.Err(); err != nil {
					results[i] = Result[T]{Payload: job.Payload, Err: err}
					continue
				}
				results[i] = Result[T]{Payload: job.Payload, Err: job.Fn(ctx, job.Payload)}
			}
		}()
	}

	for i := range jobs {
		feed <- i
	}
	close(feed)
	wg.Wait()
	return results
}
