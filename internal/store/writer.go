package store

import "context"

// writer serializes all mutating calls onto one goroutine, matching
// SQLite's one-writer-at-a-time file locking (spec §4.1 "single-writer
// discipline"). sqlStore runs every mutation through it on both backends,
// so concurrent KeyPool and RequestLog writers never collide; Postgres
// would not need it for correctness, but uses the same path.
type writer struct {
	jobs chan func()
	done chan struct{}
}

func newWriter() *writer {
	w := &writer{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for job := range w.jobs {
		job()
	}
}

// do runs fn on the writer goroutine and waits for it to finish, returning
// its error. It respects ctx cancellation while waiting to be scheduled.
func (w *writer) do(ctx context.Context, fn func() error) error {
	resultCh := make(chan error, 1)
	job := func() { resultCh <- fn() }

	select {
	case w.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	close(w.jobs)
	<-w.done
}
