package upstream

import (
	"io"
	"time"
)

// IdleReader wraps an upstream response body so that a streaming read that
// produces no chunk within idleTimeout is treated as a stall and the body
// is closed, unblocking the pending Read with an error. Go's http.Client
// has no native per-chunk timeout, so this is how STREAM_IDLE_TIMEOUT
// (spec §4.4) is enforced.
type IdleReader struct {
	body        io.ReadCloser
	idleTimeout time.Duration

	timer *time.Timer
}

// NewIdleReader wraps body with an idle timeout. Callers must still Close
// the returned IdleReader, which closes the underlying body too.
func NewIdleReader(body io.ReadCloser, idleTimeout time.Duration) *IdleReader {
	r := &IdleReader{body: body, idleTimeout: idleTimeout}
	if idleTimeout > 0 {
		r.timer = time.AfterFunc(idleTimeout, func() { body.Close() })
	}
	return r
}

func (r *IdleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if r.timer != nil {
		r.timer.Reset(r.idleTimeout)
	}
	return n, err
}

func (r *IdleReader) Close() error {
	if r.timer != nil {
		r.timer.Stop()
	}
	return r.body.Close()
}
