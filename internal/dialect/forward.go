package dialect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
)

const forwardBufferSize = 4096

// Flusher is the subset of http.Flusher the forwarder needs.
type Flusher interface {
	Flush()
}

// ForwardStream copies every line from upstream to downstream byte-for-byte
// as it arrives, flushing after each one, and hands each line to scanner for
// usage extraction in the same loop — the scanner cannot fail or alter the
// write, so forwarding never depends on the parse (spec §4.5, §9). It returns the last-observed Usage and stops
// when upstream closes, scanner.Done reports termination, or ctx is
// cancelled (client disconnect).
//
// Structurally grounded on internal/streaming/forwarder.go's scan-a-line,
// write-a-line, flush loop; diverges from it by writing the raw line
// unconditionally instead of re-marshaling a parsed chunk.
func ForwardStream(ctx context.Context, upstream io.Reader, downstream io.Writer, flusher Flusher, scanner StreamScanner) (Usage, error) {
	br := bufio.NewReaderSize(upstream, forwardBufferSize)

	for {
		select {
		case <-ctx.Done():
			return scanner.Usage(), ctx.Err()
		default:
		}

		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			scanner.Observe(line)
			if _, werr := downstream.Write(line); werr != nil {
				return scanner.Usage(), werr
			}
			flusher.Flush()
			if scanner.Done(line) {
				return scanner.Usage(), nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return scanner.Usage(), nil
			}
			return scanner.Usage(), err
		}
	}
}

// WriteSSEHeaders sets the response headers an SSE stream needs before the
// first chunk is written, matching internal/streaming/forwarder.go's header
// set.
func WriteSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// ForwardNonStreaming reads the full upstream body, writes it verbatim to
// downstream, and extracts usage from it via adapter.
func ForwardNonStreaming(downstream io.Writer, upstream io.Reader, adapter Adapter) (Usage, error) {
	body, err := io.ReadAll(upstream)
	if err != nil {
		return Usage{}, fmt.Errorf("read upstream body: %w", err)
	}
	if _, err := downstream.Write(body); err != nil {
		return Usage{}, fmt.Errorf("write downstream body: %w", err)
	}
	return adapter.ParseNonStreamingUsage(body), nil
}
