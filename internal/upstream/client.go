// Package upstream owns the long-lived HTTP client used to reach the
// provider the gateway proxies to (spec §4.4). Byte-transparent forwarding
// requires owning the transport directly rather than going through a
// provider SDK, so this is grounded on providers/gemini/gemini.go's and
// providers/openai/openai.go's raw net/http.Client + http.NewRequestWithContext
// construction, generalized into a shared, rebuildable client.
package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullbridge/llmgate/internal/metrics"
)

// Config carries the tunables from spec §4.4/§6.
type Config struct {
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
	RebuildThreshold  int
	ProxyURL          string
}

// Client is the shared upstream HTTP client. It is safe for concurrent use;
// Do reports transport-level failures to trigger the rebuild policy.
type Client struct {
	cfg Config

	mu         sync.RWMutex
	http       *http.Client
	failures   atomic.Int64
	rebuilding atomic.Bool
}

// New constructs a Client with a freshly built transport.
func New(cfg Config) (*Client, error) {
	c := &Client{cfg: cfg}
	transport, err := c.buildTransport()
	if err != nil {
		return nil, err
	}
	c.http = &http.Client{Transport: transport}
	return c, nil
}

func (c *Client) buildTransport() (*http.Transport, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if c.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(c.cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	return t, nil
}

// Do executes req under whatever deadline req's context carries (callers
// apply cfg.RequestTimeout through WithTimeout), and feeds the rebuild
// policy whenever the underlying http.Client returns an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.RLock()
	httpClient := c.http
	c.mu.RUnlock()

	resp, err := httpClient.Do(req)
	if err != nil {
		c.reportTransportFailure()
		return nil, err
	}
	c.failures.Store(0)
	return resp, nil
}

// WithTimeout wraps parent with the configured request timeout, unless
// parent already carries an earlier deadline.
func (c *Client) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := parent.Deadline(); ok {
		if time.Until(dl) < c.cfg.RequestTimeout {
			return context.WithCancel(parent)
		}
	}
	return context.WithTimeout(parent, c.cfg.RequestTimeout)
}

// WithIdleTimeout wraps a streaming response body with the configured
// per-chunk idle timeout (spec §4.4 STREAM_IDLE_TIMEOUT).
func (c *Client) WithIdleTimeout(body io.ReadCloser) *IdleReader {
	return NewIdleReader(body, c.cfg.StreamIdleTimeout)
}

// reportTransportFailure implements the rebuild policy (spec §4.4, §5
// "only one rebuild occurs per failure burst"): after RebuildThreshold
// consecutive transport-level errors, the client's transport is torn down
// and recreated, guarded by an atomic flag so concurrent callers in the
// same burst don't each trigger a rebuild.
func (c *Client) reportTransportFailure() {
	n := c.failures.Add(1)
	if int(n) < c.cfg.RebuildThreshold {
		return
	}
	if !c.rebuilding.CompareAndSwap(false, true) {
		return // another goroutine is already rebuilding this burst
	}
	defer c.rebuilding.Store(false)

	transport, err := c.buildTransport()
	if err != nil {
		return
	}
	c.mu.Lock()
	old := c.http
	c.http = &http.Client{Transport: transport}
	c.mu.Unlock()
	old.CloseIdleConnections()
	c.failures.Store(0)
	metrics.UpstreamTransportRebuilds.Inc()
}
