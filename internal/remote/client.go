package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrRunNotFound is returned when the service has no such run.
var ErrRunNotFound = errors.New("remote run not found")

// #region options
// ClientOptions tunes retries, rate limiting and caching.
type ClientOptions struct {
	RequestsPerSec  float64
	Burst           int
	MaxRetries      uint64
	MaxRetryTimeout time.Duration
	InitialInterval time.Duration
	CacheSize       int
}

// DefaultClientOptions returns the options Dial uses when fields are zero.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		RequestsPerSec:  5,
		Burst:           5,
		MaxRetries:      5,
		MaxRetryTimeout: 30 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		CacheSize:       128,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	d := DefaultClientOptions()
	if o.RequestsPerSec == 0 {
		o.RequestsPerSec = d.RequestsPerSec
	}
	if o.Burst == 0 {
		o.Burst = d.Burst
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.MaxRetryTimeout == 0 {
		o.MaxRetryTimeout = d.MaxRetryTimeout
	}
	if o.InitialInterval == 0 {
		o.InitialInterval = d.InitialInterval
	}
	if o.CacheSize == 0 {
		o.CacheSize = d.CacheSize
	}
	return o
}

// #endregion options

// #region client-struct
// Client fetches histories from a HistoryService. Safe for concurrent use.
type Client struct {
	conn    *grpc.ClientConn
	cc      grpc.ClientConnInterface
	opts    ClientOptions
	limiter *rate.Limiter
	cache   *lru.Cache
	log     zerolog.Logger
}

// #endregion client-struct

// #region constructor
// Dial connects to the history service at addr.
func Dial(addr string, opts ClientOptions, log zerolog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c, err := NewClientWithConn(conn, opts, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// NewClientWithConn wraps an existing connection. Close does not close cc.
func NewClientWithConn(cc grpc.ClientConnInterface, opts ClientOptions, log zerolog.Logger) (*Client, error) {
	opts = opts.withDefaults()
	cache, err := lru.New(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("history cache: %w", err)
	}
	return &Client{
		cc:      cc,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		cache:   cache,
		log:     log.With().Str("component", "history-client").Logger(),
	}, nil
}

// Close shuts down the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region fetch
// FetchHistory returns a run and its scoring history. Results are cached by
// run id for the life of the client.
func (c *Client) FetchHistory(ctx context.Context, runID string) (RunHistory, error) {
	if v, ok := c.cache.Get(runID); ok {
		return v.(RunHistory), nil
	}
	resp, err := c.call(ctx, methodGetHistory, runID)
	if err != nil {
		return RunHistory{}, err
	}
	rh, err := decodeRunHistory(resp)
	if err != nil {
		return RunHistory{}, fmt.Errorf("decode history %s: %w", runID, err)
	}
	c.cache.Add(runID, rh)
	return rh, nil
}

// FetchCoefficients returns a run's coefficient table.
func (c *Client) FetchCoefficients(ctx context.Context, runID string) (map[string]float64, error) {
	resp, err := c.call(ctx, methodGetCoefficients, runID)
	if err != nil {
		return nil, err
	}
	return decodeCoefficients(resp), nil
}

// call waits for the limiter and retries transient failures with
// exponential backoff.
func (c *Client) call(ctx context.Context, method, runID string) (*structpb.Struct, error) {
	req := runIDRequest(runID)
	var resp *structpb.Struct

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out := new(structpb.Struct)
		err := c.cc.Invoke(ctx, method, req, out)
		if err == nil {
			resp = out
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxElapsedTime = c.opts.MaxRetryTimeout
	strategy := backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("run_id", runID).Dur("retry_in", wait).Msg("history rpc failed")
	}
	if err := backoff.RetryNotify(operation, strategy, notify); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("%s %s: %w", method, runID, err)
	}
	return resp, nil
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return true
	}
	return false
}

// #endregion fetch
