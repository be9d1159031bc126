// Package couch follows a CouchDB-compatible _changes feed in continuous mode.
package couch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/follower"
)

// DefaultURL is the public npm replication endpoint.
const DefaultURL = "https://replicate.npmjs.com/registry"

// Config controls the feed connection.
type Config struct {
	// URL of the database, without the trailing /_changes.
	URL string
	// Heartbeat asks the server to emit a blank line this often.
	Heartbeat time.Duration
	// Attempts bounds connection attempts. Zero means 5.
	Attempts uint
	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration
	// UserAgent is sent with every request when set.
	UserAgent string
	// OnRetry, when set, is called after each failed attempt that will be
	// retried.
	OnRetry func(attempt uint, err error)
	Client  *http.Client
	Logger  *zap.Logger
}

// Source implements follower.ChangeSource.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ follower.ChangeSource = (*Source)(nil)

// New validates cfg and returns a Source.
func New(cfg Config) (*Source, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("feed url must be http(s), got %q", cfg.URL)
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	client := cfg.Client
	if client == nil {
		// No overall timeout: the response body is an unbounded stream.
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, client: client, logger: logger}, nil
}

// changesURL builds the continuous feed URL for since.
func (s *Source) changesURL(since int64) string {
	q := url.Values{}
	q.Set("feed", "continuous")
	q.Set("include_docs", "true")
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("heartbeat", strconv.FormatInt(s.cfg.Heartbeat.Milliseconds(), 10))
	return strings.TrimRight(s.cfg.URL, "/") + "/_changes?" + q.Encode()
}

// statusError carries a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Open connects to the feed, retrying transient failures.
func (s *Source) Open(ctx context.Context, since int64) (follower.ChangeStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	target := s.changesURL(since)

	var resp *http.Response
	err := retry.Do(
		func() error {
			r, err := s.connect(streamCtx, target)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(streamCtx),
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("change feed connect failed; retrying",
				zap.Uint("attempt", n+1),
				zap.Int64("since", since),
				zap.Error(err),
			)
			if s.cfg.OnRetry != nil {
				s.cfg.OnRetry(n, err)
			}
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", s.cfg.URL, err)
	}

	s.logger.Info("change feed connected", zap.String("url", s.cfg.URL), zap.Int64("since", since))
	return &stream{
		body:   resp.Body,
		reader: bufio.NewReaderSize(resp.Body, 64*1024),
		cancel: cancel,
		since:  since,
	}, nil
}

func (s *Source) connect(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

type stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	since  int64

	closeOnce sync.Once
	closeErr  error
}

// line is one row of the continuous feed.
type line struct {
	Seq     any             `json:"seq"`
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc"`
	LastSeq any             `json:"last_seq"`
}

// Next blocks until the next change row arrives. Heartbeats are skipped; a
// last_seq row ends the stream with io.EOF. Cancelling ctx closes the stream.
func (st *stream) Next(ctx context.Context) (follower.ChangeEvent, error) {
	stop := context.AfterFunc(ctx, func() { _ = st.Close() })
	defer stop()

	for {
		raw, err := st.reader.ReadBytes('\n')
		if err != nil && ctx.Err() != nil {
			return follower.ChangeEvent{}, ctx.Err()
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return follower.ChangeEvent{}, fmt.Errorf("read change feed: %w", err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err != nil {
				// The server hung up without a last_seq row.
				return follower.ChangeEvent{}, io.ErrUnexpectedEOF
			}
			continue
		}
		evt, done, perr := decodeLine(raw)
		if perr != nil {
			return follower.ChangeEvent{}, perr
		}
		if done {
			return follower.ChangeEvent{}, io.EOF
		}
		if evt.Sequence <= st.since {
			// Servers may replay the boundary row.
			continue
		}
		return evt, nil
	}
}

func decodeLine(raw []byte) (follower.ChangeEvent, bool, error) {
	var l line
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&l); err != nil {
		return follower.ChangeEvent{}, false, fmt.Errorf("decode change row: %w", err)
	}
	if l.LastSeq != nil && l.Seq == nil {
		return follower.ChangeEvent{}, true, nil
	}
	seq, err := follower.ParseSequence(l.Seq)
	if err != nil {
		return follower.ChangeEvent{}, false, fmt.Errorf("change row %q: %w", l.ID, err)
	}
	if seq == 0 {
		return follower.ChangeEvent{}, false, fmt.Errorf("change row %q: missing seq", l.ID)
	}
	evt := follower.ChangeEvent{Sequence: seq}
	if len(l.Doc) > 0 && !bytes.Equal(l.Doc, []byte("null")) {
		var doc follower.Document
		docDec := json.NewDecoder(bytes.NewReader(l.Doc))
		docDec.UseNumber()
		if err := docDec.Decode(&doc); err != nil {
			// A non-object doc is treated like a missing one.
			doc = nil
		}
		evt.Document = doc
	}
	return evt, false, nil
}

// Close releases the connection. Safe to call concurrently with Next.
func (st *stream) Close() error {
	st.closeOnce.Do(func() {
		st.cancel()
		st.closeErr = st.body.Close()
	})
	return st.closeErr
}
