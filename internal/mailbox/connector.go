package mailbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
)

// Connector owns one IMAP session on one mailbox. Commands are serialized;
// while idle the session sits in IDLE so new mail is pushed to Events.
type Connector struct {
	cfg     config.MailboxConfig
	logger  *zap.Logger
	metrics *observability.Metrics

	events chan struct{}
	rearm  chan struct{}

	mu          sync.Mutex
	client      *imapclient.Client
	idle        *imapclient.IdleCommand
	uidValidity uint32
}

// Option customizes a Connector.
type Option func(*Connector)

// WithMetrics counts reconnects.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Connector) {
		c.metrics = m
	}
}

// NewConnector builds a disconnected connector. Call Run to own the session.
func NewConnector(cfg config.MailboxConfig, logger *zap.Logger, opts ...Option) *Connector {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connector{
		cfg:    cfg,
		logger: logger.With(zap.String("mailbox", cfg.Mailbox)),
		events: make(chan struct{}, 1),
		rearm:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events fires when new mail may be waiting. Signals coalesce: one pending
// signal covers any number of arrivals.
func (c *Connector) Events() <-chan struct{} {
	return c.events
}

func (c *Connector) notify() {
	select {
	case c.events <- struct{}{}:
	default:
	}
}

func (c *Connector) signalRearm() {
	select {
	case c.rearm <- struct{}{}:
	default:
	}
}

// Connect dials, logs in and selects the configured mailbox, replacing any
// existing session.
func (c *Connector) Connect(ctx context.Context) error {
	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					c.notify()
				}
			},
		},
	}

	client, err := c.dial(ctx, opts)
	if err != nil {
		return err
	}

	err = c.await(ctx, client, func() error {
		return client.Login(c.cfg.Username, c.cfg.Password).Wait()
	})
	if err != nil {
		_ = client.Close()
		return &ConnectionError{Op: "login", Err: err}
	}

	var selected *imap.SelectData
	err = c.await(ctx, client, func() error {
		var selErr error
		selected, selErr = client.Select(c.cfg.Mailbox, nil).Wait()
		return selErr
	})
	if err != nil {
		_ = client.Close()
		return &ConnectionError{Op: "select", Err: err}
	}

	c.mu.Lock()
	c.dropLocked()
	if c.uidValidity != 0 && c.uidValidity != selected.UIDValidity {
		c.logger.Warn("mailbox uidvalidity changed",
			zap.Uint32("previous", c.uidValidity),
			zap.Uint32("current", selected.UIDValidity))
	}
	c.client = client
	c.uidValidity = selected.UIDValidity
	c.mu.Unlock()

	c.logger.Info("mailbox connected",
		zap.String("addr", c.cfg.Addr()),
		zap.Uint32("uidvalidity", selected.UIDValidity),
		zap.Uint32("messages", selected.NumMessages))
	c.notify()
	return nil
}

type dialResult struct {
	client *imapclient.Client
	err    error
}

func (c *Connector) dial(ctx context.Context, opts *imapclient.Options) (*imapclient.Client, error) {
	addr := c.cfg.Addr()
	ch := make(chan dialResult, 1)
	go func() {
		var res dialResult
		switch {
		case c.cfg.TLS:
			res.client, res.err = imapclient.DialTLS(addr, opts)
		case c.cfg.StartTLS:
			res.client, res.err = imapclient.DialStartTLS(addr, opts)
		default:
			res.client, res.err = imapclient.DialInsecure(addr, opts)
		}
		ch <- res
	}()

	abandon := func() {
		go func() {
			if res := <-ch; res.client != nil {
				_ = res.client.Close()
			}
		}()
	}

	timer := time.NewTimer(c.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("%s: %w", addr, res.err)}
		}
		return res.client, nil
	case <-timer.C:
		abandon()
		return nil, &ConnectionError{Op: "dial", Err: ErrCommandTimeout}
	case <-ctx.Done():
		abandon()
		return nil, &ConnectionError{Op: "dial", Err: ctx.Err()}
	}
}

// await runs fn under the command timeout. On timeout or cancellation the
// client is closed, which unblocks fn.
func (c *Connector) await(ctx context.Context, client *imapclient.Client, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(c.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = client.Close()
		<-done
		return ErrCommandTimeout
	case <-ctx.Done():
		_ = client.Close()
		<-done
		return ctx.Err()
	}
}

// withClient runs one command with IDLE suspended. Stopping IDLE and the
// command each run under the command timeout. Failures other than a server
// status response or a FetchError tear the session down.
func (c *Connector) withClient(ctx context.Context, op string, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.signalRearm()
	defer c.mu.Unlock()

	if c.client == nil {
		return &ConnectionError{Op: op, Err: ErrNotConnected}
	}
	if err := c.stopIdleLocked(ctx); err != nil {
		c.dropLocked()
		return &ConnectionError{Op: op, Err: err}
	}

	client := c.client
	err := c.await(ctx, client, func() error { return fn(client) })
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	var fetchErr *FetchError
	if errors.As(err, &imapErr) || errors.As(err, &fetchErr) {
		return err
	}
	c.dropLocked()
	return &ConnectionError{Op: op, Err: err}
}

// stopIdleLocked sends DONE and waits for the server to finish IDLE. A
// server that never completes it costs one command timeout and the session.
func (c *Connector) stopIdleLocked(ctx context.Context) error {
	if c.idle == nil {
		return nil
	}
	idle := c.idle
	c.idle = nil
	return c.await(ctx, c.client, func() error {
		if err := idle.Close(); err != nil {
			return err
		}
		return idle.Wait()
	})
}

func (c *Connector) dropLocked() {
	c.idle = nil
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
}

func (c *Connector) mailboxHandle(uid imap.UID) Handle {
	return Handle{Mailbox: c.cfg.Mailbox, UIDValidity: c.uidValidity, UID: uint32(uid)}
}

func (c *Connector) checkHandle(h Handle) error {
	if h.Mailbox != c.cfg.Mailbox || h.UIDValidity != c.uidValidity {
		return &FetchError{Handle: h, Err: ErrStaleHandle}
	}
	return nil
}

// ListUnseen returns handles for every unseen message, oldest first.
func (c *Connector) ListUnseen(ctx context.Context) ([]Handle, error) {
	var handles []Handle
	err := c.withClient(ctx, "search", func(client *imapclient.Client) error {
		criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
		data, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return err
		}
		uids := data.AllUIDs()
		slices.Sort(uids)
		handles = make([]Handle, 0, len(uids))
		for _, uid := range uids {
			handles = append(handles, c.mailboxHandle(uid))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handles, nil
}

// Fetch returns the raw RFC 5322 bytes of a message without setting \Seen.
func (c *Connector) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	var raw []byte
	err := c.withClient(ctx, "fetch", func(client *imapclient.Client) error {
		if err := c.checkHandle(h); err != nil {
			return err
		}
		section := &imap.FetchItemBodySection{Peek: true}
		cmd := client.Fetch(imap.UIDSetNum(imap.UID(h.UID)), &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{section},
		})

		msg := cmd.Next()
		if msg == nil {
			if err := cmd.Close(); err != nil {
				return err
			}
			return &FetchError{Handle: h, Err: ErrMessageGone}
		}
		buf, err := msg.Collect()
		closeErr := cmd.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
		raw = buf.FindBodySection(section)
		if raw == nil {
			return &FetchError{Handle: h, Err: ErrMessageGone}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// MarkSeen sets \Seen on the message. Repeating it is harmless.
func (c *Connector) MarkSeen(ctx context.Context, h Handle) error {
	return c.withClient(ctx, "store", func(client *imapclient.Client) error {
		if err := c.checkHandle(h); err != nil {
			return err
		}
		return client.Store(imap.UIDSetNum(imap.UID(h.UID)), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close()
	})
}

// Run keeps a session alive until ctx is done, reconnecting with backoff.
func (c *Connector) Run(ctx context.Context) error {
	backoff := NewBackoff(c.cfg.ReconnectMin, c.cfg.ReconnectMax)

	for {
		err := c.Connect(ctx)
		if err == nil {
			backoff.Reset()
			err = c.watch(ctx)
		}

		c.mu.Lock()
		c.dropLocked()
		c.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}

		delay := backoff.Next()
		c.metrics.Inc(observability.CounterMailboxReconnects)
		c.logger.Warn("mailbox session lost", zap.Error(err), zap.Duration("retry_in", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Connector) watch(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil {
		c.mu.Unlock()
		return &ConnectionError{Op: "watch", Err: ErrNotConnected}
	}
	closed := c.client.Closed()
	c.mu.Unlock()

	if c.cfg.Mode == config.MailboxModePoll {
		return c.poll(ctx, closed)
	}

	// imapclient restarts a long running IDLE on its own.
	for {
		if err := c.startIdle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return &ConnectionError{Op: "idle", Err: errors.New("connection closed")}
		case <-c.rearm:
		}
	}
}

// startIdle enters IDLE unless it is already running. The server must
// acknowledge within the command timeout or the session is dropped.
func (c *Connector) startIdle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return &ConnectionError{Op: "idle", Err: ErrNotConnected}
	}
	if c.idle != nil {
		return nil
	}
	client := c.client
	var idle *imapclient.IdleCommand
	err := c.await(ctx, client, func() error {
		var idleErr error
		idle, idleErr = client.Idle()
		return idleErr
	})
	if err != nil {
		c.dropLocked()
		return &ConnectionError{Op: "idle", Err: err}
	}
	c.idle = idle
	return nil
}

func (c *Connector) poll(ctx context.Context, closed <-chan struct{}) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closed:
			return &ConnectionError{Op: "poll", Err: errors.New("connection closed")}
		case <-ticker.C:
			c.notify()
		}
	}
}

// Close logs out and releases the session.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	client := c.client
	_ = c.stopIdleLocked(context.Background())
	err := c.await(context.Background(), client, func() error {
		return client.Logout().Wait()
	})
	c.dropLocked()
	return err
}
