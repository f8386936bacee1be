// Package chatstream provides a high-level façade over the aggregator and its
// supporting services (message store, metrics, logging) for building
// real-time multi-agent chat views. Most applications interact with this
// package by:
//  1. Creating a ChatStream via New() or NewFromConfig()
//  2. Subscribing to the conversations they render
//  3. Feeding it events, either one at a time (Handle) or from one or more
//     sources (Stream)
//
// All defaults are safe for local development and testing; production
// deployments typically configure a durable store and a structured logger.
package chatstream

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chatstream/aggregator"
	"github.com/hupe1980/chatstream/config"
	"github.com/hupe1980/chatstream/core"
	"github.com/hupe1980/chatstream/flush"
	"github.com/hupe1980/chatstream/logging"
	"github.com/hupe1980/chatstream/metrics"
	"github.com/hupe1980/chatstream/source"
	"github.com/hupe1980/chatstream/store/memory"
	"github.com/hupe1980/chatstream/store/sqlite"
)

// Options configures the ChatStream instance.
type Options struct {
	// FrameRate of the flush clock in Hz. Ignored when Clock is set.
	FrameRate int

	// Clock overrides the default ticker clock, mostly for tests.
	Clock flush.FrameClock

	// EventBuffer sets the capacity of the channel between sources and the
	// aggregator in Stream.
	EventBuffer int

	// Store (defaults to an in-memory implementation if not provided)
	Store core.MessageStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// ChatStream is the high-level façade over an Aggregator.
type ChatStream struct {
	opts     Options
	agg      *aggregator.Aggregator
	gatherer prometheus.Gatherer
	closers  []io.Closer
}

// New creates a new ChatStream with optional overrides. An unset store is
// initialized with an in-memory implementation. The frame clock starts
// immediately so events passed to Handle flush at the frame rate; call Close
// to stop it.
func New(optFns ...func(o *Options)) *ChatStream {
	opts := Options{
		FrameRate:   flush.DefaultFrameRate,
		EventBuffer: 256,
		Store:       memory.NewInMemoryStore(),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	agg := aggregator.New(func(o *aggregator.Options) {
		o.Clock = opts.Clock
		o.FrameRate = opts.FrameRate
		o.Store = opts.Store
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})
	// the clock runs for the lifetime of the ChatStream; Close stops it
	agg.Start(context.Background())

	return &ChatStream{opts: opts, agg: agg}
}

// NewFromConfig builds a ChatStream from cfg. The configured store is opened
// and every conversation it lists is loaded into history before returning.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*ChatStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		logger   logging.Logger
		store    core.MessageStore
		closers  []io.Closer
		gatherer prometheus.Gatherer
		m        *metrics.Metrics
	)

	switch cfg.Logging.Backend {
	case config.LogBackendZap:
		z, err := logging.NewZapLogger(cfg.LogLevel(), cfg.Logging.Format, cfg.Logging.AddSource)
		if err != nil {
			return nil, fmt.Errorf("build zap logger: %w", err)
		}
		logger = z
		// syncing stdout fails on some platforms; the entries are written anyway
		closers = append(closers, closerFunc(func() error { _ = z.Sync(); return nil }))
	default:
		logger = logging.NewSlogLogger(cfg.LogLevel(), cfg.Logging.Format, cfg.Logging.AddSource)
	}

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		store = s
		closers = append(closers, s)
	default:
		store = memory.NewInMemoryStore()
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg, cfg.Metrics.Namespace)
		gatherer = reg
	}

	cs := New(func(o *Options) {
		o.FrameRate = cfg.FrameRate
		o.EventBuffer = cfg.EventBuffer
		o.Store = store
		o.Logger = logger
		o.Metrics = m
	})
	cs.gatherer = gatherer
	cs.closers = closers

	if lister, ok := store.(core.ConversationLister); ok {
		ids, err := lister.Conversations(ctx)
		if err != nil {
			_ = cs.Close()
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, id := range ids {
			if _, err := cs.agg.LoadHistory(ctx, id); err != nil {
				_ = cs.Close()
				return nil, err
			}
		}
		logger.Info("history restored", "conversations", len(ids), "driver", cfg.Store.Driver)
	}

	return cs, nil
}

// Aggregator exposes the underlying aggregator.
func (c *ChatStream) Aggregator() *aggregator.Aggregator { return c.agg }

// Gatherer returns the metrics registry built by NewFromConfig, or nil when
// metrics are disabled.
func (c *ChatStream) Gatherer() prometheus.Gatherer { return c.gatherer }

// Handle routes a single event.
func (c *ChatStream) Handle(ctx context.Context, ev core.Event) error {
	return c.agg.Handle(ctx, ev)
}

// Stream pumps events from all sources into the aggregator until every source
// is exhausted, one fails or ctx is done. Frames keep firing while it runs.
func (c *ChatStream) Stream(ctx context.Context, sources ...source.Source) error {
	events := make(chan core.Event, c.opts.EventBuffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return source.Pump(gctx, events, sources...) })
	g.Go(func() error {
		// Pump closes events on return, so this loop always terminates
		for ev := range events {
			_ = c.agg.Handle(gctx, ev)
		}
		return nil
	})

	return g.Wait()
}

// Subscribe registers listener for one conversation.
func (c *ChatStream) Subscribe(conversationID string, listener aggregator.Listener) (unsubscribe func()) {
	return c.agg.Subscribe(conversationID, listener)
}

// ActiveLanes returns the in-flight lanes of a conversation.
func (c *ChatStream) ActiveLanes(conversationID string) []core.StreamingLane {
	return c.agg.ActiveLanes(conversationID)
}

// History returns the promoted messages of a conversation.
func (c *ChatStream) History(conversationID string) []core.Message {
	return c.agg.History(conversationID)
}

// Conversations returns every known conversation.
func (c *ChatStream) Conversations() []core.Conversation {
	return c.agg.Conversations()
}

// PostMessage appends a user or system message.
func (c *ChatStream) PostMessage(ctx context.Context, msg core.Message) (core.Message, error) {
	return c.agg.PostMessage(ctx, msg)
}

// Close stops the frame clock and releases the store opened by
// NewFromConfig.
func (c *ChatStream) Close() error {
	c.agg.Stop()

	var firstErr error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
