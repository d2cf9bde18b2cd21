// Package gateway is the per-process facade over the message log. A Gateway
// owns zero-or-one producer and zero-or-one consumer; stage workers interact
// with the log exclusively through it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/telemetry"
)

// closeFlushTimeout bounds the producer drain on Close. Anything still
// buffered afterwards is reported lost.
const closeFlushTimeout = 10 * time.Second

// reportBacklog bounds the delivery reports queued between Emit calls.
const reportBacklog = 1024

var (
	// ErrNoProducer is returned by Send when the gateway was built without
	// a producer.
	ErrNoProducer = errors.New("gateway: producer is not configured")
	// ErrNoConsumer is returned by Poll before SetConsumers established a
	// subscription.
	ErrNoConsumer = errors.New("gateway: consumer is not configured")
	// ErrClosed is returned by Poll after Close.
	ErrClosed = errors.New("gateway: closed")
)

// DeliveryReport describes the fate of one produced record.
type DeliveryReport struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

// DeliveryCallback is invoked once per record from Emit.
type DeliveryCallback func(DeliveryReport)

// Listener registers a codec and a notify function for a set of topics.
type Listener struct {
	Topics []string
	Codec  codec.Codec
	Notify func(msg any) error
}

type route struct {
	codec  codec.Codec
	notify func(msg any) error
}

type report struct {
	cb DeliveryCallback
	r  DeliveryReport
}

// Config selects the broker endpoints and which halves of the gateway exist.
type Config struct {
	BootstrapServers []string
	GroupID          string
	ClientID         string
	AutoOffsetReset  string // "earliest" or "latest"
	WithProducer     bool
}

// Gateway mediates all sends and receives for one worker process. Poll and
// Emit are called from the worker's main loop only; Close may additionally be
// called from the signal path, so the closed state is mutex-guarded.
type Gateway struct {
	cfg     Config
	log     *zap.Logger
	metrics *telemetry.Metrics

	producer *kgo.Client
	consumer *kgo.Client
	routes   map[string][]route
	pending  []*kgo.Record
	reports  chan report

	mu     sync.Mutex
	closed bool
}

// New builds a Gateway. The consumer half is created lazily by SetConsumers.
func New(cfg Config, metrics *telemetry.Metrics, log *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		routes:  map[string][]route{},
		reports: make(chan report, reportBacklog),
	}
	if cfg.WithProducer {
		opts := []kgo.Opt{kgo.SeedBrokers(cfg.BootstrapServers...)}
		if cfg.ClientID != "" {
			opts = append(opts, kgo.ClientID(cfg.ClientID))
		}
		client, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("gateway: producer client: %w", err)
		}
		g.producer = client
	}
	return g, nil
}

// SetConsumers replaces the subscription set. The union of all listener
// topics is subscribed at the broker; the routing table maps each topic to
// the ordered (codec, notify) pairs registered for it.
func (g *Gateway) SetConsumers(listeners []Listener) error {
	routes, union := buildRoutes(listeners)

	if g.consumer != nil {
		g.consumer.Close()
		g.consumer = nil
	}
	g.routes = routes
	g.pending = nil
	if len(union) == 0 {
		return nil
	}

	offset := kgo.NewOffset().AtStart()
	if g.cfg.AutoOffsetReset == "latest" {
		offset = kgo.NewOffset().AtEnd()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(g.cfg.BootstrapServers...),
		kgo.ConsumerGroup(g.cfg.GroupID),
		kgo.ConsumeTopics(union...),
		kgo.ConsumeResetOffset(offset),
	}
	if g.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(g.cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("gateway: consumer client: %w", err)
	}
	g.consumer = client

	g.log.Info("subscription set replaced",
		zap.Strings("topics", union),
		zap.String("group", g.cfg.GroupID),
	)
	return nil
}

// buildRoutes flattens listeners into a routing table, preserving
// registration order per topic, and returns the topic union in first-seen
// order.
func buildRoutes(listeners []Listener) (map[string][]route, []string) {
	routes := map[string][]route{}
	var union []string
	for _, l := range listeners {
		for _, topic := range l.Topics {
			if _, seen := routes[topic]; !seen {
				union = append(union, topic)
			}
			routes[topic] = append(routes[topic], route{codec: l.Codec, notify: l.Notify})
		}
	}
	return routes, union
}

// Poll waits up to timeout for one record and dispatches it to the topic's
// listeners in registration order. A timeout is silent; a broker error is
// fatal and returned; listener errors propagate.
func (g *Gateway) Poll(ctx context.Context, timeout time.Duration) error {
	if g.IsClosed() {
		return ErrClosed
	}
	if g.consumer == nil {
		return ErrNoConsumer
	}
	if len(g.pending) == 0 {
		pollCtx, cancel := context.WithTimeout(ctx, timeout)
		fetches := g.consumer.PollFetches(pollCtx)
		cancel()
		if err := firstFatal(fetches); err != nil {
			return fmt.Errorf("gateway: poll: %w", err)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			g.pending = append(g.pending, r)
		})
	}
	if len(g.pending) == 0 {
		return nil
	}
	rec := g.pending[0]
	g.pending = g.pending[1:]
	if g.metrics != nil {
		g.metrics.RecordsConsumed.Add(ctx, 1)
	}
	return g.dispatch(ctx, rec.Topic, rec.Value)
}

// dispatch fans one record value out to every listener registered for its
// topic. Malformed values are protocol errors: counted, logged, dropped.
func (g *Gateway) dispatch(ctx context.Context, topic string, value []byte) error {
	listeners, ok := g.routes[topic]
	if !ok {
		g.log.Warn("record on topic with no listener", zap.String("topic", topic))
		return nil
	}
	for _, l := range listeners {
		msg, err := l.codec.Deserialize(value)
		if err != nil {
			if g.metrics != nil {
				g.metrics.DeadLetters.Add(ctx, 1)
			}
			g.log.Warn("dropping malformed record",
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		if err := l.notify(msg); err != nil {
			return fmt.Errorf("gateway: listener on %s: %w", topic, err)
		}
	}
	return nil
}

// firstFatal extracts a broker error from a fetch result, ignoring the
// context errors that signal an ordinary poll timeout.
func firstFatal(fetches kgo.Fetches) error {
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		return fe.Err
	}
	return nil
}

// Send serializes payload with the codec and enqueues it for asynchronous
// transmission. The callback, when set, is invoked from Emit once the fate
// of the record is known.
func (g *Gateway) Send(c codec.Codec, topic string, msg any, key []byte, cb DeliveryCallback) error {
	if g.producer == nil {
		return ErrNoProducer
	}
	value, err := c.Serialize(msg)
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	g.producer.Produce(context.Background(), rec, func(r *kgo.Record, err error) {
		rep := report{cb: cb, r: DeliveryReport{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset, Err: err}}
		select {
		case g.reports <- rep:
		default:
			// Backlog full: deliver inline rather than lose the report.
			g.deliver(rep)
		}
	})
	if g.metrics != nil {
		g.metrics.RecordsPublished.Add(context.Background(), 1)
	}
	return nil
}

// Emit services producer callbacks: it drains queued delivery reports
// without blocking.
func (g *Gateway) Emit() {
	for {
		select {
		case rep := <-g.reports:
			g.deliver(rep)
		default:
			return
		}
	}
}

func (g *Gateway) deliver(rep report) {
	if rep.cb != nil {
		rep.cb(rep.r)
		return
	}
	if rep.r.Err != nil {
		g.log.Error("record delivery failed",
			zap.String("topic", rep.r.Topic),
			zap.Error(rep.r.Err),
		)
	}
}

// Close flushes the producer with a bounded wait, reports anything still
// undelivered, and closes both halves. Close is idempotent.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	if g.producer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
		if err := g.producer.Flush(ctx); err != nil {
			g.log.Warn("producer flush incomplete; undelivered records lost",
				zap.Int64("buffered", g.producer.BufferedProduceRecords()),
				zap.Error(err),
			)
		}
		cancel()
		g.producer.Close()
	}
	if g.consumer != nil {
		g.consumer.Close()
	}
	g.Emit()
	g.log.Info("gateway closed")
}

// IsClosed reports whether Close ran. Poll must not be called afterwards.
func (g *Gateway) IsClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
