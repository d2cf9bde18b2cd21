// Package extractor2 implements the detail extractor: it buffers detail
// extraction commands and fetches them in batches, so the source sees bursts
// of bounded, rate-limited traffic instead of one request per message.
//
// A batch is flushed when the buffer reaches its size threshold, when the
// flush timer fires, or when the stage drains on shutdown. The drain path
// guarantees that every buffered command is attempted before the worker
// exits.
package extractor2

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/crawler"
	"github.com/jerling2/scrawler/internal/gateway"
	"github.com/jerling2/scrawler/internal/telemetry"
)

const (
	// defaultBufSize is the batch threshold.
	defaultBufSize = 100
	// defaultBufTimeout bounds how long a partial batch may sit idle.
	defaultBufTimeout = 30 * time.Second
)

// Publisher is the sending half of the message gateway.
type Publisher interface {
	Send(c codec.Codec, topic string, msg any, key []byte, cb gateway.DeliveryCallback) error
}

// PostingUpdater records per-URL fetch outcomes.
type PostingUpdater interface {
	SetE2Success(ctx context.Context, url string, success bool) error
}

// Config tunes the batching behavior. Zero values use the defaults.
type Config struct {
	BufSize    int
	BufTimeout time.Duration
}

// Stage is the detail extractor worker.
type Stage struct {
	pub      Publisher
	postings PostingUpdater
	fetcher  crawler.Fetcher
	session  crawler.Sessioner
	metrics  *telemetry.Metrics
	log      *zap.Logger

	bufSize int
	timeout time.Duration
	now     func() time.Time

	mu  sync.Mutex
	buf []*codec.Extractor2Command

	flushCh  chan struct{}
	stopCh   chan struct{}
	closedCh chan struct{}
	stopOnce sync.Once
}

// New constructs the stage and starts its flush goroutine.
func New(cfg Config, pub Publisher, postings PostingUpdater, fetcher crawler.Fetcher, session crawler.Sessioner, metrics *telemetry.Metrics, log *zap.Logger) *Stage {
	if cfg.BufSize <= 0 {
		cfg.BufSize = defaultBufSize
	}
	if cfg.BufTimeout <= 0 {
		cfg.BufTimeout = defaultBufTimeout
	}
	s := &Stage{
		pub:      pub,
		postings: postings,
		fetcher:  fetcher,
		session:  session,
		metrics:  metrics,
		log:      log,
		bufSize:  cfg.BufSize,
		timeout:  cfg.BufTimeout,
		now:      time.Now,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stage) Name() string { return "extractor2" }

// Listeners subscribes the stage to the detail command topic.
func (s *Stage) Listeners() []gateway.Listener {
	return []gateway.Listener{{
		Topics: []string{codec.TopicExtractStage2},
		Codec:  codec.Extractor2Codec{},
		Notify: s.handle,
	}}
}

// handle buffers one command. Reaching the size threshold nudges the flush
// goroutine; the channel has capacity one, so an already-pending nudge is
// enough.
func (s *Stage) handle(msg any) error {
	cmd, ok := msg.(*codec.Extractor2Command)
	if !ok {
		return fmt.Errorf("extractor2: unexpected message type %T", msg)
	}
	if cmd.Action != codec.ActionStartExtract {
		s.log.Warn("dropping message with unrecognized action",
			zap.String("action", cmd.Action),
			zap.Int("job_id", cmd.JobID),
		)
		if s.metrics != nil {
			s.metrics.DeadLetters.Add(context.Background(), 1)
		}
		return nil
	}

	s.mu.Lock()
	s.buf = append(s.buf, cmd)
	full := len(s.buf) >= s.bufSize
	s.mu.Unlock()

	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Drain stops the flush goroutine and blocks until every buffered command
// has been attempted. Safe to call more than once.
func (s *Stage) Drain() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.closedCh
}

// run is the flush loop. Exactly one goroutine executes it, so batches are
// processed one at a time and the rate limit on the source holds.
func (s *Stage) run() {
	defer close(s.closedCh)
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flush("drain")
			return
		case <-s.flushCh:
			s.flush("size")
		case <-timer.C:
			s.flush("timeout")
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.timeout)
	}
}

// flush swaps out the buffer and fetches the batch.
func (s *Stage) flush(reason string) {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	s.log.Info("flushing detail batch",
		zap.Int("size", len(batch)),
		zap.String("reason", reason),
	)
	s.extract(batch)
}

// extract fetches every URL in the batch and records each outcome: a fetched
// page goes downstream to T2 and the posting is marked fetched; a failed
// page marks the posting unfetched so a later seeding pass can retry it.
func (s *Stage) extract(batch []*codec.Extractor2Command) {
	ctx := context.Background()
	if err := s.session.EnsureSession(ctx); err != nil {
		// Fetches will fail and be recorded individually.
		s.log.Error("session unavailable for detail batch", zap.Error(err))
	}

	urls := make([]string, 0, len(batch))
	for _, cmd := range batch {
		urls = append(urls, cmd.URL)
	}

	var fetched, failed int
	for res := range s.fetcher.FetchAll(ctx, urls) {
		if res.Err != nil {
			failed++
			s.log.Error("detail page fetch failed", zap.String("url", res.URL), zap.Error(res.Err))
			s.recordOutcome(ctx, res.URL, false)
			continue
		}
		input := &codec.Transformer2Input{
			URL:       res.URL,
			HTML:      res.HTML,
			CreatedAt: s.now().UTC(),
			Action:    codec.ActionStartTransform,
		}
		if err := s.pub.Send(codec.Transformer2Codec{}, codec.TopicRawStage2, input, nil, nil); err != nil {
			failed++
			s.log.Error("detail page publish failed", zap.String("url", res.URL), zap.Error(err))
			s.recordOutcome(ctx, res.URL, false)
			continue
		}
		fetched++
		s.recordOutcome(ctx, res.URL, true)
	}
	s.log.Info("detail batch finished", zap.Int("fetched", fetched), zap.Int("failed", failed))
}

func (s *Stage) recordOutcome(ctx context.Context, url string, success bool) {
	if err := s.postings.SetE2Success(ctx, url, success); err != nil {
		s.log.Error("failed to record fetch outcome",
			zap.String("url", url),
			zap.Bool("success", success),
			zap.Error(err),
		)
	}
}
