// Package transformer2 implements the detail transformer: it cleans raw
// detail pages into canonical load records, persists them to the enriched
// store, and publishes them for downstream loading.
package transformer2

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/gateway"
	"github.com/jerling2/scrawler/internal/repository"
	"github.com/jerling2/scrawler/internal/telemetry"
)

// Publisher is the sending half of the message gateway.
type Publisher interface {
	Send(c codec.Codec, topic string, msg any, key []byte, cb gateway.DeliveryCallback) error
}

// EnrichedStore persists validated load records.
type EnrichedStore interface {
	Upsert(ctx context.Context, rec *codec.Loader1Record) error
}

// Stage is the detail transformer worker.
type Stage struct {
	pub      Publisher
	enriched EnrichedStore
	metrics  *telemetry.Metrics
	log      *zap.Logger
}

// New constructs the stage.
func New(pub Publisher, enriched EnrichedStore, metrics *telemetry.Metrics, log *zap.Logger) *Stage {
	return &Stage{pub: pub, enriched: enriched, metrics: metrics, log: log}
}

func (s *Stage) Name() string { return "transformer2" }

// Drain is a no-op: T2 holds no buffered work between messages.
func (s *Stage) Drain() {}

// Listeners subscribes the stage to the raw detail topic.
func (s *Stage) Listeners() []gateway.Listener {
	return []gateway.Listener{{
		Topics: []string{codec.TopicRawStage2},
		Codec:  codec.Transformer2Codec{},
		Notify: s.handle,
	}}
}

func (s *Stage) handle(msg any) error {
	in, ok := msg.(*codec.Transformer2Input)
	if !ok {
		return fmt.Errorf("transformer2: unexpected message type %T", msg)
	}
	ctx := context.Background()
	if in.Action != codec.ActionStartTransform {
		s.log.Warn("dropping message with unrecognized action",
			zap.String("action", in.Action),
			zap.String("url", in.URL),
		)
		if s.metrics != nil {
			s.metrics.DeadLetters.Add(ctx, 1)
		}
		return nil
	}

	rec, err := s.transform(in)
	if err != nil {
		// Cleaning failures are page problems, not worker problems.
		s.log.Warn("dropping uncleanable detail page",
			zap.String("url", in.URL),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.DeadLetters.Add(ctx, 1)
		}
		return nil
	}

	if err := s.enriched.Upsert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrInvalidRecord) {
			s.log.Warn("dropping invalid record", zap.String("url", in.URL), zap.Error(err))
			if s.metrics != nil {
				s.metrics.DeadLetters.Add(ctx, 1)
			}
			return nil
		}
		return fmt.Errorf("transformer2: %w", err)
	}

	if err := s.pub.Send(codec.Loader1Codec{}, codec.TopicLoad, rec, nil, nil); err != nil {
		return fmt.Errorf("transformer2: publish %s: %w", in.URL, err)
	}
	s.log.Info("detail page transformed", zap.String("url", in.URL))
	return nil
}

func (s *Stage) transform(in *codec.Transformer2Input) (*codec.Loader1Record, error) {
	raw, err := ParseDetail(in.HTML)
	if err != nil {
		return nil, err
	}
	return BuildRecord(raw, in.URL, in.CreatedAt)
}
