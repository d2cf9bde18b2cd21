// Package extractor1 implements the listing extractor: it consumes page
// range commands, fetches the matching job search pages from the source,
// archives every page in the raw lake, and forwards the raw HTML downstream
// for transformation.
package extractor1

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/crawler"
	"github.com/jerling2/scrawler/internal/gateway"
	"github.com/jerling2/scrawler/internal/telemetry"
)

// searchURLFormat builds one job search page URL from (page, per_page).
const searchURLFormat = "https://app.joinhandshake.com/job-search/?page=%d&per_page=%d"

// maxPerPage is the largest page size the source accepts.
const maxPerPage = 50

// Publisher is the sending half of the message gateway.
type Publisher interface {
	Send(c codec.Codec, topic string, msg any, key []byte, cb gateway.DeliveryCallback) error
}

// RawStore archives fetched pages.
type RawStore interface {
	Insert(ctx context.Context, url, html string) (uuid.UUID, error)
}

// Stage is the listing extractor worker.
type Stage struct {
	pub     Publisher
	raw     RawStore
	fetcher crawler.Fetcher
	session crawler.Sessioner
	metrics *telemetry.Metrics
	log     *zap.Logger
}

// New constructs the stage.
func New(pub Publisher, raw RawStore, fetcher crawler.Fetcher, session crawler.Sessioner, metrics *telemetry.Metrics, log *zap.Logger) *Stage {
	return &Stage{
		pub:     pub,
		raw:     raw,
		fetcher: fetcher,
		session: session,
		metrics: metrics,
		log:     log,
	}
}

func (s *Stage) Name() string { return "extractor1" }

// Drain is a no-op: E1 holds no buffered work between messages.
func (s *Stage) Drain() {}

// Listeners subscribes the stage to its command topic.
func (s *Stage) Listeners() []gateway.Listener {
	return []gateway.Listener{{
		Topics: []string{codec.TopicExtractStage1},
		Codec:  codec.Extractor1Codec{},
		Notify: s.handle,
	}}
}

func (s *Stage) handle(msg any) error {
	cmd, ok := msg.(*codec.Extractor1Command)
	if !ok {
		return fmt.Errorf("extractor1: unexpected message type %T", msg)
	}
	ctx := context.Background()
	if err := validate(cmd); err != nil {
		// A malformed command is a poison pill: count it and move on so
		// the partition does not wedge.
		s.log.Warn("dropping invalid extract command",
			zap.Int("start_page", cmd.StartPage),
			zap.Int("end_page", cmd.EndPage),
			zap.Int("per_page", cmd.PerPage),
			zap.String("action", cmd.Action),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.DeadLetters.Add(ctx, 1)
		}
		return nil
	}

	if err := s.session.EnsureSession(ctx); err != nil {
		// Without a session every fetch would fail; surface this as a
		// transient error so the worker stops instead of burning the range.
		return fmt.Errorf("extractor1: %w", err)
	}

	urls := make([]string, 0, cmd.EndPage-cmd.StartPage+1)
	for page := cmd.StartPage; page <= cmd.EndPage; page++ {
		urls = append(urls, fmt.Sprintf(searchURLFormat, page, cmd.PerPage))
	}
	s.log.Info("extracting listing pages",
		zap.Int("start_page", cmd.StartPage),
		zap.Int("end_page", cmd.EndPage),
		zap.Int("per_page", cmd.PerPage),
	)

	var fetched, failed int
	for res := range s.fetcher.FetchAll(ctx, urls) {
		if res.Err != nil {
			// One bad page must not sink the rest of the range.
			failed++
			s.log.Error("listing page fetch failed", zap.String("url", res.URL), zap.Error(res.Err))
			continue
		}
		if err := s.archiveAndForward(ctx, res.URL, res.HTML); err != nil {
			failed++
			s.log.Error("listing page processing failed", zap.String("url", res.URL), zap.Error(err))
			continue
		}
		fetched++
	}
	s.log.Info("extract command finished", zap.Int("pages", fetched), zap.Int("failed", failed))
	return nil
}

// archiveAndForward lands the page in the raw lake first, then hands the
// HTML to T1. The lake write comes first so a publish failure never loses
// the page.
func (s *Stage) archiveAndForward(ctx context.Context, url, html string) error {
	id, err := s.raw.Insert(ctx, url, html)
	if err != nil {
		return fmt.Errorf("extractor1: archive %s: %w", url, err)
	}
	input := &codec.Transformer1Input{
		HTML:   html,
		Action: codec.ActionStartTransform,
	}
	if err := s.pub.Send(codec.Transformer1Codec{}, codec.TopicRawStage1, input, nil, nil); err != nil {
		return fmt.Errorf("extractor1: publish %s: %w", url, err)
	}
	s.log.Debug("listing page archived",
		zap.String("url", url),
		zap.String("raw_id", id.String()),
		zap.Time("at", time.Now().UTC()),
	)
	return nil
}

// validate enforces the command bounds: pages are 1-based, the range must
// not be inverted, and per_page is capped by the source.
func validate(cmd *codec.Extractor1Command) error {
	if cmd.Action != codec.ActionStartExtract {
		return fmt.Errorf("unrecognized action %q", cmd.Action)
	}
	if cmd.StartPage < 1 {
		return fmt.Errorf("start_page %d out of range", cmd.StartPage)
	}
	if cmd.EndPage < cmd.StartPage {
		return fmt.Errorf("end_page %d precedes start_page %d", cmd.EndPage, cmd.StartPage)
	}
	if cmd.PerPage < 1 || cmd.PerPage > maxPerPage {
		return fmt.Errorf("per_page %d out of range [1,%d]", cmd.PerPage, maxPerPage)
	}
	return nil
}
