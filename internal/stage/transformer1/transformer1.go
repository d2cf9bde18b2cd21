// Package transformer1 implements the listing transformer: it parses raw
// job search pages into (job_id, role, url) triples, upserts them into the
// postings table, and dispatches a detail extraction command for every
// posting that has not been seen before.
package transformer1

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/gateway"
	"github.com/jerling2/scrawler/internal/repository"
	"github.com/jerling2/scrawler/internal/telemetry"
)

// detailURLFormat builds the canonical detail page URL for a job id.
const detailURLFormat = "https://app.joinhandshake.com/jobs/%d"

// jobIDPattern pulls the job id out of a listing card's search link.
var jobIDPattern = regexp.MustCompile(`/job-search/(\d+)`)

// Publisher is the sending half of the message gateway.
type Publisher interface {
	Send(c codec.Codec, topic string, msg any, key []byte, cb gateway.DeliveryCallback) error
}

// PostingStore records postings and reports which ones are new.
type PostingStore interface {
	UpsertMany(ctx context.Context, postings []repository.Posting) ([]int, error)
}

// Stage is the listing transformer worker.
type Stage struct {
	pub      Publisher
	postings PostingStore
	metrics  *telemetry.Metrics
	log      *zap.Logger
}

// New constructs the stage.
func New(pub Publisher, postings PostingStore, metrics *telemetry.Metrics, log *zap.Logger) *Stage {
	return &Stage{pub: pub, postings: postings, metrics: metrics, log: log}
}

func (s *Stage) Name() string { return "transformer1" }

// Drain is a no-op: T1 holds no buffered work between messages.
func (s *Stage) Drain() {}

// Listeners subscribes the stage to the raw listing topic.
func (s *Stage) Listeners() []gateway.Listener {
	return []gateway.Listener{{
		Topics: []string{codec.TopicRawStage1},
		Codec:  codec.Transformer1Codec{},
		Notify: s.handle,
	}}
}

func (s *Stage) handle(msg any) error {
	in, ok := msg.(*codec.Transformer1Input)
	if !ok {
		return fmt.Errorf("transformer1: unexpected message type %T", msg)
	}
	ctx := context.Background()
	if in.Action != codec.ActionStartTransform {
		s.log.Warn("dropping message with unrecognized action", zap.String("action", in.Action))
		if s.metrics != nil {
			s.metrics.DeadLetters.Add(ctx, 1)
		}
		return nil
	}

	postings, err := ParseListings(in.HTML)
	if err != nil {
		// Unparseable HTML is a poison pill, not a reason to wedge the
		// partition.
		s.log.Warn("dropping unparseable listing page", zap.Error(err))
		if s.metrics != nil {
			s.metrics.DeadLetters.Add(ctx, 1)
		}
		return nil
	}
	if len(postings) == 0 {
		s.log.Info("listing page carried no postings")
		return nil
	}

	fresh, err := s.postings.UpsertMany(ctx, postings)
	if err != nil {
		return fmt.Errorf("transformer1: %w", err)
	}
	s.log.Info("listing page transformed",
		zap.Int("postings", len(postings)),
		zap.Int("fresh", len(fresh)),
	)

	// Only never-before-seen postings go to E2; re-processing a page must
	// not re-dispatch work.
	for _, i := range fresh {
		p := postings[i]
		cmd := &codec.Extractor2Command{
			JobID:  p.JobID,
			Role:   p.Role,
			URL:    p.URL,
			Action: codec.ActionStartExtract,
		}
		if err := s.pub.Send(codec.Extractor2Codec{}, codec.TopicExtractStage2, cmd, nil, nil); err != nil {
			return fmt.Errorf("transformer1: dispatch job %d: %w", p.JobID, err)
		}
	}
	return nil
}

// ParseListings extracts the posting triples from one job search page. Cards
// are anchor buttons under main whose href carries the job id; anchors that
// do not match the pattern are skipped.
func ParseListings(html string) ([]repository.Posting, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("transformer1: parse html: %w", err)
	}
	var postings []repository.Posting
	doc.Find(`main a[role="button"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		m := jobIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		jobID, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		postings = append(postings, repository.Posting{
			JobID: jobID,
			Role:  roleFromLabel(sel.AttrOr("aria-label", sel.Text())),
			URL:   fmt.Sprintf(detailURLFormat, jobID),
		})
	})
	return postings, nil
}

// roleFromLabel strips the accessibility prefix from a card label, e.g.
// "View Software Engineer" yields "Software Engineer".
func roleFromLabel(label string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(label), "View "))
}
