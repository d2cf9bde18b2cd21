package transformer2

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jerling2/scrawler/internal/codec"
	"github.com/jerling2/scrawler/internal/gateway"
	"github.com/jerling2/scrawler/internal/repository"
)

const detailPage = `<html><body>
<div>
  <a href="/jobs/123?searchId=abc"><h1>Software Engineer</h1></a>
  <a href="/employers/acme">Acme Corp</a>
  <div>Internet &amp; Software</div>
  <div>Posted 6 days ago` + "∙" + `Apply by January 15, 2026 at 11:59 PM</div>
</div>
<div><svg viewBox="0 0 16 16"><path d="M2.5 8C2.22386 8 2 7.77614 2 7.5"/></svg><span>$80K` + "–" + `$100K/yr</span></div>
<div><svg viewBox="0 0 24 24"><path d="M12 2C15.866 2 19 5.134 19 9"/></svg><span>Onsite` + "∙" + `Based in Eugene, OR</span></div>
<div><svg viewBox="0 0 24 24"><path d="M11.5527 2.72314C11.83 2.58 12.17 2.58 12.447 2.723"/></svg><span>Full-time` + "∙" + `Job</span></div>
<h3>At a glance</h3>
<div><p>Build <strong>speedy</strong> integrations.</p></div>
<button aria-label="Apply to Acme Corp">Apply</button>
<input placeholder="Search your resumes"/>
<input placeholder="Search your cover letters"/>
</body></html>`

type fakePublisher struct {
	sent    []*codec.Loader1Record
	topics  []string
	sendErr error
}

func (p *fakePublisher) Send(_ codec.Codec, topic string, msg any, _ []byte, _ gateway.DeliveryCallback) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, msg.(*codec.Loader1Record))
	p.topics = append(p.topics, topic)
	return nil
}

type fakeEnriched struct {
	records   []*codec.Loader1Record
	upsertErr error
}

func (f *fakeEnriched) Upsert(_ context.Context, rec *codec.Loader1Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records = append(f.records, rec)
	return nil
}

func newStage(t *testing.T, pub *fakePublisher, store *fakeEnriched) *Stage {
	t.Helper()
	return New(pub, store, nil, zaptest.NewLogger(t))
}

func TestParseDetail(t *testing.T) {
	raw, err := ParseDetail(detailPage)
	require.NoError(t, err)

	require.NotNil(t, raw.Position)
	assert.Equal(t, "Software Engineer", *raw.Position)
	require.NotNil(t, raw.Company)
	assert.Equal(t, "Acme Corp", *raw.Company)
	require.NotNil(t, raw.Industry)
	assert.Equal(t, "Internet & Software", *raw.Industry)
	require.NotNil(t, raw.Times)
	assert.Contains(t, *raw.Times, "Posted 6 days ago")
	require.NotNil(t, raw.Money)
	assert.Contains(t, *raw.Money, "$80K")
	require.NotNil(t, raw.Location)
	assert.Contains(t, *raw.Location, "Eugene")
	require.NotNil(t, raw.Job)
	assert.Contains(t, *raw.Job, "Full-time")
	require.NotNil(t, raw.About)
	assert.Contains(t, *raw.About, "<strong>speedy</strong>")
	require.NotNil(t, raw.Apply)
	assert.Equal(t, "Apply", *raw.Apply)
	assert.Equal(t, []string{"Search your resumes", "Search your cover letters"}, raw.Documents)
}

func TestParseDetailMissingFactsAreNil(t *testing.T) {
	raw, err := ParseDetail("<html><body><p>nothing here</p></body></html>")
	require.NoError(t, err)
	assert.Nil(t, raw.Position)
	assert.Nil(t, raw.Money)
	assert.Nil(t, raw.About)
	assert.Nil(t, raw.Apply)
	assert.Empty(t, raw.Documents)
}

func TestHandleTransformsAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeEnriched{}
	s := newStage(t, pub, store)

	createdAt := time.Date(2026, time.January, 13, 12, 0, 0, 0, time.UTC)
	err := s.handle(&codec.Transformer2Input{
		URL:       "https://app.joinhandshake.com/jobs/123",
		HTML:      detailPage,
		CreatedAt: createdAt,
		Action:    codec.ActionStartTransform,
	})
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "https://app.joinhandshake.com/jobs/123", rec.URL)
	assert.Equal(t, "software engineer", *rec.Position)
	assert.Equal(t, "acme corp", *rec.Company)
	assert.Equal(t, "internet & software", *rec.Industry)
	assert.Equal(t, &[2]int{80000, 100000}, rec.Wage)
	assert.Equal(t, "eugene, or", *rec.Location)
	assert.Equal(t, []string{"onsite"}, rec.LocationType)
	assert.Equal(t, "full-time", *rec.EmploymentType)
	assert.Equal(t, "job", *rec.JobType)
	assert.Equal(t, "internal", *rec.ApplyType)
	assert.Equal(t, []string{"resume", "cover letter"}, rec.Documents)
	require.NotNil(t, rec.PostedAt)
	assert.Equal(t, time.Date(2026, time.January, 7, 12, 0, 0, 0, time.UTC), *rec.PostedAt)
	require.NotNil(t, rec.ApplyBy)
	assert.Equal(t, time.Date(2026, time.January, 15, 23, 59, 0, 0, time.Local), *rec.ApplyBy)
	require.NotNil(t, rec.About)
	assert.Contains(t, *rec.About, "**speedy**")

	// The stored record is what goes downstream.
	require.Len(t, pub.sent, 1)
	assert.Same(t, rec, pub.sent[0])
	assert.Equal(t, []string{codec.TopicLoad}, pub.topics)
}

func TestHandleDropsUncleanablePage(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeEnriched{}
	s := newStage(t, pub, store)

	// A wage row with an unclassifiable unit poisons the record.
	page := `<html><body>
<div><svg><path d="M2.5 8C2.22386 8 2 7.77614 2 7.5"/></svg><span>$5 per fortnight</span></div>
</body></html>`
	err := s.handle(&codec.Transformer2Input{
		URL:       "https://app.joinhandshake.com/jobs/9",
		HTML:      page,
		CreatedAt: time.Now(),
		Action:    codec.ActionStartTransform,
	})
	require.NoError(t, err)
	assert.Empty(t, store.records)
	assert.Empty(t, pub.sent)
}

func TestHandleDropsUnrecognizedAction(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeEnriched{}
	s := newStage(t, pub, store)

	require.NoError(t, s.handle(&codec.Transformer2Input{
		URL: "https://app.joinhandshake.com/jobs/9", HTML: detailPage, Action: "NOPE",
	}))
	assert.Empty(t, store.records)
	assert.Empty(t, pub.sent)
}

func TestHandleInvalidRecordIsDropped(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeEnriched{upsertErr: repository.ErrInvalidRecord}
	s := newStage(t, pub, store)

	err := s.handle(&codec.Transformer2Input{
		URL: "https://app.joinhandshake.com/jobs/9", HTML: detailPage,
		CreatedAt: time.Now(), Action: codec.ActionStartTransform,
	})
	require.NoError(t, err)
	assert.Empty(t, pub.sent)
}

func TestHandleStoreFailureIsTransient(t *testing.T) {
	store := &fakeEnriched{upsertErr: errors.New("db down")}
	s := newStage(t, &fakePublisher{}, store)

	err := s.handle(&codec.Transformer2Input{
		URL: "https://app.joinhandshake.com/jobs/9", HTML: detailPage,
		CreatedAt: time.Now(), Action: codec.ActionStartTransform,
	})
	require.Error(t, err)
}

func TestListenersSubscribeRawDetailTopic(t *testing.T) {
	s := newStage(t, &fakePublisher{}, &fakeEnriched{})
	ls := s.Listeners()
	require.Len(t, ls, 1)
	assert.Equal(t, []string{codec.TopicRawStage2}, ls[0].Topics)
}
