package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jerling2/scrawler/internal/codec"
)

// jsonEcho is a minimal codec for routing tests: the wire form is the raw
// payload and deserialization fails on a magic byte.
type jsonEcho struct{ topic string }

func (c jsonEcho) Topic() string { return c.topic }
func (c jsonEcho) Serialize(msg any) ([]byte, error) {
	return []byte(msg.(string)), nil
}
func (c jsonEcho) Deserialize(data []byte) (any, error) {
	if len(data) > 0 && data[0] == '!' {
		return nil, errors.New("malformed")
	}
	return string(data), nil
}

func newTestGateway(t *testing.T, listeners []Listener) *Gateway {
	t.Helper()
	g := &Gateway{
		log:     zaptest.NewLogger(t),
		reports: make(chan report, 8),
	}
	g.routes, _ = buildRoutes(listeners)
	return g
}

func TestBuildRoutesUnionAndOrder(t *testing.T) {
	var c codec.Codec = jsonEcho{topic: "a"}
	noop := func(any) error { return nil }
	routes, union := buildRoutes([]Listener{
		{Topics: []string{"a", "b"}, Codec: c, Notify: noop},
		{Topics: []string{"b", "c"}, Codec: c, Notify: noop},
	})
	assert.Equal(t, []string{"a", "b", "c"}, union)
	assert.Len(t, routes["a"], 1)
	assert.Len(t, routes["b"], 2, "a topic may fan out to multiple listeners")
	assert.Len(t, routes["c"], 1)
}

func TestDispatchFanOutInRegistrationOrder(t *testing.T) {
	var order []string
	listeners := []Listener{
		{Topics: []string{"t"}, Codec: jsonEcho{topic: "t"}, Notify: func(m any) error {
			order = append(order, "first:"+m.(string))
			return nil
		}},
		{Topics: []string{"t"}, Codec: jsonEcho{topic: "t"}, Notify: func(m any) error {
			order = append(order, "second:"+m.(string))
			return nil
		}},
	}
	g := newTestGateway(t, listeners)

	require.NoError(t, g.dispatch(context.Background(), "t", []byte("payload")))
	assert.Equal(t, []string{"first:payload", "second:payload"}, order)
}

func TestDispatchDropsMalformedRecords(t *testing.T) {
	notified := 0
	g := newTestGateway(t, []Listener{
		{Topics: []string{"t"}, Codec: jsonEcho{topic: "t"}, Notify: func(any) error {
			notified++
			return nil
		}},
	})

	// Malformed bytes are a protocol error: dropped, not raised.
	require.NoError(t, g.dispatch(context.Background(), "t", []byte("!bad")))
	assert.Zero(t, notified)
}

func TestDispatchPropagatesListenerErrors(t *testing.T) {
	boom := errors.New("boom")
	g := newTestGateway(t, []Listener{
		{Topics: []string{"t"}, Codec: jsonEcho{topic: "t"}, Notify: func(any) error { return boom }},
	})
	err := g.dispatch(context.Background(), "t", []byte("payload"))
	assert.ErrorIs(t, err, boom)
}

func TestDispatchIgnoresUnroutedTopic(t *testing.T) {
	g := newTestGateway(t, nil)
	assert.NoError(t, g.dispatch(context.Background(), "nowhere", []byte("x")))
}

func TestEmitDrainsReportsWithoutBlocking(t *testing.T) {
	g := newTestGateway(t, nil)

	var got []DeliveryReport
	cb := func(r DeliveryReport) { got = append(got, r) }
	g.reports <- report{cb: cb, r: DeliveryReport{Topic: "t", Partition: 1, Offset: 42}}
	g.reports <- report{cb: cb, r: DeliveryReport{Topic: "t", Err: errors.New("delivery failed")}}

	g.Emit()
	require.Len(t, got, 2)
	assert.Equal(t, int64(42), got[0].Offset)
	assert.Error(t, got[1].Err)

	// Nothing queued: Emit returns immediately.
	g.Emit()
	assert.Len(t, got, 2)
}

func TestSendFailsFastWithoutProducer(t *testing.T) {
	g := newTestGateway(t, nil)
	err := g.Send(jsonEcho{topic: "t"}, "t", "payload", nil, nil)
	assert.ErrorIs(t, err, ErrNoProducer)
}

func TestPollAfterCloseIsRejected(t *testing.T) {
	g := newTestGateway(t, nil)
	g.Close()
	g.Close() // idempotent
	assert.True(t, g.IsClosed())
	assert.ErrorIs(t, g.Poll(context.Background(), 0), ErrClosed)
}

func TestPollWithoutConsumer(t *testing.T) {
	g := newTestGateway(t, nil)
	assert.ErrorIs(t, g.Poll(context.Background(), 0), ErrNoConsumer)
}
