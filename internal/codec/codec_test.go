package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor1RoundTrip(t *testing.T) {
	c := Extractor1Codec{}
	in := &Extractor1Command{StartPage: 1, EndPage: 40, PerPage: 50, Action: ActionStartExtract}

	data, err := c.Serialize(in)
	require.NoError(t, err)

	out, err := c.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// The wire form is the documented envelope, not an arbitrary encoding.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, ActionStartExtract, wire["action"])
	params := wire["params"].(map[string]any)
	assert.Equal(t, float64(1), params["start_page"])
	assert.Equal(t, float64(40), params["end_page"])
	assert.Equal(t, float64(50), params["per_page"])
}

func TestExtractor1UnrecognizedActionStillDecodes(t *testing.T) {
	c := Extractor1Codec{}
	data, err := c.Serialize(&Extractor1Command{StartPage: 1, EndPage: 1, PerPage: 1, Action: "NOT_A_THING"})
	require.NoError(t, err)

	out, err := c.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, "NOT_A_THING", out.(*Extractor1Command).Action)
}

func TestTransformer1RoundTripHelloWorld(t *testing.T) {
	c := Transformer1Codec{}
	in := &Transformer1Input{HTML: "hello world", Action: ActionStartTransform}

	data, err := c.Serialize(in)
	require.NoError(t, err)

	out, err := c.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.(*Transformer1Input).HTML)
	assert.Equal(t, ActionStartTransform, out.(*Transformer1Input).Action)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	params := wire["params"].(map[string]any)
	assert.Equal(t, "zlib", params["codec"])
	assert.NotEmpty(t, params["b64"])
}

func TestTransformer1PreservesExactUnicode(t *testing.T) {
	c := Transformer1Codec{}
	html := "<div>wage $20–$30/hr ∙ Based in Eugene, OR</div>\n\ttabs and \x00 bytes"
	data, err := c.Serialize(&Transformer1Input{HTML: html, Action: ActionStartTransform})
	require.NoError(t, err)
	out, err := c.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, html, out.(*Transformer1Input).HTML)
}

func TestExtractor2RoundTrip(t *testing.T) {
	c := Extractor2Codec{}
	in := &Extractor2Command{
		JobID:  111,
		Role:   "Alpha",
		URL:    "https://app.joinhandshake.com/jobs/111",
		Action: ActionStartExtract,
	}
	data, err := c.Serialize(in)
	require.NoError(t, err)
	out, err := c.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTransformer2RoundTrip(t *testing.T) {
	c := Transformer2Codec{}
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &Transformer2Input{
		URL:       "https://app.joinhandshake.com/jobs/42",
		HTML:      "<html><body>detail</body></html>",
		CreatedAt: created,
		Action:    ActionStartTransform,
	}
	data, err := c.Serialize(in)
	require.NoError(t, err)

	out, err := c.Deserialize(data)
	require.NoError(t, err)
	got := out.(*Transformer2Input)
	assert.Equal(t, in.URL, got.URL)
	assert.Equal(t, in.HTML, got.HTML)
	assert.True(t, got.CreatedAt.Equal(created), "created_at must round-trip to the identical instant")
}

func TestLoader1RoundTrip(t *testing.T) {
	c := Loader1Codec{}
	about := "## About\n\nWe build pipelines."
	applyType := "internal"
	company := "Acme"
	employment := "full-time"
	industry := "software"
	jobType := "internship"
	location := "eugene, or"
	position := "data engineer"
	postedAt := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	applyBy := time.Date(2026, 1, 15, 23, 59, 0, 0, time.UTC)
	wage := [2]int{41600, 41600}

	in := &Loader1Record{
		About:          &about,
		ApplyBy:        &applyBy,
		ApplyType:      &applyType,
		Company:        &company,
		Documents:      []string{"resume", "cover letter"},
		EmploymentType: &employment,
		Industry:       &industry,
		JobType:        &jobType,
		Location:       &location,
		LocationType:   []string{"onsite"},
		Position:       &position,
		PostedAt:       &postedAt,
		URL:            "https://app.joinhandshake.com/jobs/42",
		Wage:           &wage,
	}
	data, err := c.Serialize(in)
	require.NoError(t, err)

	out, err := c.Deserialize(data)
	require.NoError(t, err)
	got := out.(*Loader1Record)
	assert.Equal(t, about, *got.About)
	assert.True(t, got.PostedAt.Equal(postedAt))
	assert.True(t, got.ApplyBy.Equal(applyBy))
	assert.Equal(t, in.Documents, got.Documents)
	assert.Equal(t, in.Wage, got.Wage)
	assert.Equal(t, in.URL, got.URL)
}

func TestLoader1NullsAreExplicit(t *testing.T) {
	c := Loader1Codec{}
	data, err := c.Serialize(&Loader1Record{URL: "https://example.com/jobs/1"})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	for _, key := range []string{"about", "apply_by", "apply_type", "company", "employment_type",
		"industry", "job_type", "location", "position", "posted_at", "wage"} {
		v, present := wire[key]
		assert.True(t, present, "field %q must be present", key)
		assert.Nil(t, v, "field %q must be null", key)
	}
	assert.Equal(t, []any{}, wire["documents"])
	assert.Equal(t, []any{}, wire["location_type"])
	assert.Equal(t, "zlib", wire["about_codec"])

	out, err := c.Deserialize(data)
	require.NoError(t, err)
	got := out.(*Loader1Record)
	assert.Nil(t, got.About)
	assert.Nil(t, got.Wage)
}

func TestSerializeRejectsForeignMessage(t *testing.T) {
	_, err := Extractor1Codec{}.Serialize(&Extractor2Command{})
	assert.ErrorIs(t, err, ErrWrongMessageType)
}

func TestDeserializeMalformedJSON(t *testing.T) {
	for _, c := range []Codec{
		Extractor1Codec{}, Transformer1Codec{}, Extractor2Codec{}, Transformer2Codec{}, Loader1Codec{},
	} {
		_, err := c.Deserialize([]byte("{not json"))
		assert.Error(t, err, "codec for %s", c.Topic())
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	inputs := []string{"", "hello world", "éè∙–", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	for _, s := range inputs {
		b64, err := deflateToB64(s)
		require.NoError(t, err)
		out, err := inflateFromB64(b64)
		require.NoError(t, err)
		assert.Equal(t, s, out)
	}
}
