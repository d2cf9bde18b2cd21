// Package codec defines the message contracts that bind the pipeline stages
// together: one codec per topic, each pairing a serializer and deserializer
// over the canonical JSON wire form.
//
// Codecs are total over well-formed JSON: a record whose action field is
// unrecognized still deserializes, and the consuming stage decides whether to
// treat it as a dead letter. Only malformed bytes are a protocol error.
package codec

import (
	"errors"
	"fmt"
	"time"
)

// Topic names carried by the message log. The versioned suffix is part of the
// public contract and must never change without a new version.
const (
	TopicExtractStage1 = "extract.handshake.job.stage1.v1"
	TopicRawStage1     = "raw.handshake.job.stage1.v1"
	TopicExtractStage2 = "extract.handshake.job.stage2.v1"
	TopicRawStage2     = "raw.handshake.job.stage2.v1"
	TopicLoad          = "load.handshake.job.v1"
)

// Actions recognized by the stage workers.
const (
	ActionStartExtract   = "START_EXTRACT"
	ActionStartTransform = "START_TRANSFORM"
	ActionStartLoad      = "START_LOAD"
)

// compressionCodec is the only payload framing the pipeline speaks.
const compressionCodec = "zlib"

// ErrWrongMessageType is returned by Serialize when handed a message that
// does not belong to the codec.
var ErrWrongMessageType = errors.New("codec: wrong message type")

// Codec binds a topic name to its wire format.
type Codec interface {
	// Topic returns the topic this codec is the contract for.
	Topic() string
	// Serialize encodes a message into its wire bytes.
	Serialize(msg any) ([]byte, error)
	// Deserialize decodes wire bytes into the codec's message type.
	Deserialize(data []byte) (any, error)
}

// formatTime renders a timestamp in ISO-8601. RFC 3339 with nanoseconds is
// used so that parse(format(t)) yields an identical instant.
func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("codec: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
