package codec

import (
	"encoding/json"
	"fmt"
	"time"
)

// Transformer2Input carries one fetched detail page from E2 to T2 together
// with the instant it was scraped.
type Transformer2Input struct {
	URL       string
	HTML      string
	CreatedAt time.Time
	Action    string
}

type transformer2Wire struct {
	Action string `json:"action"`
	Params struct {
		Codec     string `json:"codec"`
		CreatedAt string `json:"created_at"`
		URL       string `json:"url"`
		B64       string `json:"b64"`
	} `json:"params"`
}

// Transformer2Codec is the contract for raw.handshake.job.stage2.v1.
type Transformer2Codec struct{}

func (Transformer2Codec) Topic() string { return TopicRawStage2 }

func (Transformer2Codec) Serialize(msg any) ([]byte, error) {
	m, ok := msg.(*Transformer2Input)
	if !ok {
		return nil, fmt.Errorf("%w: want *Transformer2Input, got %T", ErrWrongMessageType, msg)
	}
	b64, err := deflateToB64(m.HTML)
	if err != nil {
		return nil, err
	}
	var w transformer2Wire
	w.Action = m.Action
	w.Params.Codec = compressionCodec
	w.Params.CreatedAt = formatTime(m.CreatedAt)
	w.Params.URL = m.URL
	w.Params.B64 = b64
	return json.Marshal(w)
}

func (Transformer2Codec) Deserialize(data []byte) (any, error) {
	var w transformer2Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: transformer2: %w", err)
	}
	html, err := inflateFromB64(w.Params.B64)
	if err != nil {
		return nil, fmt.Errorf("codec: transformer2: %w", err)
	}
	createdAt, err := parseTime(w.Params.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("codec: transformer2: %w", err)
	}
	return &Transformer2Input{
		URL:       w.Params.URL,
		HTML:      html,
		CreatedAt: createdAt,
		Action:    w.Action,
	}, nil
}
