package codec

import (
	"encoding/json"
	"fmt"
)

// Transformer1Input carries one fetched search-result page from E1 to T1.
// The HTML travels compressed; the struct holds the inflated original.
type Transformer1Input struct {
	HTML   string
	Action string
}

type transformer1Wire struct {
	Action string `json:"action"`
	Params struct {
		Codec string `json:"codec"`
		B64   string `json:"b64"`
	} `json:"params"`
}

// Transformer1Codec is the contract for raw.handshake.job.stage1.v1.
type Transformer1Codec struct{}

func (Transformer1Codec) Topic() string { return TopicRawStage1 }

func (Transformer1Codec) Serialize(msg any) ([]byte, error) {
	m, ok := msg.(*Transformer1Input)
	if !ok {
		return nil, fmt.Errorf("%w: want *Transformer1Input, got %T", ErrWrongMessageType, msg)
	}
	b64, err := deflateToB64(m.HTML)
	if err != nil {
		return nil, err
	}
	var w transformer1Wire
	w.Action = m.Action
	w.Params.Codec = compressionCodec
	w.Params.B64 = b64
	return json.Marshal(w)
}

func (Transformer1Codec) Deserialize(data []byte) (any, error) {
	var w transformer1Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: transformer1: %w", err)
	}
	html, err := inflateFromB64(w.Params.B64)
	if err != nil {
		return nil, fmt.Errorf("codec: transformer1: %w", err)
	}
	return &Transformer1Input{HTML: html, Action: w.Action}, nil
}
