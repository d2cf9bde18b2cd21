package codec

import (
	"encoding/json"
	"fmt"
)

// Extractor1Command seeds the pipeline: it tells E1 which pages of the job
// search to walk.
type Extractor1Command struct {
	StartPage int
	EndPage   int
	PerPage   int
	Action    string
}

type extractor1Wire struct {
	Action string `json:"action"`
	Params struct {
		StartPage int `json:"start_page"`
		EndPage   int `json:"end_page"`
		PerPage   int `json:"per_page"`
	} `json:"params"`
}

// Extractor1Codec is the contract for extract.handshake.job.stage1.v1.
type Extractor1Codec struct{}

func (Extractor1Codec) Topic() string { return TopicExtractStage1 }

func (Extractor1Codec) Serialize(msg any) ([]byte, error) {
	m, ok := msg.(*Extractor1Command)
	if !ok {
		return nil, fmt.Errorf("%w: want *Extractor1Command, got %T", ErrWrongMessageType, msg)
	}
	var w extractor1Wire
	w.Action = m.Action
	w.Params.StartPage = m.StartPage
	w.Params.EndPage = m.EndPage
	w.Params.PerPage = m.PerPage
	return json.Marshal(w)
}

func (Extractor1Codec) Deserialize(data []byte) (any, error) {
	var w extractor1Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: extractor1: %w", err)
	}
	return &Extractor1Command{
		StartPage: w.Params.StartPage,
		EndPage:   w.Params.EndPage,
		PerPage:   w.Params.PerPage,
		Action:    w.Action,
	}, nil
}
