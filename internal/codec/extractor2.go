package codec

import (
	"encoding/json"
	"fmt"
)

// Extractor2Command dispatches one job posting to E2 for a detail-page fetch.
type Extractor2Command struct {
	JobID  int
	Role   string
	URL    string
	Action string
}

type extractor2Wire struct {
	Action string `json:"action"`
	Params struct {
		JobID int    `json:"job_id"`
		Role  string `json:"role"`
		URL   string `json:"url"`
	} `json:"params"`
}

// Extractor2Codec is the contract for extract.handshake.job.stage2.v1.
type Extractor2Codec struct{}

func (Extractor2Codec) Topic() string { return TopicExtractStage2 }

func (Extractor2Codec) Serialize(msg any) ([]byte, error) {
	m, ok := msg.(*Extractor2Command)
	if !ok {
		return nil, fmt.Errorf("%w: want *Extractor2Command, got %T", ErrWrongMessageType, msg)
	}
	var w extractor2Wire
	w.Action = m.Action
	w.Params.JobID = m.JobID
	w.Params.Role = m.Role
	w.Params.URL = m.URL
	return json.Marshal(w)
}

func (Extractor2Codec) Deserialize(data []byte) (any, error) {
	var w extractor2Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: extractor2: %w", err)
	}
	return &Extractor2Command{
		JobID:  w.Params.JobID,
		Role:   w.Params.Role,
		URL:    w.Params.URL,
		Action: w.Action,
	}, nil
}
