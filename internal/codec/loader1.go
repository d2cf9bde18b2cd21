package codec

import (
	"encoding/json"
	"fmt"
	"time"
)

// Loader1Record is the canonical enriched job record published for
// downstream consumers. Pointer fields are nullable on the wire; absent
// values serialize as JSON null, never as omitted keys.
type Loader1Record struct {
	About          *string
	ApplyBy        *time.Time
	ApplyType      *string // "internal" | "external"
	Company        *string
	Documents      []string
	EmploymentType *string
	Industry       *string
	JobType        *string
	Location       *string
	LocationType   []string
	Position       *string
	PostedAt       *time.Time
	URL            string
	Wage           *[2]int
}

type loader1Wire struct {
	AboutCodec     string    `json:"about_codec"`
	About          *string   `json:"about"`
	ApplyBy        *string   `json:"apply_by"`
	ApplyType      *string   `json:"apply_type"`
	Company        *string   `json:"company"`
	Documents      []string  `json:"documents"`
	EmploymentType *string   `json:"employment_type"`
	Industry       *string   `json:"industry"`
	JobType        *string   `json:"job_type"`
	Location       *string   `json:"location"`
	LocationType   []string  `json:"location_type"`
	Position       *string   `json:"position"`
	PostedAt       *string   `json:"posted_at"`
	URL            string    `json:"url"`
	Wage           *[2]int   `json:"wage"`
}

// Loader1Codec is the contract for load.handshake.job.v1.
type Loader1Codec struct{}

func (Loader1Codec) Topic() string { return TopicLoad }

func (Loader1Codec) Serialize(msg any) ([]byte, error) {
	m, ok := msg.(*Loader1Record)
	if !ok {
		return nil, fmt.Errorf("%w: want *Loader1Record, got %T", ErrWrongMessageType, msg)
	}
	w := loader1Wire{
		AboutCodec:     compressionCodec,
		ApplyType:      m.ApplyType,
		Company:        m.Company,
		Documents:      m.Documents,
		EmploymentType: m.EmploymentType,
		Industry:       m.Industry,
		JobType:        m.JobType,
		Location:       m.Location,
		LocationType:   m.LocationType,
		Position:       m.Position,
		URL:            m.URL,
		Wage:           m.Wage,
	}
	if m.About != nil {
		b64, err := deflateToB64(*m.About)
		if err != nil {
			return nil, err
		}
		w.About = &b64
	}
	if m.ApplyBy != nil {
		s := formatTime(*m.ApplyBy)
		w.ApplyBy = &s
	}
	if m.PostedAt != nil {
		s := formatTime(*m.PostedAt)
		w.PostedAt = &s
	}
	if w.Documents == nil {
		w.Documents = []string{}
	}
	if w.LocationType == nil {
		w.LocationType = []string{}
	}
	return json.Marshal(w)
}

func (Loader1Codec) Deserialize(data []byte) (any, error) {
	var w loader1Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("codec: loader1: %w", err)
	}
	m := &Loader1Record{
		ApplyType:      w.ApplyType,
		Company:        w.Company,
		Documents:      w.Documents,
		EmploymentType: w.EmploymentType,
		Industry:       w.Industry,
		JobType:        w.JobType,
		Location:       w.Location,
		LocationType:   w.LocationType,
		Position:       w.Position,
		URL:            w.URL,
		Wage:           w.Wage,
	}
	if w.About != nil {
		about, err := inflateFromB64(*w.About)
		if err != nil {
			return nil, fmt.Errorf("codec: loader1: %w", err)
		}
		m.About = &about
	}
	if w.ApplyBy != nil {
		t, err := parseTime(*w.ApplyBy)
		if err != nil {
			return nil, fmt.Errorf("codec: loader1: %w", err)
		}
		m.ApplyBy = &t
	}
	if w.PostedAt != nil {
		t, err := parseTime(*w.PostedAt)
		if err != nil {
			return nil, fmt.Errorf("codec: loader1: %w", err)
		}
		m.PostedAt = &t
	}
	if m.Documents == nil {
		m.Documents = []string{}
	}
	if m.LocationType == nil {
		m.LocationType = []string{}
	}
	return m, nil
}
