package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Event types sent by the voice AI provider.
const (
	TypeAssistantRequest = "assistant-request"
	TypeStatusUpdate     = "status-update"
	TypeTranscript       = "transcript"
	TypeFunctionCall     = "function-call"
	TypeEndOfCallReport  = "end-of-call-report"
)

// Envelope is the webhook body: {"message": {...}}.
type Envelope struct {
	Message Message `json:"message"`
}

// Message carries the union of the fields used across event types.
// Provider payloads are loosely typed, so numeric and time fields are
// decoded leniently.
type Message struct {
	Type      string    `json:"type"`
	Timestamp Timestamp `json:"timestamp"`
	Call      CallInfo  `json:"call"`

	// Some payloads carry the numbers beside the call instead of inside it.
	PhoneNumber *PhoneRef `json:"phoneNumber,omitempty"`
	Customer    *PhoneRef `json:"customer,omitempty"`

	// status-update
	Status      string `json:"status,omitempty"`
	EndedReason string `json:"endedReason,omitempty"`

	// transcript
	Role           string `json:"role,omitempty"`
	TranscriptType string `json:"transcriptType,omitempty"`
	Transcript     string `json:"transcript,omitempty"`

	// function-call
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`

	// end-of-call-report
	Summary         string    `json:"summary,omitempty"`
	RecordingURL    string    `json:"recordingUrl,omitempty"`
	StartedAt       Timestamp `json:"startedAt"`
	EndedAt         Timestamp `json:"endedAt"`
	DurationSeconds any       `json:"durationSeconds,omitempty"`
	Cost            any       `json:"cost,omitempty"`
	Analysis        *Analysis `json:"analysis,omitempty"`
	Artifact        *Artifact `json:"artifact,omitempty"`
}

type CallInfo struct {
	ID          string    `json:"id"`
	PhoneNumber *PhoneRef `json:"phoneNumber,omitempty"`
	Customer    *PhoneRef `json:"customer,omitempty"`
	StartedAt   Timestamp `json:"startedAt"`
	EndedAt     Timestamp `json:"endedAt"`
	Duration    any       `json:"duration,omitempty"`
}

type PhoneRef struct {
	Number string `json:"number"`
}

type FunctionCall struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Args decodes the parameters, which arrive either as an object or as a
// JSON-encoded string.
func (f FunctionCall) Args() map[string]any {
	if len(f.Parameters) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(f.Parameters, &v); err != nil {
		return map[string]any{}
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return map[string]any{}
	}
	return m
}

type Analysis struct {
	Summary        string         `json:"summary,omitempty"`
	StructuredData map[string]any `json:"structuredData,omitempty"`
}

type Artifact struct {
	Transcript   string `json:"transcript,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty"`
}

// DialedNumber is the business line that received the call.
func (m Message) DialedNumber() string {
	if m.Call.PhoneNumber != nil && m.Call.PhoneNumber.Number != "" {
		return m.Call.PhoneNumber.Number
	}
	if m.PhoneNumber != nil {
		return m.PhoneNumber.Number
	}
	return ""
}

// CustomerNumber is the caller's number.
func (m Message) CustomerNumber() string {
	if m.Call.Customer != nil && m.Call.Customer.Number != "" {
		return m.Call.Customer.Number
	}
	if m.Customer != nil {
		return m.Customer.Number
	}
	return ""
}

// IsFinalTranscript reports whether a transcript event is a final utterance.
// Events without a transcriptType are treated as final.
func (m Message) IsFinalTranscript() bool {
	t := strings.ToLower(strings.TrimSpace(m.TranscriptType))
	return t == "" || t == "final"
}

// Timestamp accepts RFC 3339 strings, epoch seconds or epoch milliseconds.
// Unparseable values decode to the zero time instead of failing the event.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if x <= 0 {
			return nil
		}
		if x > 1e12 {
			t.Time = time.UnixMilli(int64(x)).UTC()
		} else {
			t.Time = time.Unix(int64(x), 0).UTC()
		}
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		ts, err := cast.ToTimeE(x)
		if err != nil {
			return nil
		}
		t.Time = ts.UTC()
	}
	return nil
}

// Ptr returns nil for the zero time.
func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func firstTime(ts ...Timestamp) *time.Time {
	for _, t := range ts {
		if p := t.Ptr(); p != nil {
			return p
		}
	}
	return nil
}

// seconds reads a loosely typed duration. ok is false when v is absent or
// not a number.
func seconds(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f + 0.5), true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
