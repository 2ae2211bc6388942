package calls

import (
	"testing"
	"time"
)

func TestMergeCallFields_StatusGuard(t *testing.T) {
	cases := []struct {
		name   string
		stored CallStatus
		in     CallStatus
		want   CallStatus
	}{
		{"forward", CallStatusQueued, CallStatusInProgress, CallStatusInProgress},
		{"skip states", CallStatusQueued, CallStatusCompleted, CallStatusCompleted},
		{"late ringing after completed", CallStatusCompleted, CallStatusRinging, CallStatusCompleted},
		{"late in-progress after no-answer", CallStatusNoAnswer, CallStatusInProgress, CallStatusNoAnswer},
		{"terminal over terminal", CallStatusCompleted, CallStatusFailed, CallStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeCallFields(Call{Status: tc.stored}, CallPatch{Status: Ptr(tc.in)})
			if got.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Status)
			}
		})
	}
}

func TestMergeCallFields_OnlyProvidedFields(t *testing.T) {
	stored := Call{Summary: "kept", Intent: "booking", Status: CallStatusInProgress}
	got := mergeCallFields(stored, CallPatch{Sentiment: Ptr("positive")})
	if got.Summary != "kept" || got.Intent != "booking" || got.Status != CallStatusInProgress {
		t.Fatalf("unprovided fields changed: %+v", got)
	}
	if got.Sentiment != "positive" {
		t.Fatalf("expected sentiment to be applied")
	}
}

func TestMergeCallFields_ClampsEndedAt(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(-time.Minute)
	got := mergeCallFields(Call{}, CallPatch{StartedAt: &start, EndedAt: &end})
	if !got.EndedAt.Equal(start) {
		t.Fatalf("expected ended_at clamped to started_at, got %v", got.EndedAt)
	}
}

func TestMergeCallFields_MetadataMerges(t *testing.T) {
	stored := Call{Metadata: Metadata{"a": "1"}}
	got := mergeCallFields(stored, CallPatch{Metadata: Metadata{"b": "2"}})
	if got.Metadata["a"] != "1" || got.Metadata["b"] != "2" {
		t.Fatalf("expected merged metadata, got %v", got.Metadata)
	}
	if _, ok := stored.Metadata["b"]; ok {
		t.Fatalf("stored metadata must not be mutated")
	}
}

func TestStatusForEndedReason(t *testing.T) {
	cases := map[string]CallStatus{
		"customer-did-not-answer":       CallStatusNoAnswer,
		"customer-busy":                 CallStatusBusy,
		"pipeline-error-openai-llm":     CallStatusFailed,
		"twilio-failed-to-connect-call": CallStatusFailed,
		"customer-ended-call":           CallStatusCompleted,
		"assistant-ended-call":          CallStatusCompleted,
		"":                              CallStatusCompleted,
	}
	for reason, want := range cases {
		if got := StatusForEndedReason(reason); got != want {
			t.Fatalf("%q: expected %s, got %s", reason, want, got)
		}
	}
}
