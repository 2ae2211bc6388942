package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for one tenant's activity in [From, To).
type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

type CallsSummary struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	MissedCalls     int `json:"missed_calls"`
	CompletedCalls  int `json:"completed_calls"`
	AIHandledCalls  int `json:"ai_handled_calls"`
	EscalatedCalls  int `json:"escalated_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// Intents is ordered by count, then name.
	Intents         []IntentCount `json:"intents"`
	BookingsCreated int           `json:"bookings_created"`
}
