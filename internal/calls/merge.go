package calls

import "time"

// mergeCallFields applies every provided patch field over stored.
// Last writer wins per field, except that a non-terminal status never
// replaces a terminal one. ended_at is clamped to started_at.
func mergeCallFields(stored Call, p CallPatch) Call {
	out := stored

	if p.Direction != nil {
		out.Direction = *p.Direction
	}
	if p.FromPhone != nil {
		out.FromPhone = *p.FromPhone
	}
	if p.ToPhone != nil {
		out.ToPhone = *p.ToPhone
	}
	if p.CustomerPhone != nil {
		out.CustomerPhone = *p.CustomerPhone
	}
	if p.Status != nil && (p.Status.IsTerminal() || !stored.Status.IsTerminal()) {
		out.Status = *p.Status
	}
	if p.StartedAt != nil {
		out.StartedAt = utcPtr(*p.StartedAt)
	}
	if p.EndedAt != nil {
		out.EndedAt = utcPtr(*p.EndedAt)
	}
	if p.DurationSeconds != nil {
		out.DurationSeconds = *p.DurationSeconds
	}
	if p.EndedReason != nil {
		out.EndedReason = *p.EndedReason
	}
	if p.RecordingURL != nil {
		out.RecordingURL = *p.RecordingURL
	}
	if p.FullTranscript != nil {
		out.FullTranscript = *p.FullTranscript
	}
	if p.Summary != nil {
		out.Summary = *p.Summary
	}
	if p.Intent != nil {
		out.Intent = *p.Intent
	}
	if p.Sentiment != nil {
		out.Sentiment = *p.Sentiment
	}
	if p.Missed != nil {
		out.Missed = *p.Missed
	}
	if p.AIHandled != nil {
		out.AIHandled = *p.AIHandled
	}
	if p.EscalationRequired != nil {
		out.EscalationRequired = *p.EscalationRequired
	}
	if len(p.Metadata) > 0 {
		merged := make(Metadata, len(stored.Metadata)+len(p.Metadata))
		for k, v := range stored.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		out.Metadata = merged
	}

	if out.StartedAt != nil && out.EndedAt != nil && out.EndedAt.Before(*out.StartedAt) {
		out.EndedAt = utcPtr(*out.StartedAt)
	}
	return out
}

// changedColumns lists the columns a patch touches, with values taken from
// the merged row. Status is left to the caller so it can be guarded in SQL.
func changedColumns(merged Call, p CallPatch) map[string]any {
	cols := map[string]any{}
	set := func(provided bool, col string, v any) {
		if provided {
			cols[col] = v
		}
	}
	set(p.Direction != nil, "direction", string(merged.Direction))
	set(p.FromPhone != nil, "from_phone", merged.FromPhone)
	set(p.ToPhone != nil, "to_phone", merged.ToPhone)
	set(p.CustomerPhone != nil, "customer_phone", merged.CustomerPhone)
	set(p.StartedAt != nil, "started_at", merged.StartedAt)
	// a new started_at may move the clamp on ended_at
	set(p.EndedAt != nil || (p.StartedAt != nil && merged.EndedAt != nil), "ended_at", merged.EndedAt)
	set(p.DurationSeconds != nil, "duration_seconds", merged.DurationSeconds)
	set(p.EndedReason != nil, "ended_reason", merged.EndedReason)
	set(p.RecordingURL != nil, "recording_url", merged.RecordingURL)
	set(p.FullTranscript != nil, "full_transcript", merged.FullTranscript)
	set(p.Summary != nil, "summary", merged.Summary)
	set(p.Intent != nil, "intent", merged.Intent)
	set(p.Sentiment != nil, "sentiment", merged.Sentiment)
	set(p.Missed != nil, "missed", merged.Missed)
	set(p.AIHandled != nil, "ai_handled", merged.AIHandled)
	set(p.EscalationRequired != nil, "escalation_required", merged.EscalationRequired)
	set(len(p.Metadata) > 0, "metadata", merged.Metadata)
	return cols
}

func utcPtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
