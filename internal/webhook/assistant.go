package webhook

import (
	"fmt"
	"strings"
	"time"
)

// Function names offered to the assistant when scheduling is available.
const (
	FuncCheckAvailability = "checkAvailability"
	FuncCreateBooking     = "createBooking"
)

// Assistant is the configuration returned for an assistant-request.
type Assistant struct {
	Name                   string            `json:"name"`
	FirstMessage           string            `json:"firstMessage"`
	Model                  Model             `json:"model"`
	Voice                  Voice             `json:"voice"`
	EndCallFunctionEnabled bool              `json:"endCallFunctionEnabled"`
	RecordingEnabled       bool              `json:"recordingEnabled"`
	ServerURL              string            `json:"serverUrl,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

type Model struct {
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Temperature float64        `json:"temperature"`
	Messages    []ModelMessage `json:"messages"`
	Functions   []Function     `json:"functions,omitempty"`
}

type ModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Voice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type Function struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// AssistantDefaults are deployment-wide settings.
type AssistantDefaults struct {
	ModelProvider string
	Model         string
	VoiceProvider string
	VoiceID       string
	// ServerURL is where the provider sends this call's webhooks.
	ServerURL string
}

func (d AssistantDefaults) withDefaults() AssistantDefaults {
	out := d
	if out.ModelProvider == "" {
		out.ModelProvider = "openai"
	}
	if out.Model == "" {
		out.Model = "gpt-4o-mini"
	}
	if out.VoiceProvider == "" {
		out.VoiceProvider = "11labs"
	}
	if out.VoiceID == "" {
		out.VoiceID = "sarah"
	}
	return out
}

// AssistantOptions are the per-tenant inputs.
type AssistantOptions struct {
	TenantID     string
	CallID       string
	BusinessName string
	Timezone     *time.Location
	Scheduling   bool
}

// BuildAssistant returns the receptionist for a tenant. Booking functions
// are included only when opts.Scheduling is set.
func BuildAssistant(d AssistantDefaults, opts AssistantOptions, now time.Time) Assistant {
	d = d.withDefaults()
	name := strings.TrimSpace(opts.BusinessName)
	if name == "" {
		name = "our office"
	}
	loc := opts.Timezone
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "You are the friendly receptionist for %s. ", name)
	prompt.WriteString("Answer questions briefly, collect the caller's name and reason for calling, and be warm and professional. ")
	fmt.Fprintf(&prompt, "Today is %s. The business is in the %s time zone; state times in that zone. ",
		local.Format("Monday, January 2, 2006"), loc.String())
	if opts.Scheduling {
		prompt.WriteString("You can book appointments. Use checkAvailability before offering times, ")
		prompt.WriteString("confirm the caller's name and preferred time, then call createBooking with an ISO-8601 start time. ")
		prompt.WriteString("If a time is no longer available, offer other openings.")
	} else {
		prompt.WriteString("You cannot book appointments on this call. Take a message and let the caller know someone will call them back.")
	}

	a := Assistant{
		Name:         truncate(name+" Receptionist", 40),
		FirstMessage: fmt.Sprintf("Thanks for calling %s! How can I help you today?", name),
		Model: Model{
			Provider:    d.ModelProvider,
			Model:       d.Model,
			Temperature: 0.4,
			Messages:    []ModelMessage{{Role: "system", Content: prompt.String()}},
		},
		Voice:                  Voice{Provider: d.VoiceProvider, VoiceID: d.VoiceID},
		EndCallFunctionEnabled: true,
		RecordingEnabled:       true,
		ServerURL:              d.ServerURL,
		Metadata:               map[string]string{},
	}
	if opts.TenantID != "" {
		a.Metadata["tenant_id"] = opts.TenantID
	}
	if opts.CallID != "" {
		a.Metadata["call_id"] = opts.CallID
	}
	if opts.Scheduling {
		a.Model.Functions = bookingFunctions()
	}
	return a
}

// GenericAssistant answers calls to numbers that map to no tenant.
func GenericAssistant(d AssistantDefaults) Assistant {
	d = d.withDefaults()
	return Assistant{
		Name:         "Receptionist",
		FirstMessage: "Hello, thanks for calling. How can I help you today?",
		Model: Model{
			Provider:    d.ModelProvider,
			Model:       d.Model,
			Temperature: 0.4,
			Messages: []ModelMessage{{
				Role:    "system",
				Content: "You are a polite receptionist. Take the caller's name, number and a short message, and let them know someone will get back to them. Do not promise appointments.",
			}},
		},
		Voice:                  Voice{Provider: d.VoiceProvider, VoiceID: d.VoiceID},
		EndCallFunctionEnabled: true,
		RecordingEnabled:       false,
		ServerURL:              d.ServerURL,
	}
}

func bookingFunctions() []Function {
	return []Function{
		{
			Name:        FuncCheckAvailability,
			Description: "List open appointment times for a day.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"date":           {Type: "string", Description: "Day to check, YYYY-MM-DD. Defaults to today."},
					"timePreference": {Type: "string", Description: "Part of the day the caller prefers.", Enum: []string{"morning", "afternoon", "evening"}},
				},
			},
		},
		{
			Name:        FuncCreateBooking,
			Description: "Book an appointment at a time returned by checkAvailability.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"customerName":  {Type: "string", Description: "Caller's full name."},
					"customerEmail": {Type: "string", Description: "Caller's email, if given."},
					"customerPhone": {Type: "string", Description: "Callback number, if different from the calling number."},
					"startTime":     {Type: "string", Description: "ISO-8601 start time."},
					"notes":         {Type: "string", Description: "Reason for the appointment."},
				},
				Required: []string{"customerName", "startTime"},
			},
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
