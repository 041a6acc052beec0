package apperror

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Details is the structured payload attached to an error. Unrecognised data
// goes into Metadata.
type Details struct {
	Field            string         `json:"field,omitempty"`
	Value            any            `json:"value,omitempty"`
	Constraint       string         `json:"constraint,omitempty"`
	Suggestion       string         `json:"suggestion,omitempty"`
	Resource         string         `json:"resource,omitempty"`
	ID               string         `json:"id,omitempty"`
	ValidationErrors []FieldError   `json:"validationErrors,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	// Storage-engine specifics, stripped in production.
	ConstraintName string `json:"constraintName,omitempty"`
	Table          string `json:"table,omitempty"`
	Column         string `json:"column,omitempty"`
	Stack          string `json:"stack,omitempty"`

	// External dependency failures.
	Service         string `json:"service,omitempty"`
	UpstreamCode    string `json:"upstreamCode,omitempty"`
	UpstreamMessage string `json:"upstreamMessage,omitempty"`

	// Rate limiting.
	RateLimitValue int        `json:"rateLimitValue,omitempty"`
	Window         string     `json:"window,omitempty"`
	Remaining      *int       `json:"remaining,omitempty"`
	ResetTime      *time.Time `json:"resetTime,omitempty"`

	// Quota and budget.
	CurrentUsage float64 `json:"currentUsage,omitempty"`
	UsageLimit   float64 `json:"usageLimit,omitempty"`
	Period       string  `json:"period,omitempty"`
	Overage      float64 `json:"overage,omitempty"`
}

// Clone returns a deep copy of d. A nil receiver yields nil.
func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	c := *d
	c.ValidationErrors = slices.Clone(d.ValidationErrors)
	if d.Metadata != nil {
		c.Metadata = maps.Clone(d.Metadata)
	}
	if d.Remaining != nil {
		r := *d.Remaining
		c.Remaining = &r
	}
	if d.ResetTime != nil {
		t := *d.ResetTime
		c.ResetTime = &t
	}
	return &c
}

// Map renders d as a generic JSON object.
func (d *Details) Map() map[string]any {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || len(m) == 0 {
		return nil
	}
	return m
}

func detailsFromMap(m map[string]any) (*Details, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var d Details
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
