// Package validation checks session inputs before any agent runs, so
// bad flags fail at startup instead of mid-session.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/marketdata"
)

// ValidationError is one rejected field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors accumulates every rejected field
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors reports whether any field was rejected
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator collects field checks
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates an empty validator
func NewValidator() *Validator {
	return &Validator{}
}

// AddError records one rejected field
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Errors returns everything rejected so far
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// HasErrors reports whether any check failed
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Required rejects empty strings
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// OneOf rejects values outside the allowed set
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// Positive rejects zero and negative numbers
func (v *Validator) Positive(field string, value float64) {
	if value <= 0 {
		v.AddError(field, "must be positive")
	}
}

// Uppercase letters with an optional class suffix, e.g. AAPL or BRK.B
var tickerRegex = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// Ticker rejects malformed ticker symbols
func (v *Validator) Ticker(field, value string) {
	if !tickerRegex.MatchString(value) {
		v.AddError(field, fmt.Sprintf("%q is not a valid ticker symbol", value))
	}
}

// Date rejects strings that are not YYYY-MM-DD calendar dates
func (v *Validator) Date(field, value string) {
	v.Required(field, value)
	if value == "" {
		return
	}
	if _, err := marketdata.ParseDate(value); err != nil {
		v.AddError(field, fmt.Sprintf("%q is not a YYYY-MM-DD date", value))
	}
}

// DateRange rejects ranges whose end precedes the start. Both bounds
// must already have passed Date.
func (v *Validator) DateRange(startField, start, end string) {
	s, err1 := marketdata.ParseDate(start)
	e, err2 := marketdata.ParseDate(end)
	if err1 != nil || err2 != nil {
		return
	}
	if e.Before(s) {
		v.AddError(startField, fmt.Sprintf("end date %s precedes start date %s", end, start))
	}
}

// SessionInput is everything a trading session needs validated before
// it starts
type SessionInput struct {
	StartDate         string
	EndDate           string
	Tickers           []string
	Mode              string
	AnalystTypes      []string
	InitialCash       float64
	MarginRequirement float64
}

var sessionModes = []string{"signal", "portfolio"}

// ValidateSession checks the full session input and returns every
// problem at once
func ValidateSession(in SessionInput) error {
	v := NewValidator()

	v.Date("start_date", in.StartDate)
	v.Date("end_date", in.EndDate)
	v.DateRange("start_date", in.StartDate, in.EndDate)

	if len(in.Tickers) == 0 {
		v.AddError("tickers", "at least one ticker is required")
	}
	for _, t := range in.Tickers {
		v.Ticker("tickers", t)
	}

	v.OneOf("mode", in.Mode, sessionModes)
	for _, a := range in.AnalystTypes {
		v.OneOf("analyst_types", a, config.ValidAnalystTypes)
	}

	v.Positive("initial_cash", in.InitialCash)
	if in.MarginRequirement < 0 || in.MarginRequirement > 1 {
		v.AddError("margin_requirement", "must be between 0 and 1")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// NormalizeTickers uppercases and de-duplicates a ticker list,
// preserving first-seen order
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	var out []string
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
