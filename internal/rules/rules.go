package rules

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"example.com/backstage/services/salesdesk/internal/models"
)

// LineViolation is one line item that failed the minimum-cases rule
type LineViolation struct {
	Flavor string `json:"flavor"`
	Got    int    `json:"got"`
	Min    int    `json:"min"`
}

// ValidationError reports bad input shape or a business-rule violation.
// Order-line failures carry the full list of offending flavors.
type ValidationError struct {
	Field      string          `json:"field,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Violations []LineViolation `json:"violations,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Violations) > 0 {
		parts := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			parts = append(parts, fmt.Sprintf("flavor %s: %d cases, minimum %d", v.Flavor, v.Got, v.Min))
		}
		return strings.Join(parts, "; ")
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

// NewValidation builds a field-level validation error
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidStateError reports a command applied to an entity whose current
// status does not permit it
type InvalidStateError struct {
	Entity    string `json:"entity"`
	ID        string `json:"id"`
	Current   string `json:"current"`
	Requested string `json:"requested"`
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.Current, e.Requested)
}

// NotFoundError reports a reference that does not resolve
type NotFoundError struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Table, e.ID)
}

// AuthorizationError reports an actor not permitted to perform an action
type AuthorizationError struct {
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (e *AuthorizationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s not permitted to %s: %s", e.Actor, e.Action, e.Reason)
	}
	return fmt.Sprintf("%s not permitted to %s", e.Actor, e.Action)
}

// Classify maps a handler error to its taxonomy class token, used in the
// rejected:<reason> outcome of a processed envelope
func Classify(err error) string {
	var (
		ve *ValidationError
		se *InvalidStateError
		ne *NotFoundError
		ae *AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &se):
		return "invalid_state"
	case errors.As(err, &ne):
		return "not_found"
	case errors.As(err, &ae):
		return "authorization"
	}
	return "internal"
}

// ValidateOrderLines checks every line item against the per-flavor minimum.
// All offending flavors are reported, not just the first.
func ValidateOrderLines(lines []models.LineItem, min int) *ValidationError {
	if len(lines) == 0 {
		return NewValidation("line_items", "at least one line item required")
	}
	var violations []LineViolation
	for _, li := range lines {
		if strings.TrimSpace(li.Flavor) == "" {
			return NewValidation("line_items", "flavor must not be empty")
		}
		if li.Cases < min {
			violations = append(violations, LineViolation{Flavor: li.Flavor, Got: li.Cases, Min: min})
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// ValidateTransition permits exactly one forward step along
// Draft < Invoiced < Paid < Scheduled < Fulfilled. Every order command
// names its target status, so requiring rank(next) == rank(current)+1
// also enforces each command's source-status precondition.
func ValidateTransition(orderID string, current, next models.OrderStatus) *InvalidStateError {
	if !current.Valid() || !next.Valid() || next.Rank() != current.Rank()+1 {
		return &InvalidStateError{
			Entity:    "order",
			ID:        orderID,
			Current:   string(current),
			Requested: string(next),
		}
	}
	return nil
}

// CanPrint reports whether an order's invoice may be rendered for
// printing: the order must have been paid and scheduled, which with the
// forward-only lifecycle means status Scheduled or later. Derived from
// status, never stored.
func CanPrint(o models.Order) bool {
	return o.Status.Rank() >= models.OrderScheduled.Rank()
}

// Totals is the money breakdown of an invoice, in integer cents
type Totals struct {
	SubtotalCents int64
	GSTCents      int64
	QSTCents      int64
	TotalCents    int64
	Currency      string
}

// ComputeTotals prices an order's line items against the current settings.
// Tax amounts round half-up to the cent.
func ComputeTotals(lines []models.LineItem, s models.Settings) Totals {
	cases := 0
	for _, li := range lines {
		cases += li.Cases
	}
	subtotal := int64(cases) * s.PricePerCaseCents
	gst := roundCents(float64(subtotal) * s.GSTRate)
	qst := roundCents(float64(subtotal) * s.QSTRate)
	return Totals{
		SubtotalCents: subtotal,
		GSTCents:      gst,
		QSTCents:      qst,
		TotalCents:    subtotal + gst + qst,
		Currency:      s.Currency,
	}
}

// DollarsToCents converts a configured dollar amount to integer cents
func DollarsToCents(d float64) int64 {
	return int64(math.Round(d * 100))
}

func roundCents(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
