package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"example.com/backstage/services/salesdesk/internal/models"
)

// Kind identifies a command type. Every user action maps to exactly one
// kind; the processor's dispatch over kinds is exhaustive.
type Kind string

const (
	KindImportLeads          Kind = "import_leads"
	KindCreateLead           Kind = "create_lead"
	KindUpdateLead           Kind = "update_lead"
	KindAssignLead           Kind = "assign_lead"
	KindAssignLeadsBulk      Kind = "assign_leads_bulk"
	KindRejectLead           Kind = "reject_lead"
	KindFillRepInfo          Kind = "fill_rep_info"
	KindCreateOrder          Kind = "create_order"
	KindGenerateInvoice      Kind = "generate_invoice"
	KindMarkPaid             Kind = "mark_paid"
	KindScheduleDelivery     Kind = "schedule_delivery"
	KindMarkFulfilled        Kind = "mark_fulfilled"
	KindCreateEmployee       Kind = "create_employee"
	KindDisableEmployee      Kind = "disable_employee"
	KindResetPassword        Kind = "reset_password"
	KindUpdateSettings       Kind = "update_settings"
	KindCreateCalendarEvent  Kind = "create_calendar_event"
	KindMarkNotificationRead Kind = "mark_notification_read"
	KindDismissNotification  Kind = "dismiss_notification"
)

// Kinds lists every recognized command kind
func Kinds() []Kind {
	return []Kind{
		KindImportLeads,
		KindCreateLead,
		KindUpdateLead,
		KindAssignLead,
		KindAssignLeadsBulk,
		KindRejectLead,
		KindFillRepInfo,
		KindCreateOrder,
		KindGenerateInvoice,
		KindMarkPaid,
		KindScheduleDelivery,
		KindMarkFulfilled,
		KindCreateEmployee,
		KindDisableEmployee,
		KindResetPassword,
		KindUpdateSettings,
		KindCreateCalendarEvent,
		KindMarkNotificationRead,
		KindDismissNotification,
	}
}

// Valid reports whether k is a recognized command kind
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// LeadRow is one parsed lead, as produced by an import adapter or a
// manual create
type LeadRow struct {
	Business       string `json:"business"`
	ContactName    string `json:"contact_name"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	Region         string `json:"region"`
	FlavorInterest string `json:"flavor_interest"`
}

// ImportLeadsPayload carries a batch of parsed lead rows. BatchKey is
// stamped on every created lead so a replayed import is a no-op.
type ImportLeadsPayload struct {
	BatchKey string    `json:"batch_key"`
	Rows     []LeadRow `json:"rows"`
}

// CreateLeadPayload creates a single lead by hand
type CreateLeadPayload struct {
	LeadRow
}

// UpdateLeadPayload updates contact fields on a lead. Nil fields are
// left untouched.
type UpdateLeadPayload struct {
	LeadID         string  `json:"lead_id"`
	Business       *string `json:"business,omitempty"`
	ContactName    *string `json:"contact_name,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Email          *string `json:"email,omitempty"`
	Region         *string `json:"region,omitempty"`
	FlavorInterest *string `json:"flavor_interest,omitempty"`
}

// AssignLeadPayload assigns a new lead to an active employee
type AssignLeadPayload struct {
	LeadID     string `json:"lead_id"`
	EmployeeID string `json:"employee_id"`
}

// AssignLeadsBulkPayload assigns a batch of leads to one employee,
// reporting per-lead accept/reject
type AssignLeadsBulkPayload struct {
	LeadIDs    []string `json:"lead_ids"`
	EmployeeID string   `json:"employee_id"`
}

// RejectLeadPayload marks a lead rejected. Leads are never deleted.
type RejectLeadPayload struct {
	LeadID string `json:"lead_id"`
	Reason string `json:"reason,omitempty"`
}

// FillRepInfoPayload records rep details on a lead assigned to the actor
type FillRepInfoPayload struct {
	LeadID     string `json:"lead_id"`
	RepName    string `json:"rep_name"`
	RepPhone   string `json:"rep_phone"`
	RepEmail   string `json:"rep_email"`
	RepAddress string `json:"rep_address"`
}

// CreateOrderPayload converts a lead into a draft order
type CreateOrderPayload struct {
	LeadID string            `json:"lead_id"`
	Lines  []models.LineItem `json:"lines"`
}

// GenerateInvoicePayload invoices a draft order. With Supersede set it
// issues a correcting invoice for an already-invoiced order; the old
// invoice is marked superseded, never edited.
type GenerateInvoicePayload struct {
	OrderID   string `json:"order_id"`
	Supersede bool   `json:"supersede,omitempty"`
}

// MarkPaidPayload records payment of an invoiced order
type MarkPaidPayload struct {
	OrderID string `json:"order_id"`
}

// ScheduleDeliveryPayload books delivery of a paid order
type ScheduleDeliveryPayload struct {
	OrderID    string    `json:"order_id"`
	DeliveryAt time.Time `json:"delivery_at"`
}

// MarkFulfilledPayload closes out a scheduled order after delivery
type MarkFulfilledPayload struct {
	OrderID string `json:"order_id"`
}

// CreateEmployeePayload creates a user account. The password is hashed
// before the command is enqueued; envelopes are archived forever and
// must never carry plaintext credentials.
type CreateEmployeePayload struct {
	Username     string      `json:"username"`
	Name         string      `json:"name"`
	Role         models.Role `json:"role"`
	PasswordHash string      `json:"password_hash"`
}

// DisableEmployeePayload deactivates an account, keeping its records
type DisableEmployeePayload struct {
	EmployeeID string `json:"employee_id"`
}

// ResetPasswordPayload replaces an account's password hash
type ResetPasswordPayload struct {
	EmployeeID   string `json:"employee_id"`
	PasswordHash string `json:"password_hash"`
}

// UpdateSettingsPayload replaces the pricing and company settings
type UpdateSettingsPayload struct {
	CompanyName       string  `json:"company_name"`
	Currency          string  `json:"currency"`
	PricePerCase      float64 `json:"price_per_case"`
	GSTRate           float64 `json:"gst_rate"`
	QSTRate           float64 `json:"qst_rate"`
	CansPerCase       int     `json:"cans_per_case"`
	MinCasesPerFlavor int     `json:"min_cases_per_flavor"`
}

// CreateCalendarEventPayload adds a manual entry to the shared calendar
type CreateCalendarEventPayload struct {
	Title     string          `json:"title"`
	At        time.Time       `json:"at"`
	Related   models.EventRef `json:"related,omitempty"`
	VisibleTo []string        `json:"visible_to,omitempty"`
}

// MarkNotificationReadPayload flips a notification's read flag
type MarkNotificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// DismissNotificationPayload dismisses a notification
type DismissNotificationPayload struct {
	NotificationID string `json:"notification_id"`
}

// Envelope is the durable record of one command, before and after
// processing. Once processed it carries the outcome and is kept forever
// as an audit record.
type Envelope struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Actor          string          `json:"actor"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Outcome        string          `json:"outcome,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// New builds an envelope around a typed payload
func New(kind Kind, actor string, payload interface{}, idempotencyKey string) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s payload", kind)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Kind:           kind,
		Actor:          actor,
		Payload:        raw,
		CreatedAt:      time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}, nil
}

// Decode unmarshals the envelope payload into the kind's typed struct
func Decode[T any](e Envelope) (T, error) {
	var p T
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, errors.Wrapf(err, "decode %s payload", e.Kind)
	}
	return p, nil
}

// OutcomeApplied marks a successfully applied envelope
const OutcomeApplied = "applied"

const rejectedPrefix = "rejected:"

// RejectedOutcome builds the outcome string for a refused command
func RejectedOutcome(class, detail string) string {
	return fmt.Sprintf("%s%s: %s", rejectedPrefix, class, detail)
}

// IsRejected reports whether an outcome records a refusal
func IsRejected(outcome string) bool {
	return strings.HasPrefix(outcome, rejectedPrefix)
}
