package models

import (
	"slices"
	"time"
)

// Role identifies what an employee is allowed to do
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleDelivery Role = "delivery"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEmployee, RoleDelivery:
		return true
	}
	return false
}

// LeadStatus is the lifecycle state of a lead
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadAssigned  LeadStatus = "assigned"
	LeadConverted LeadStatus = "converted"
	LeadRejected  LeadStatus = "rejected"
)

// Valid reports whether the status is one of the known lead states
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadNew, LeadAssigned, LeadConverted, LeadRejected:
		return true
	}
	return false
}

// OrderStatus is the lifecycle state of an order. Transitions only move
// forward along Draft < Invoiced < Paid < Scheduled < Fulfilled.
type OrderStatus string

const (
	OrderDraft     OrderStatus = "draft"
	OrderInvoiced  OrderStatus = "invoiced"
	OrderPaid      OrderStatus = "paid"
	OrderScheduled OrderStatus = "scheduled"
	OrderFulfilled OrderStatus = "fulfilled"
)

// Rank returns the position of the status in the forward-only order,
// or -1 for an unknown status.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderDraft:
		return 0
	case OrderInvoiced:
		return 1
	case OrderPaid:
		return 2
	case OrderScheduled:
		return 3
	case OrderFulfilled:
		return 4
	}
	return -1
}

// Valid reports whether the status is one of the known order states
func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// HistoryEntry is one line of an entity's audit trail
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

// Employee is a user account. Disabling flips Active; the record itself
// is never deleted so references from leads and orders stay resolvable.
type Employee struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clone returns an independent copy
func (e Employee) Clone() Employee {
	return e
}

// Lead is an imported or manually created sales prospect
type Lead struct {
	ID             string         `json:"id"`
	Business       string         `json:"business"`
	ContactName    string         `json:"contact_name"`
	Phone          string         `json:"phone"`
	Email          string         `json:"email"`
	Region         string         `json:"region"`
	FlavorInterest string         `json:"flavor_interest"`
	Status         LeadStatus     `json:"status"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	RepName        string         `json:"rep_name,omitempty"`
	RepPhone       string         `json:"rep_phone,omitempty"`
	RepEmail       string         `json:"rep_email,omitempty"`
	RepAddress     string         `json:"rep_address,omitempty"`
	SourceBatch    string         `json:"source_batch,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns an independent copy, with its own history slice
func (l Lead) Clone() Lead {
	l.History = slices.Clone(l.History)
	return l
}

// Client is the billing record denormalized from a converted lead
type Client struct {
	ID          string    `json:"id"`
	Business    string    `json:"business"`
	ContactName string    `json:"contact_name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	Region      string    `json:"region"`
	RepName     string    `json:"rep_name,omitempty"`
	RepPhone    string    `json:"rep_phone,omitempty"`
	RepEmail    string    `json:"rep_email,omitempty"`
	RepAddress  string    `json:"rep_address,omitempty"`
	LeadID      string    `json:"lead_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns an independent copy
func (c Client) Clone() Client {
	return c
}

// LineItem is one (flavor, case count) pair within an order
type LineItem struct {
	Flavor string `json:"flavor"`
	Cases  int    `json:"cases"`
}

// Order is a confirmed sale for a client, owned by one employee
type Order struct {
	ID            string         `json:"id"`
	ClientID      string         `json:"client_id"`
	EmployeeID    string         `json:"employee_id"`
	LeadID        string         `json:"lead_id,omitempty"`
	LineItems     []LineItem     `json:"line_items"`
	Status        OrderStatus    `json:"status"`
	InvoiceID     string         `json:"invoice_id,omitempty"`
	SubmissionKey string         `json:"submission_key,omitempty"`
	DeliveryAt    *time.Time     `json:"delivery_at,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns an independent copy, with its own slices and pointers
func (o Order) Clone() Order {
	o.LineItems = slices.Clone(o.LineItems)
	o.History = slices.Clone(o.History)
	if o.DeliveryAt != nil {
		at := *o.DeliveryAt
		o.DeliveryAt = &at
	}
	return o
}

// TotalCases sums the case counts across all line items
func (o Order) TotalCases() int {
	total := 0
	for _, li := range o.LineItems {
		total += li.Cases
	}
	return total
}

// Invoice is immutable once created. Corrections are issued as a new
// invoice referencing the old one through SupersededBy, never edits.
// Monetary amounts are integer cents.
type Invoice struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id"`
	Lines         []LineItem `json:"lines"`
	SubtotalCents int64      `json:"subtotal_cents"`
	GSTCents      int64      `json:"gst_cents"`
	QSTCents      int64      `json:"qst_cents"`
	TotalCents    int64      `json:"total_cents"`
	Currency      string     `json:"currency"`
	DocumentRef   string     `json:"document_ref,omitempty"`
	SupersededBy  string     `json:"superseded_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Clone returns an independent copy, with its own line snapshot
func (i Invoice) Clone() Invoice {
	i.Lines = slices.Clone(i.Lines)
	return i
}

// EventType distinguishes calendar entries
type EventType string

const (
	EventDelivery EventType = "delivery"
	EventMeeting  EventType = "meeting"
)

// EventRef ties a calendar event back to the records it concerns
type EventRef struct {
	OrderID  string `json:"order_id,omitempty"`
	LeadID   string `json:"lead_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// CalendarEvent is a dated entry on the shared calendar. Delivery events
// are only ever created by scheduling an order.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	At        time.Time `json:"at"`
	Related   EventRef  `json:"related,omitempty"`
	VisibleTo []string  `json:"visible_to,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns an independent copy, with its own visibility list
func (e CalendarEvent) Clone() CalendarEvent {
	e.VisibleTo = slices.Clone(e.VisibleTo)
	return e
}

// Notification is a lightweight fact record for an employee or a role.
// Read and dismissed are flipped by commands; rows are never deleted.
type Notification struct {
	ID          string    `json:"id"`
	ForEmployee string    `json:"for_employee,omitempty"`
	ForRole     Role      `json:"for_role,omitempty"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text"`
	OpenURL     string    `json:"open_url,omitempty"`
	Read        bool      `json:"read"`
	Dismissed   bool      `json:"dismissed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns an independent copy
func (n Notification) Clone() Notification {
	return n
}

// SettingsID is the id of the singleton settings record
const SettingsID = "default"

// Settings is the singleton pricing and company configuration record
type Settings struct {
	ID                string    `json:"id"`
	CompanyName       string    `json:"company_name"`
	Currency          string    `json:"currency"`
	PricePerCaseCents int64     `json:"price_per_case_cents"`
	GSTRate           float64   `json:"gst_rate"`
	QSTRate           float64   `json:"qst_rate"`
	CansPerCase       int       `json:"cans_per_case"`
	MinCasesPerFlavor int       `json:"min_cases_per_flavor"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Clone returns an independent copy
func (s Settings) Clone() Settings {
	return s
}
