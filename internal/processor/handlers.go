package processor

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/render"
	"example.com/backstage/services/salesdesk/internal/rules"
	"example.com/backstage/services/salesdesk/internal/store"
)

// dispatch resolves the actor, checks the role gate and hands the
// envelope to its kind's handler. Everything it returns short of a
// storage error becomes a rejected outcome; handlers never call each
// other, so every cross-entity effect lives in one transaction.
func (p *Processor) dispatch(env command.Envelope, tx *store.Tx) (*effects, error) {
	role, err := actorRole(env, tx)
	if err != nil {
		return nil, err
	}
	if !auth.KindAllowed(role, env.Kind) {
		return nil, &rules.AuthorizationError{
			Actor:  env.Actor,
			Action: string(env.Kind),
			Reason: fmt.Sprintf("role %s may not submit this command", role),
		}
	}

	switch env.Kind {
	case command.KindImportLeads:
		return p.applyImportLeads(env, tx)
	case command.KindCreateLead:
		return p.applyCreateLead(env, tx)
	case command.KindUpdateLead:
		return p.applyUpdateLead(env, tx)
	case command.KindAssignLead:
		return p.applyAssignLead(env, tx)
	case command.KindAssignLeadsBulk:
		return p.applyAssignLeadsBulk(env, tx)
	case command.KindRejectLead:
		return p.applyRejectLead(env, tx)
	case command.KindFillRepInfo:
		return p.applyFillRepInfo(env, tx)
	case command.KindCreateOrder:
		return p.applyCreateOrder(env, role, tx)
	case command.KindGenerateInvoice:
		return p.applyGenerateInvoice(env, role, tx)
	case command.KindMarkPaid:
		return p.applyMarkPaid(env, role, tx)
	case command.KindScheduleDelivery:
		return p.applyScheduleDelivery(env, role, tx)
	case command.KindMarkFulfilled:
		return p.applyMarkFulfilled(env, tx)
	case command.KindCreateEmployee:
		return p.applyCreateEmployee(env, tx)
	case command.KindDisableEmployee:
		return p.applyDisableEmployee(env, tx)
	case command.KindResetPassword:
		return p.applyResetPassword(env, tx)
	case command.KindUpdateSettings:
		return p.applyUpdateSettings(env, tx)
	case command.KindCreateCalendarEvent:
		return p.applyCreateCalendarEvent(env, role, tx)
	case command.KindMarkNotificationRead:
		return p.applyMarkNotificationRead(env, role, tx)
	case command.KindDismissNotification:
		return p.applyDismissNotification(env, role, tx)
	}
	return nil, errors.Errorf("no handler for command kind %q", env.Kind)
}

// actorRole resolves the envelope's actor to a role. The reserved system
// actor carries admin rights; everyone else must be an active employee.
func actorRole(env command.Envelope, tx *store.Tx) (models.Role, error) {
	if env.Actor == auth.SystemActor {
		return models.RoleAdmin, nil
	}
	emp, ok := tx.Employee(env.Actor)
	if !ok {
		return "", &rules.AuthorizationError{Actor: env.Actor, Action: string(env.Kind), Reason: "unknown actor"}
	}
	if !emp.Active {
		return "", &rules.AuthorizationError{Actor: env.Actor, Action: string(env.Kind), Reason: "account disabled"}
	}
	return emp.Role, nil
}

func now() time.Time {
	return time.Now().UTC()
}

func historyEntry(actor, action, detail string) models.HistoryEntry {
	return models.HistoryEntry{At: now(), Actor: actor, Action: action, Detail: detail}
}

func notifyEmployee(tx *store.Tx, employeeID, kind, text, openURL string) {
	tx.PutNotification(models.Notification{
		ID:          tx.NextNotificationID(),
		ForEmployee: employeeID,
		Kind:        kind,
		Text:        text,
		OpenURL:     openURL,
		CreatedAt:   now(),
	})
}

func notifyRole(tx *store.Tx, role models.Role, kind, text, openURL string) {
	tx.PutNotification(models.Notification{
		ID:        tx.NextNotificationID(),
		ForRole:   role,
		Kind:      kind,
		Text:      text,
		OpenURL:   openURL,
		CreatedAt: now(),
	})
}

// requireOrderOwner enforces the ownership rule on order commands:
// admins act on any order, employees only on their own. Delivery staff
// never reach this check; their one command fulfills any scheduled order.
func requireOrderOwner(role models.Role, actor string, o models.Order, action command.Kind) error {
	if role != models.RoleEmployee || o.EmployeeID == actor {
		return nil
	}
	return &rules.AuthorizationError{Actor: actor, Action: string(action), Reason: "order belongs to another employee"}
}

func (p *Processor) applyImportLeads(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.ImportLeadsPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}

	// A batch stamp already present in the store means a previous apply
	// committed but crashed before the envelope was relocated. Report the
	// existing leads instead of importing twice.
	if pl.BatchKey != "" {
		if existing := tx.LeadsBySourceBatch(pl.BatchKey); len(existing) > 0 {
			eff := &effects{duplicate: true}
			for i, l := range existing {
				eff.rows = append(eff.rows, RowResult{Row: i + 1, Ref: l.ID})
			}
			return eff, nil
		}
	}

	if len(pl.Rows) == 0 {
		return nil, rules.NewValidation("rows", "at least one row required")
	}

	eff := &effects{}
	ts := now()
	for i, row := range pl.Rows {
		if strings.TrimSpace(row.Business) == "" {
			eff.rows = append(eff.rows, RowResult{Row: i + 1, Error: "business name required"})
			continue
		}
		lead := leadFromRow(tx.NextLeadID(), row, pl.BatchKey, ts)
		lead.History = append(lead.History, historyEntry(env.Actor, "import", "batch "+pl.BatchKey))
		tx.PutLead(lead)
		eff.rows = append(eff.rows, RowResult{Row: i + 1, Ref: lead.ID})
		eff.leads = append(eff.leads, lead)
		eff.imported++
	}

	if eff.imported > 0 {
		notifyRole(tx, models.RoleAdmin, "leads_imported",
			fmt.Sprintf("%d new leads imported", eff.imported), "/leads")
	}
	return eff, nil
}

func leadFromRow(id string, row command.LeadRow, batch string, ts time.Time) models.Lead {
	return models.Lead{
		ID:             id,
		Business:       strings.TrimSpace(row.Business),
		ContactName:    strings.TrimSpace(row.ContactName),
		Phone:          strings.TrimSpace(row.Phone),
		Email:          strings.TrimSpace(row.Email),
		Region:         strings.TrimSpace(row.Region),
		FlavorInterest: strings.TrimSpace(row.FlavorInterest),
		Status:         models.LeadNew,
		SourceBatch:    batch,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

func (p *Processor) applyCreateLead(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.CreateLeadPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	if strings.TrimSpace(pl.Business) == "" {
		return nil, rules.NewValidation("business", "business name required")
	}

	lead := leadFromRow(tx.NextLeadID(), pl.LeadRow, "", now())
	lead.History = append(lead.History, historyEntry(env.Actor, "create", ""))
	tx.PutLead(lead)

	return &effects{recordID: lead.ID, leads: []models.Lead{lead}}, nil
}

func (p *Processor) applyUpdateLead(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.UpdateLeadPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	lead, ok := tx.Lead(pl.LeadID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "lead", ID: pl.LeadID}
	}
	if lead.Status == models.LeadConverted {
		return nil, &rules.InvalidStateError{
			Entity:    "lead",
			ID:        lead.ID,
			Current:   string(lead.Status),
			Requested: "update",
		}
	}

	var changed []string
	set := func(dst *string, src *string, name string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
			changed = append(changed, name)
		}
	}
	set(&lead.Business, pl.Business, "business")
	set(&lead.ContactName, pl.ContactName, "contact_name")
	set(&lead.Phone, pl.Phone, "phone")
	set(&lead.Email, pl.Email, "email")
	set(&lead.Region, pl.Region, "region")
	set(&lead.FlavorInterest, pl.FlavorInterest, "flavor_interest")

	if len(changed) == 0 {
		return nil, rules.NewValidation("fields", "nothing to update")
	}
	if strings.TrimSpace(lead.Business) == "" {
		return nil, rules.NewValidation("business", "business name required")
	}

	lead.History = append(lead.History, historyEntry(env.Actor, "update", strings.Join(changed, ", ")))
	lead.UpdatedAt = now()
	tx.PutLead(lead)

	return &effects{recordID: lead.ID, leads: []models.Lead{lead}}, nil
}

// assignOne moves a single new lead to an employee. Shared by the single
// and bulk assign handlers; the caller has already vetted the employee.
func assignOne(tx *store.Tx, actor string, leadID string, emp models.Employee) (models.Lead, error) {
	lead, ok := tx.Lead(leadID)
	if !ok {
		return models.Lead{}, &rules.NotFoundError{Table: "lead", ID: leadID}
	}
	if lead.Status != models.LeadNew {
		return models.Lead{}, &rules.InvalidStateError{
			Entity:    "lead",
			ID:        lead.ID,
			Current:   string(lead.Status),
			Requested: string(models.LeadAssigned),
		}
	}
	lead.Status = models.LeadAssigned
	lead.AssignedTo = emp.ID
	lead.History = append(lead.History, historyEntry(actor, "assign", "to "+emp.ID))
	lead.UpdatedAt = now()
	tx.PutLead(lead)
	return lead, nil
}

// vetAssignee checks that the assignment target exists and is active.
// Assigning to a disabled account is an invalid state, not a validation
// problem: the record exists, its state refuses the work.
func vetAssignee(tx *store.Tx, employeeID string) (models.Employee, error) {
	emp, ok := tx.Employee(employeeID)
	if !ok {
		return models.Employee{}, &rules.NotFoundError{Table: "employee", ID: employeeID}
	}
	if !emp.Active {
		return models.Employee{}, &rules.InvalidStateError{
			Entity:    "employee",
			ID:        emp.ID,
			Current:   "disabled",
			Requested: "active",
		}
	}
	return emp, nil
}

func (p *Processor) applyAssignLead(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.AssignLeadPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	emp, err := vetAssignee(tx, pl.EmployeeID)
	if err != nil {
		return nil, err
	}
	lead, err := assignOne(tx, env.Actor, pl.LeadID, emp)
	if err != nil {
		return nil, err
	}

	notifyEmployee(tx, emp.ID, "lead_assigned",
		fmt.Sprintf("Lead %s (%s) assigned to you", lead.ID, lead.Business), "/leads/"+lead.ID)

	return &effects{recordID: lead.ID, leads: []models.Lead{lead}}, nil
}

func (p *Processor) applyAssignLeadsBulk(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.AssignLeadsBulkPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	if len(pl.LeadIDs) == 0 {
		return nil, rules.NewValidation("lead_ids", "at least one lead id required")
	}
	emp, err := vetAssignee(tx, pl.EmployeeID)
	if err != nil {
		return nil, err
	}

	eff := &effects{recordID: emp.ID}
	assigned := 0
	for i, leadID := range pl.LeadIDs {
		lead, err := assignOne(tx, env.Actor, leadID, emp)
		if err != nil {
			eff.rows = append(eff.rows, RowResult{Row: i + 1, Ref: leadID, Error: err.Error()})
			continue
		}
		eff.rows = append(eff.rows, RowResult{Row: i + 1, Ref: lead.ID})
		eff.leads = append(eff.leads, lead)
		assigned++
	}

	if assigned > 0 {
		notifyEmployee(tx, emp.ID, "leads_assigned",
			fmt.Sprintf("%d leads assigned to you", assigned), "/leads")
	}
	return eff, nil
}

func (p *Processor) applyRejectLead(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.RejectLeadPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	lead, ok := tx.Lead(pl.LeadID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "lead", ID: pl.LeadID}
	}
	if lead.Status == models.LeadConverted {
		return nil, &rules.InvalidStateError{
			Entity:    "lead",
			ID:        lead.ID,
			Current:   string(lead.Status),
			Requested: string(models.LeadRejected),
		}
	}

	lead.Status = models.LeadRejected
	lead.History = append(lead.History, historyEntry(env.Actor, "reject", pl.Reason))
	lead.UpdatedAt = now()
	tx.PutLead(lead)

	return &effects{recordID: lead.ID, leads: []models.Lead{lead}}, nil
}

func (p *Processor) applyFillRepInfo(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.FillRepInfoPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	lead, ok := tx.Lead(pl.LeadID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "lead", ID: pl.LeadID}
	}
	if lead.AssignedTo != env.Actor {
		return nil, &rules.AuthorizationError{
			Actor:  env.Actor,
			Action: string(env.Kind),
			Reason: "lead is assigned to someone else",
		}
	}
	if strings.TrimSpace(pl.RepName) == "" {
		return nil, rules.NewValidation("rep_name", "rep name required")
	}

	lead.RepName = strings.TrimSpace(pl.RepName)
	lead.RepPhone = strings.TrimSpace(pl.RepPhone)
	lead.RepEmail = strings.TrimSpace(pl.RepEmail)
	lead.RepAddress = strings.TrimSpace(pl.RepAddress)
	lead.History = append(lead.History, historyEntry(env.Actor, "rep_info", ""))
	lead.UpdatedAt = now()
	tx.PutLead(lead)

	return &effects{recordID: lead.ID, leads: []models.Lead{lead}}, nil
}

func (p *Processor) applyCreateOrder(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.CreateOrderPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	lead, ok := tx.Lead(pl.LeadID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "lead", ID: pl.LeadID}
	}
	if role == models.RoleEmployee && lead.AssignedTo != env.Actor {
		return nil, &rules.AuthorizationError{
			Actor:  env.Actor,
			Action: string(env.Kind),
			Reason: "lead is assigned to someone else",
		}
	}
	if lead.Status == models.LeadRejected {
		return nil, &rules.InvalidStateError{
			Entity:    "lead",
			ID:        lead.ID,
			Current:   string(lead.Status),
			Requested: string(models.LeadConverted),
		}
	}

	// A submission key already stamped on an order means this is a replay
	// of a command whose commit survived a crash. Return the order it made.
	if o, ok := tx.OrderBySubmissionKey(env.IdempotencyKey); ok {
		return &effects{recordID: o.ID, duplicate: true}, nil
	}

	settings := tx.Settings()
	if verr := rules.ValidateOrderLines(pl.Lines, settings.MinCasesPerFlavor); verr != nil {
		return nil, verr
	}

	// The order must belong to a real account: the lead's assignee when
	// there is one, otherwise the submitting admin.
	employeeID := lead.AssignedTo
	if employeeID == "" {
		employeeID = env.Actor
	}
	if _, ok := tx.Employee(employeeID); !ok {
		return nil, &rules.NotFoundError{Table: "employee", ID: employeeID}
	}

	ts := now()
	if lead.ClientID == "" {
		client := models.Client{
			ID:          tx.NextClientID(),
			Business:    lead.Business,
			ContactName: lead.ContactName,
			Phone:       lead.Phone,
			Email:       lead.Email,
			Region:      lead.Region,
			RepName:     lead.RepName,
			RepPhone:    lead.RepPhone,
			RepEmail:    lead.RepEmail,
			RepAddress:  lead.RepAddress,
			LeadID:      lead.ID,
			CreatedAt:   ts,
		}
		tx.PutClient(client)
		lead.ClientID = client.ID
	}

	order := models.Order{
		ID:            tx.NextOrderID(),
		ClientID:      lead.ClientID,
		EmployeeID:    employeeID,
		LeadID:        lead.ID,
		LineItems:     slices.Clone(pl.Lines),
		Status:        models.OrderDraft,
		SubmissionKey: env.IdempotencyKey,
		History:       []models.HistoryEntry{historyEntry(env.Actor, "created", "")},
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	tx.PutOrder(order)

	lead.Status = models.LeadConverted
	lead.History = append(lead.History, historyEntry(env.Actor, "order_create", order.ID))
	lead.UpdatedAt = ts
	tx.PutLead(lead)

	return &effects{
		recordID: order.ID,
		leads:    []models.Lead{lead},
		orders:   []models.Order{order},
	}, nil
}

func (p *Processor) applyGenerateInvoice(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.GenerateInvoicePayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	order, ok := tx.Order(pl.OrderID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "order", ID: pl.OrderID}
	}
	if err := requireOrderOwner(role, env.Actor, order, env.Kind); err != nil {
		return nil, err
	}

	var superseded models.Invoice
	if pl.Supersede {
		if order.InvoiceID == "" {
			return nil, rules.NewValidation("supersede", "order has no invoice to supersede")
		}
		superseded, ok = tx.Invoice(order.InvoiceID)
		if !ok {
			return nil, &rules.NotFoundError{Table: "invoice", ID: order.InvoiceID}
		}
	} else if verr := rules.ValidateTransition(order.ID, order.Status, models.OrderInvoiced); verr != nil {
		return nil, verr
	}

	totals := rules.ComputeTotals(order.LineItems, tx.Settings())
	id := tx.NextInvoiceID()
	inv := models.Invoice{
		ID:            id,
		OrderID:       order.ID,
		Lines:         slices.Clone(order.LineItems),
		SubtotalCents: totals.SubtotalCents,
		GSTCents:      totals.GSTCents,
		QSTCents:      totals.QSTCents,
		TotalCents:    totals.TotalCents,
		Currency:      totals.Currency,
		DocumentRef:   render.DocumentRef(p.renderer, id),
		CreatedAt:     now(),
	}
	tx.PutInvoice(inv)

	if pl.Supersede {
		// The one mutation ever made to an existing invoice: pointing it
		// at its replacement.
		superseded.SupersededBy = inv.ID
		tx.PutInvoice(superseded)
		order.History = append(order.History, historyEntry(env.Actor, "invoice_superseded", superseded.ID+" -> "+inv.ID))
	} else {
		order.Status = models.OrderInvoiced
		order.History = append(order.History, historyEntry(env.Actor, "invoice", inv.ID))
	}
	order.InvoiceID = inv.ID
	order.UpdatedAt = now()
	tx.PutOrder(order)

	return &effects{recordID: inv.ID, orders: []models.Order{order}}, nil
}

func (p *Processor) applyMarkPaid(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.MarkPaidPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	order, ok := tx.Order(pl.OrderID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "order", ID: pl.OrderID}
	}
	if err := requireOrderOwner(role, env.Actor, order, env.Kind); err != nil {
		return nil, err
	}
	if verr := rules.ValidateTransition(order.ID, order.Status, models.OrderPaid); verr != nil {
		return nil, verr
	}

	order.Status = models.OrderPaid
	order.History = append(order.History, historyEntry(env.Actor, "paid", ""))
	order.UpdatedAt = now()
	tx.PutOrder(order)

	notifyRole(tx, models.RoleAdmin, "order_paid",
		fmt.Sprintf("Order %s marked as paid", order.ID), "/orders/"+order.ID)

	return &effects{recordID: order.ID, orders: []models.Order{order}}, nil
}

func (p *Processor) applyScheduleDelivery(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.ScheduleDeliveryPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	if pl.DeliveryAt.IsZero() {
		return nil, rules.NewValidation("delivery_at", "delivery time required")
	}
	order, ok := tx.Order(pl.OrderID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "order", ID: pl.OrderID}
	}
	if err := requireOrderOwner(role, env.Actor, order, env.Kind); err != nil {
		return nil, err
	}
	if verr := rules.ValidateTransition(order.ID, order.Status, models.OrderScheduled); verr != nil {
		return nil, verr
	}
	client, ok := tx.Client(order.ClientID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "client", ID: order.ClientID}
	}

	at := pl.DeliveryAt.UTC()
	event := models.CalendarEvent{
		ID:        tx.NextEventID(),
		Type:      models.EventDelivery,
		Title:     "Delivery - " + client.Business,
		At:        at,
		Related:   models.EventRef{OrderID: order.ID, LeadID: order.LeadID, ClientID: client.ID},
		VisibleTo: visibility("admin", env.Actor, string(models.RoleDelivery)),
		CreatedBy: env.Actor,
		CreatedAt: now(),
	}
	tx.PutEvent(event)

	order.Status = models.OrderScheduled
	order.DeliveryAt = &at
	order.History = append(order.History, historyEntry(env.Actor, "scheduled", at.Format("2006-01-02 15:04")))
	order.UpdatedAt = now()
	tx.PutOrder(order)

	notifyRole(tx, models.RoleAdmin, "delivery_scheduled",
		fmt.Sprintf("Order %s delivery scheduled for %s", order.ID, at.Format("2006-01-02 15:04")),
		"/orders/"+order.ID)

	return &effects{recordID: order.ID, orders: []models.Order{order}}, nil
}

func (p *Processor) applyMarkFulfilled(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.MarkFulfilledPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	order, ok := tx.Order(pl.OrderID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "order", ID: pl.OrderID}
	}
	if verr := rules.ValidateTransition(order.ID, order.Status, models.OrderFulfilled); verr != nil {
		return nil, verr
	}

	order.Status = models.OrderFulfilled
	order.History = append(order.History, historyEntry(env.Actor, "fulfilled", ""))
	order.UpdatedAt = now()
	tx.PutOrder(order)

	return &effects{recordID: order.ID, orders: []models.Order{order}}, nil
}

func (p *Processor) applyCreateEmployee(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.CreateEmployeePayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	username := strings.ToLower(strings.TrimSpace(pl.Username))
	if username == "" {
		return nil, rules.NewValidation("username", "username required")
	}
	if pl.PasswordHash == "" {
		return nil, rules.NewValidation("password", "password hash missing")
	}
	if _, taken := tx.EmployeeByUsername(username); taken {
		return nil, rules.NewValidation("username", "already taken")
	}

	// Only worker roles are creatable through the API; admins come from
	// the seed.
	role := pl.Role
	if role != models.RoleEmployee && role != models.RoleDelivery {
		role = models.RoleEmployee
	}
	name := strings.TrimSpace(pl.Name)
	if name == "" {
		name = username
	}

	emp := models.Employee{
		ID:           tx.NextEmployeeID(),
		Username:     username,
		PasswordHash: pl.PasswordHash,
		Name:         name,
		Role:         role,
		Active:       true,
		CreatedAt:    now(),
	}
	tx.PutEmployee(emp)

	return &effects{recordID: emp.ID}, nil
}

func (p *Processor) applyDisableEmployee(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.DisableEmployeePayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	emp, ok := tx.Employee(pl.EmployeeID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "employee", ID: pl.EmployeeID}
	}

	// Assignments and orders keep pointing at the account; it only stops
	// being able to log in or receive new work.
	emp.Active = false
	tx.PutEmployee(emp)

	return &effects{recordID: emp.ID, revoke: emp.ID}, nil
}

func (p *Processor) applyResetPassword(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.ResetPasswordPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	if pl.PasswordHash == "" {
		return nil, rules.NewValidation("password", "password hash missing")
	}
	emp, ok := tx.Employee(pl.EmployeeID)
	if !ok {
		return nil, &rules.NotFoundError{Table: "employee", ID: pl.EmployeeID}
	}

	emp.PasswordHash = pl.PasswordHash
	tx.PutEmployee(emp)

	return &effects{recordID: emp.ID, revoke: emp.ID}, nil
}

func (p *Processor) applyUpdateSettings(env command.Envelope, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.UpdateSettingsPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}

	switch {
	case pl.PricePerCase <= 0:
		return nil, rules.NewValidation("price_per_case", "must be greater than zero")
	case pl.GSTRate < 0 || pl.GSTRate >= 1:
		return nil, rules.NewValidation("gst_rate", "must be a fraction between 0 and 1")
	case pl.QSTRate < 0 || pl.QSTRate >= 1:
		return nil, rules.NewValidation("qst_rate", "must be a fraction between 0 and 1")
	case pl.CansPerCase < 1:
		return nil, rules.NewValidation("cans_per_case", "must be at least 1")
	case pl.MinCasesPerFlavor < 1:
		return nil, rules.NewValidation("min_cases_per_flavor", "must be at least 1")
	}

	s := tx.Settings()
	if name := strings.TrimSpace(pl.CompanyName); name != "" {
		s.CompanyName = name
	}
	if cur := strings.ToUpper(strings.TrimSpace(pl.Currency)); cur != "" {
		s.Currency = cur
	}
	s.PricePerCaseCents = rules.DollarsToCents(pl.PricePerCase)
	s.GSTRate = pl.GSTRate
	s.QSTRate = pl.QSTRate
	s.CansPerCase = pl.CansPerCase
	s.MinCasesPerFlavor = pl.MinCasesPerFlavor
	s.UpdatedAt = now()
	tx.SetSettings(s)

	return &effects{recordID: models.SettingsID}, nil
}

func (p *Processor) applyCreateCalendarEvent(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.CreateCalendarEventPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	title := strings.TrimSpace(pl.Title)
	if title == "" {
		return nil, rules.NewValidation("title", "title required")
	}
	if pl.At.IsZero() {
		return nil, rules.NewValidation("at", "event time required")
	}
	if pl.Related.OrderID != "" {
		if _, ok := tx.Order(pl.Related.OrderID); !ok {
			return nil, &rules.NotFoundError{Table: "order", ID: pl.Related.OrderID}
		}
	}
	if pl.Related.LeadID != "" {
		if _, ok := tx.Lead(pl.Related.LeadID); !ok {
			return nil, &rules.NotFoundError{Table: "lead", ID: pl.Related.LeadID}
		}
	}
	if pl.Related.ClientID != "" {
		if _, ok := tx.Client(pl.Related.ClientID); !ok {
			return nil, &rules.NotFoundError{Table: "client", ID: pl.Related.ClientID}
		}
	}

	event := models.CalendarEvent{
		ID:        tx.NextEventID(),
		Type:      models.EventMeeting,
		Title:     title,
		At:        pl.At.UTC(),
		Related:   pl.Related,
		VisibleTo: visibility(append([]string{"admin", env.Actor}, pl.VisibleTo...)...),
		CreatedBy: env.Actor,
		CreatedAt: now(),
	}
	tx.PutEvent(event)

	if role != models.RoleAdmin {
		notifyRole(tx, models.RoleAdmin, "event_created",
			fmt.Sprintf("%s added %q to the calendar", env.Actor, title), "/events")
	}

	return &effects{recordID: event.ID}, nil
}

func (p *Processor) applyMarkNotificationRead(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.MarkNotificationReadPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	n, err := notificationForActor(tx, pl.NotificationID, env.Actor, role)
	if err != nil {
		return nil, err
	}

	n.Read = true
	tx.PutNotification(n)

	return &effects{recordID: n.ID}, nil
}

func (p *Processor) applyDismissNotification(env command.Envelope, role models.Role, tx *store.Tx) (*effects, error) {
	pl, err := command.Decode[command.DismissNotificationPayload](env)
	if err != nil {
		return nil, rules.NewValidation("payload", err.Error())
	}
	n, err := notificationForActor(tx, pl.NotificationID, env.Actor, role)
	if err != nil {
		return nil, err
	}

	n.Read = true
	n.Dismissed = true
	tx.PutNotification(n)

	return &effects{recordID: n.ID}, nil
}

// notificationForActor loads a notification and checks the actor may act
// on it: it is addressed to them, to their role, or they are an admin.
func notificationForActor(tx *store.Tx, id, actor string, role models.Role) (models.Notification, error) {
	n, ok := tx.Notification(id)
	if !ok {
		return models.Notification{}, &rules.NotFoundError{Table: "notification", ID: id}
	}
	if n.ForEmployee == actor || (n.ForRole != "" && n.ForRole == role) || role == models.RoleAdmin {
		return n, nil
	}
	return models.Notification{}, &rules.AuthorizationError{
		Actor:  actor,
		Action: "act on notification " + id,
		Reason: "notification is addressed to someone else",
	}
}

// visibility builds a deduplicated visibility list, keeping first
// occurrence order. Entries mix role names and employee ids.
func visibility(entries ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
