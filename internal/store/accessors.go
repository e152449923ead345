package store

import (
	"example.com/backstage/services/salesdesk/internal/models"
)

// Snapshot is a consistent read-only view over all tables. Returned
// records are independent copies.
type Snapshot struct {
	st *state
}

// Employee looks up an employee by id
func (s *Snapshot) Employee(id string) (models.Employee, bool) {
	e, ok := s.st.employees.Records[id]
	return e.Clone(), ok
}

// EmployeeByUsername looks up an employee by login name
func (s *Snapshot) EmployeeByUsername(username string) (models.Employee, bool) {
	for _, e := range s.st.employees.Records {
		if e.Username == username {
			return e.Clone(), true
		}
	}
	return models.Employee{}, false
}

// Employees lists all employees in id order
func (s *Snapshot) Employees() []models.Employee {
	out := sortedByID(s.st.employees.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Lead looks up a lead by id
func (s *Snapshot) Lead(id string) (models.Lead, bool) {
	l, ok := s.st.leads.Records[id]
	return l.Clone(), ok
}

// Leads lists all leads in id order
func (s *Snapshot) Leads() []models.Lead {
	out := sortedByID(s.st.leads.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Client looks up a client by id
func (s *Snapshot) Client(id string) (models.Client, bool) {
	c, ok := s.st.clients.Records[id]
	return c.Clone(), ok
}

// Clients lists all clients in id order
func (s *Snapshot) Clients() []models.Client {
	out := sortedByID(s.st.clients.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Order looks up an order by id
func (s *Snapshot) Order(id string) (models.Order, bool) {
	o, ok := s.st.orders.Records[id]
	return o.Clone(), ok
}

// Orders lists all orders in id order
func (s *Snapshot) Orders() []models.Order {
	out := sortedByID(s.st.orders.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Invoice looks up an invoice by id
func (s *Snapshot) Invoice(id string) (models.Invoice, bool) {
	inv, ok := s.st.invoices.Records[id]
	return inv.Clone(), ok
}

// Invoices lists all invoices in id order
func (s *Snapshot) Invoices() []models.Invoice {
	out := sortedByID(s.st.invoices.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Event looks up a calendar event by id
func (s *Snapshot) Event(id string) (models.CalendarEvent, bool) {
	e, ok := s.st.calendar.Records[id]
	return e.Clone(), ok
}

// Events lists all calendar events in id order
func (s *Snapshot) Events() []models.CalendarEvent {
	out := sortedByID(s.st.calendar.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Notification looks up a notification by id
func (s *Snapshot) Notification(id string) (models.Notification, bool) {
	n, ok := s.st.notifications.Records[id]
	return n.Clone(), ok
}

// Notifications lists all notifications in id order
func (s *Snapshot) Notifications() []models.Notification {
	out := sortedByID(s.st.notifications.Records)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// Settings returns the singleton settings record
func (s *Snapshot) Settings() models.Settings {
	return s.st.settings.Records[models.SettingsID].Clone()
}

// Tx is a working copy of the state. Tables are cloned on first touch;
// reads and writes see the transaction's own mutations. Commit happens
// in Store.Update when the transaction function returns nil.
type Tx struct {
	dir    string
	st     state
	cloned map[string]bool
	dirty  map[string]bool
}

func (tx *Tx) employeesTbl() *tableFile[models.Employee] {
	if !tx.cloned[TableEmployees] {
		tx.st.employees = cloneTable(tx.st.employees)
		tx.cloned[TableEmployees] = true
	}
	return &tx.st.employees
}

func (tx *Tx) leadsTbl() *tableFile[models.Lead] {
	if !tx.cloned[TableLeads] {
		tx.st.leads = cloneTable(tx.st.leads)
		tx.cloned[TableLeads] = true
	}
	return &tx.st.leads
}

func (tx *Tx) clientsTbl() *tableFile[models.Client] {
	if !tx.cloned[TableClients] {
		tx.st.clients = cloneTable(tx.st.clients)
		tx.cloned[TableClients] = true
	}
	return &tx.st.clients
}

func (tx *Tx) ordersTbl() *tableFile[models.Order] {
	if !tx.cloned[TableOrders] {
		tx.st.orders = cloneTable(tx.st.orders)
		tx.cloned[TableOrders] = true
	}
	return &tx.st.orders
}

func (tx *Tx) invoicesTbl() *tableFile[models.Invoice] {
	if !tx.cloned[TableInvoices] {
		tx.st.invoices = cloneTable(tx.st.invoices)
		tx.cloned[TableInvoices] = true
	}
	return &tx.st.invoices
}

func (tx *Tx) calendarTbl() *tableFile[models.CalendarEvent] {
	if !tx.cloned[TableCalendar] {
		tx.st.calendar = cloneTable(tx.st.calendar)
		tx.cloned[TableCalendar] = true
	}
	return &tx.st.calendar
}

func (tx *Tx) notificationsTbl() *tableFile[models.Notification] {
	if !tx.cloned[TableNotifications] {
		tx.st.notifications = cloneTable(tx.st.notifications)
		tx.cloned[TableNotifications] = true
	}
	return &tx.st.notifications
}

func (tx *Tx) settingsTbl() *tableFile[models.Settings] {
	if !tx.cloned[TableSettings] {
		tx.st.settings = cloneTable(tx.st.settings)
		tx.cloned[TableSettings] = true
	}
	return &tx.st.settings
}

// Employee looks up an employee by id
func (tx *Tx) Employee(id string) (models.Employee, bool) {
	e, ok := tx.employeesTbl().Records[id]
	return e, ok
}

// EmployeeByUsername looks up an employee by login name
func (tx *Tx) EmployeeByUsername(username string) (models.Employee, bool) {
	for _, e := range tx.employeesTbl().Records {
		if e.Username == username {
			return e, true
		}
	}
	return models.Employee{}, false
}

// Employees lists all employees in id order
func (tx *Tx) Employees() []models.Employee {
	return sortedByID(tx.employeesTbl().Records)
}

// PutEmployee inserts or replaces an employee
func (tx *Tx) PutEmployee(e models.Employee) {
	tx.employeesTbl().Records[e.ID] = e
	tx.dirty[TableEmployees] = true
}

// NextEmployeeID issues a fresh employee id. Ids are never reused, even
// across restarts.
func (tx *Tx) NextEmployeeID() string {
	t := tx.employeesTbl()
	t.Seq++
	tx.dirty[TableEmployees] = true
	return formatID("U", t.Seq)
}

// Lead looks up a lead by id
func (tx *Tx) Lead(id string) (models.Lead, bool) {
	l, ok := tx.leadsTbl().Records[id]
	return l, ok
}

// Leads lists all leads in id order
func (tx *Tx) Leads() []models.Lead {
	return sortedByID(tx.leadsTbl().Records)
}

// LeadsBySourceBatch lists leads stamped with the given import batch key
func (tx *Tx) LeadsBySourceBatch(batch string) []models.Lead {
	var out []models.Lead
	for _, l := range sortedByID(tx.leadsTbl().Records) {
		if l.SourceBatch == batch {
			out = append(out, l)
		}
	}
	return out
}

// PutLead inserts or replaces a lead
func (tx *Tx) PutLead(l models.Lead) {
	tx.leadsTbl().Records[l.ID] = l
	tx.dirty[TableLeads] = true
}

// NextLeadID issues a fresh lead id
func (tx *Tx) NextLeadID() string {
	t := tx.leadsTbl()
	t.Seq++
	tx.dirty[TableLeads] = true
	return formatID("L", t.Seq)
}

// Client looks up a client by id
func (tx *Tx) Client(id string) (models.Client, bool) {
	c, ok := tx.clientsTbl().Records[id]
	return c, ok
}

// PutClient inserts or replaces a client
func (tx *Tx) PutClient(c models.Client) {
	tx.clientsTbl().Records[c.ID] = c
	tx.dirty[TableClients] = true
}

// NextClientID issues a fresh client id
func (tx *Tx) NextClientID() string {
	t := tx.clientsTbl()
	t.Seq++
	tx.dirty[TableClients] = true
	return formatID("C", t.Seq)
}

// Order looks up an order by id
func (tx *Tx) Order(id string) (models.Order, bool) {
	o, ok := tx.ordersTbl().Records[id]
	return o, ok
}

// OrderBySubmissionKey finds the order stamped with the given
// idempotency key, if any
func (tx *Tx) OrderBySubmissionKey(key string) (models.Order, bool) {
	if key == "" {
		return models.Order{}, false
	}
	for _, o := range tx.ordersTbl().Records {
		if o.SubmissionKey == key {
			return o, true
		}
	}
	return models.Order{}, false
}

// Orders lists all orders in id order
func (tx *Tx) Orders() []models.Order {
	return sortedByID(tx.ordersTbl().Records)
}

// PutOrder inserts or replaces an order
func (tx *Tx) PutOrder(o models.Order) {
	tx.ordersTbl().Records[o.ID] = o
	tx.dirty[TableOrders] = true
}

// NextOrderID issues a fresh order id
func (tx *Tx) NextOrderID() string {
	t := tx.ordersTbl()
	t.Seq++
	tx.dirty[TableOrders] = true
	return formatID("O", t.Seq)
}

// Invoice looks up an invoice by id
func (tx *Tx) Invoice(id string) (models.Invoice, bool) {
	inv, ok := tx.invoicesTbl().Records[id]
	return inv, ok
}

// PutInvoice inserts or replaces an invoice
func (tx *Tx) PutInvoice(inv models.Invoice) {
	tx.invoicesTbl().Records[inv.ID] = inv
	tx.dirty[TableInvoices] = true
}

// NextInvoiceID issues a fresh invoice id
func (tx *Tx) NextInvoiceID() string {
	t := tx.invoicesTbl()
	t.Seq++
	tx.dirty[TableInvoices] = true
	return formatID("I", t.Seq)
}

// Event looks up a calendar event by id
func (tx *Tx) Event(id string) (models.CalendarEvent, bool) {
	e, ok := tx.calendarTbl().Records[id]
	return e, ok
}

// DeliveryEventForOrder finds the delivery event referencing an order,
// if one exists
func (tx *Tx) DeliveryEventForOrder(orderID string) (models.CalendarEvent, bool) {
	for _, e := range tx.calendarTbl().Records {
		if e.Type == models.EventDelivery && e.Related.OrderID == orderID {
			return e, true
		}
	}
	return models.CalendarEvent{}, false
}

// Events lists all calendar events in id order
func (tx *Tx) Events() []models.CalendarEvent {
	return sortedByID(tx.calendarTbl().Records)
}

// PutEvent inserts or replaces a calendar event
func (tx *Tx) PutEvent(e models.CalendarEvent) {
	tx.calendarTbl().Records[e.ID] = e
	tx.dirty[TableCalendar] = true
}

// NextEventID issues a fresh calendar event id
func (tx *Tx) NextEventID() string {
	t := tx.calendarTbl()
	t.Seq++
	tx.dirty[TableCalendar] = true
	return formatID("E", t.Seq)
}

// Notification looks up a notification by id
func (tx *Tx) Notification(id string) (models.Notification, bool) {
	n, ok := tx.notificationsTbl().Records[id]
	return n, ok
}

// Notifications lists all notifications in id order
func (tx *Tx) Notifications() []models.Notification {
	return sortedByID(tx.notificationsTbl().Records)
}

// PutNotification inserts or replaces a notification
func (tx *Tx) PutNotification(n models.Notification) {
	tx.notificationsTbl().Records[n.ID] = n
	tx.dirty[TableNotifications] = true
}

// NextNotificationID issues a fresh notification id
func (tx *Tx) NextNotificationID() string {
	t := tx.notificationsTbl()
	t.Seq++
	tx.dirty[TableNotifications] = true
	return formatID("N", t.Seq)
}

// Settings returns the singleton settings record
func (tx *Tx) Settings() models.Settings {
	return tx.settingsTbl().Records[models.SettingsID]
}

// SetSettings replaces the singleton settings record
func (tx *Tx) SetSettings(s models.Settings) {
	s.ID = models.SettingsID
	tx.settingsTbl().Records[s.ID] = s
	tx.dirty[TableSettings] = true
}

// flush writes every mutated table, in fixed order, as an atomic file
// replace. The first failure stops the pass.
func (tx *Tx) flush() error {
	for _, name := range tableNames {
		if !tx.dirty[name] {
			continue
		}
		var err error
		switch name {
		case TableEmployees:
			err = saveTable(tx.dir, name, tx.st.employees)
		case TableLeads:
			err = saveTable(tx.dir, name, tx.st.leads)
		case TableClients:
			err = saveTable(tx.dir, name, tx.st.clients)
		case TableOrders:
			err = saveTable(tx.dir, name, tx.st.orders)
		case TableInvoices:
			err = saveTable(tx.dir, name, tx.st.invoices)
		case TableCalendar:
			err = saveTable(tx.dir, name, tx.st.calendar)
		case TableNotifications:
			err = saveTable(tx.dir, name, tx.st.notifications)
		case TableSettings:
			err = saveTable(tx.dir, name, tx.st.settings)
		}
		if err != nil {
			return &StorageError{Op: "save " + name, Err: err}
		}
	}
	return nil
}
