package processor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/rules"
	"example.com/backstage/services/salesdesk/internal/store"
)

// MockSessionRevoker records which employees had their sessions revoked
type MockSessionRevoker struct {
	mock.Mock
}

func (m *MockSessionRevoker) RevokeEmployee(ctx context.Context, employeeID string) error {
	args := m.Called(ctx, employeeID)
	return args.Error(0)
}

func testSettings() models.Settings {
	return models.Settings{
		CompanyName:       "Maple Fizz Distribution",
		Currency:          "CAD",
		PricePerCaseCents: 5976,
		GSTRate:           0.05,
		QSTRate:           0.09975,
		CansPerCase:       24,
		MinCasesPerFlavor: 25,
	}
}

type fixture struct {
	t       *testing.T
	dir     string
	st      *store.Store
	lg      *command.Log
	proc    *Processor
	revoker *MockSessionRevoker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, dir: t.TempDir()}
	f.revoker = new(MockSessionRevoker)
	f.open()
	return f
}

func (f *fixture) open() {
	st, err := store.Open(f.dir, testSettings())
	require.NoError(f.t, err)
	lg, err := command.OpenLog(f.dir)
	require.NoError(f.t, err)
	f.st = st
	f.lg = lg
	f.proc = New(st, lg, Options{Sessions: f.revoker, RetryBudget: 3})
}

// reopen simulates a process restart over the same data directory
func (f *fixture) reopen() {
	f.open()
}

// addEmployee writes an account directly, the way the seed command does
func (f *fixture) addEmployee(username string, role models.Role, active bool) models.Employee {
	f.t.Helper()
	var emp models.Employee
	require.NoError(f.t, f.st.Update(func(tx *store.Tx) error {
		emp = models.Employee{
			ID:           tx.NextEmployeeID(),
			Username:     username,
			PasswordHash: "sentinel",
			Name:         username,
			Role:         role,
			Active:       active,
			CreatedAt:    time.Now().UTC(),
		}
		tx.PutEmployee(emp)
		return nil
	}))
	return emp
}

func (f *fixture) submit(kind command.Kind, actor string, payload interface{}, key string) Result {
	f.t.Helper()
	env, err := command.New(kind, actor, payload, key)
	require.NoError(f.t, err)
	res, err := f.proc.Submit(context.Background(), env)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) createLead(actor, business string) string {
	f.t.Helper()
	res := f.submit(command.KindCreateLead, actor, command.CreateLeadPayload{
		LeadRow: command.LeadRow{Business: business, ContactName: "Pat", Region: "Montreal"},
	}, "")
	require.True(f.t, res.Applied())
	return res.RecordID
}

func (f *fixture) assignLead(admin, leadID, employeeID string) {
	f.t.Helper()
	res := f.submit(command.KindAssignLead, admin, command.AssignLeadPayload{LeadID: leadID, EmployeeID: employeeID}, "")
	require.True(f.t, res.Applied())
}

func (f *fixture) createDraftOrder(actor, leadID string, key string) string {
	f.t.Helper()
	res := f.submit(command.KindCreateOrder, actor, command.CreateOrderPayload{
		LeadID: leadID,
		Lines:  []models.LineItem{{Flavor: "Vanilla", Cases: 30}},
	}, key)
	require.True(f.t, res.Applied())
	return res.RecordID
}

func TestAssignLeadNotifiesEmployee(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")

	res := f.submit(command.KindAssignLead, admin.ID, command.AssignLeadPayload{LeadID: leadID, EmployeeID: emp.ID}, "")
	require.True(t, res.Applied())

	snap := f.st.Snapshot()
	lead, ok := snap.Lead(leadID)
	require.True(t, ok)
	require.Equal(t, models.LeadAssigned, lead.Status)
	require.Equal(t, emp.ID, lead.AssignedTo)

	var forEmp []models.Notification
	for _, n := range snap.Notifications() {
		if n.ForEmployee == emp.ID {
			forEmp = append(forEmp, n)
		}
	}
	require.Len(t, forEmp, 1)
	require.Equal(t, "lead_assigned", forEmp[0].Kind)
	require.Contains(t, forEmp[0].Text, leadID)
}

func TestAssignLeadToDisabledEmployeeRejected(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	gone := f.addEmployee("gone", models.RoleEmployee, false)
	leadID := f.createLead(admin.ID, "Corner Depanneur")

	res := f.submit(command.KindAssignLead, admin.ID, command.AssignLeadPayload{LeadID: leadID, EmployeeID: gone.ID}, "")
	require.False(t, res.Applied())
	require.Contains(t, res.Outcome, "rejected:invalid_state")

	var ise *rules.InvalidStateError
	require.ErrorAs(t, res.Err, &ise)
	require.Equal(t, "employee", ise.Entity)

	lead, _ := f.st.Snapshot().Lead(leadID)
	require.Equal(t, models.LeadNew, lead.Status)
	require.Empty(t, lead.AssignedTo)
}

func TestCreateOrderBelowMinimumRejectedAndNotPersisted(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)

	res := f.submit(command.KindCreateOrder, emp.ID, command.CreateOrderPayload{
		LeadID: leadID,
		Lines: []models.LineItem{
			{Flavor: "Vanilla", Cases: 30},
			{Flavor: "Chocolate", Cases: 20},
		},
	}, "key-1")
	require.False(t, res.Applied())
	require.Contains(t, res.Outcome, "rejected:validation")

	var verr *rules.ValidationError
	require.ErrorAs(t, res.Err, &verr)
	require.Len(t, verr.Violations, 1)
	require.Equal(t, rules.LineViolation{Flavor: "Chocolate", Got: 20, Min: 25}, verr.Violations[0])

	snap := f.st.Snapshot()
	require.Empty(t, snap.Orders())
	require.Empty(t, snap.Clients())
	lead, _ := snap.Lead(leadID)
	require.Equal(t, models.LeadAssigned, lead.Status)
}

func TestRejectedCommandLeavesTableFilesUntouched(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)

	tables := []string{"employees", "leads", "clients", "orders", "invoices", "calendar", "notifications", "settings"}
	before := map[string][]byte{}
	for _, name := range tables {
		data, err := os.ReadFile(filepath.Join(f.dir, name+".json"))
		if err != nil {
			require.True(t, os.IsNotExist(err))
		}
		before[name] = data
	}

	res := f.submit(command.KindCreateOrder, emp.ID, command.CreateOrderPayload{
		LeadID: leadID,
		Lines:  []models.LineItem{{Flavor: "Chocolate", Cases: 1}},
	}, "key-1")
	require.False(t, res.Applied())

	for _, name := range tables {
		data, err := os.ReadFile(filepath.Join(f.dir, name+".json"))
		if err != nil {
			require.True(t, os.IsNotExist(err))
		}
		require.Equal(t, before[name], data, "table %s changed by a rejected command", name)
	}
}

func TestCreateOrderConvertsLeadAndCreatesClientOnce(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)

	repRes := f.submit(command.KindFillRepInfo, emp.ID, command.FillRepInfoPayload{
		LeadID: leadID, RepName: "Pat Rep", RepPhone: "514-555-0101", RepEmail: "pat@example.com",
	}, "")
	require.True(t, repRes.Applied())

	first := f.createDraftOrder(emp.ID, leadID, "key-1")
	second := f.createDraftOrder(emp.ID, leadID, "key-2")

	snap := f.st.Snapshot()
	lead, _ := snap.Lead(leadID)
	require.Equal(t, models.LeadConverted, lead.Status)
	require.NotEmpty(t, lead.ClientID)

	require.Len(t, snap.Clients(), 1, "repeat conversion must reuse the client")
	client, _ := snap.Client(lead.ClientID)
	require.Equal(t, "Corner Depanneur", client.Business)
	require.Equal(t, "Pat Rep", client.RepName)

	require.Len(t, snap.Orders(), 2)
	o1, _ := snap.Order(first)
	o2, _ := snap.Order(second)
	require.Equal(t, lead.ClientID, o1.ClientID)
	require.Equal(t, lead.ClientID, o2.ClientID)
	require.Equal(t, emp.ID, o1.EmployeeID)
	require.Equal(t, models.OrderDraft, o1.Status)
	require.NotEqual(t, o1.ID, o2.ID)
}

func TestCreateOrderDuplicateSubmissionKeyIsNoOp(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)

	orderID := f.createDraftOrder(emp.ID, leadID, "double-click")

	// A fresh envelope with the same idempotency key must not create a
	// second order.
	res := f.submit(command.KindCreateOrder, emp.ID, command.CreateOrderPayload{
		LeadID: leadID,
		Lines:  []models.LineItem{{Flavor: "Vanilla", Cases: 30}},
	}, "double-click")
	require.True(t, res.Applied())
	require.True(t, res.Duplicate)

	snap := f.st.Snapshot()
	require.Len(t, snap.Orders(), 1)
	o, _ := snap.Order(orderID)
	require.Equal(t, "double-click", o.SubmissionKey)
}

func TestGenerateInvoiceTotalsAndDoubleInvoiceRejected(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)
	orderID := f.createDraftOrder(emp.ID, leadID, "key-1")

	res := f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID}, "")
	require.True(t, res.Applied())

	snap := f.st.Snapshot()
	order, _ := snap.Order(orderID)
	require.Equal(t, models.OrderInvoiced, order.Status)
	require.Equal(t, res.RecordID, order.InvoiceID)

	inv, ok := snap.Invoice(order.InvoiceID)
	require.True(t, ok)
	// 30 cases at 59.76: subtotal 1792.80, GST 89.64, QST 178.83
	require.Equal(t, int64(179280), inv.SubtotalCents)
	require.Equal(t, int64(8964), inv.GSTCents)
	require.Equal(t, int64(17883), inv.QSTCents)
	require.Equal(t, int64(206127), inv.TotalCents)
	require.Equal(t, "CAD", inv.Currency)
	require.Equal(t, "documents/"+inv.ID+".html", inv.DocumentRef)

	again := f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID}, "")
	require.False(t, again.Applied())
	require.Contains(t, again.Outcome, "rejected:invalid_state")

	after := f.st.Snapshot()
	unchanged, _ := after.Order(orderID)
	require.Equal(t, order.Status, unchanged.Status)
	require.Equal(t, order.InvoiceID, unchanged.InvoiceID)
	require.Len(t, after.Invoices(), 1)
}

func TestSupersedeInvoiceKeepsOldOneImmutable(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)
	orderID := f.createDraftOrder(emp.ID, leadID, "key-1")

	first := f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID}, "")
	require.True(t, first.Applied())

	res := f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID, Supersede: true}, "")
	require.True(t, res.Applied())
	require.NotEqual(t, first.RecordID, res.RecordID)

	snap := f.st.Snapshot()
	order, _ := snap.Order(orderID)
	require.Equal(t, models.OrderInvoiced, order.Status, "superseding must not advance the lifecycle")
	require.Equal(t, res.RecordID, order.InvoiceID)

	old, _ := snap.Invoice(first.RecordID)
	require.Equal(t, res.RecordID, old.SupersededBy)
	replacement, _ := snap.Invoice(res.RecordID)
	require.Empty(t, replacement.SupersededBy)
	require.Equal(t, old.TotalCents, replacement.TotalCents)

	// Nothing to supersede on an order that was never invoiced
	otherLead := f.createLead(admin.ID, "Second Shop")
	f.assignLead(admin.ID, otherLead, emp.ID)
	otherOrder := f.createDraftOrder(emp.ID, otherLead, "key-2")
	bad := f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: otherOrder, Supersede: true}, "")
	require.False(t, bad.Applied())
	require.Contains(t, bad.Outcome, "rejected:validation")
}

func TestScheduleDeliveryCreatesEventAndAdminNotification(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)
	orderID := f.createDraftOrder(emp.ID, leadID, "key-1")

	require.True(t, f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID}, "").Applied())
	require.True(t, f.submit(command.KindMarkPaid, emp.ID, command.MarkPaidPayload{OrderID: orderID}, "").Applied())

	at := time.Date(2026, 9, 14, 10, 30, 0, 0, time.UTC)
	res := f.submit(command.KindScheduleDelivery, emp.ID, command.ScheduleDeliveryPayload{OrderID: orderID, DeliveryAt: at}, "")
	require.True(t, res.Applied())

	snap := f.st.Snapshot()
	order, _ := snap.Order(orderID)
	require.Equal(t, models.OrderScheduled, order.Status)
	require.NotNil(t, order.DeliveryAt)
	require.True(t, order.DeliveryAt.Equal(at))

	var deliveries []models.CalendarEvent
	for _, e := range snap.Events() {
		if e.Type == models.EventDelivery {
			deliveries = append(deliveries, e)
		}
	}
	require.Len(t, deliveries, 1)
	require.Equal(t, orderID, deliveries[0].Related.OrderID)
	require.Contains(t, deliveries[0].VisibleTo, "admin")
	require.Contains(t, deliveries[0].VisibleTo, emp.ID)
	require.Contains(t, deliveries[0].VisibleTo, string(models.RoleDelivery))

	var adminNotes []models.Notification
	for _, n := range snap.Notifications() {
		if n.ForRole == models.RoleAdmin && n.Kind == "delivery_scheduled" {
			adminNotes = append(adminNotes, n)
		}
	}
	require.Len(t, adminNotes, 1)
	require.Contains(t, adminNotes[0].Text, orderID)
}

func TestOrderLifecycleOnlyMovesForward(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	driver := f.addEmployee("driver", models.RoleDelivery, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)
	orderID := f.createDraftOrder(emp.ID, leadID, "key-1")

	// Skipping a step is refused
	skip := f.submit(command.KindMarkPaid, emp.ID, command.MarkPaidPayload{OrderID: orderID}, "")
	require.Contains(t, skip.Outcome, "rejected:invalid_state")

	require.True(t, f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID}, "").Applied())
	require.True(t, f.submit(command.KindMarkPaid, emp.ID, command.MarkPaidPayload{OrderID: orderID}, "").Applied())
	require.True(t, f.submit(command.KindScheduleDelivery, emp.ID, command.ScheduleDeliveryPayload{
		OrderID: orderID, DeliveryAt: time.Now().Add(48 * time.Hour),
	}, "").Applied())
	require.True(t, f.submit(command.KindMarkFulfilled, driver.ID, command.MarkFulfilledPayload{OrderID: orderID}, "").Applied())

	// Every replayed transition is refused once the order moved past it
	replays := []Result{
		f.submit(command.KindMarkPaid, emp.ID, command.MarkPaidPayload{OrderID: orderID}, ""),
		f.submit(command.KindScheduleDelivery, emp.ID, command.ScheduleDeliveryPayload{OrderID: orderID, DeliveryAt: time.Now()}, ""),
		f.submit(command.KindMarkFulfilled, driver.ID, command.MarkFulfilledPayload{OrderID: orderID}, ""),
	}
	for _, r := range replays {
		require.Contains(t, r.Outcome, "rejected:invalid_state")
	}

	order, _ := f.st.Snapshot().Order(orderID)
	require.Equal(t, models.OrderFulfilled, order.Status)
}

func TestFillRepInfoRequiresAssignee(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	owner := f.addEmployee("owner", models.RoleEmployee, true)
	other := f.addEmployee("other", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, owner.ID)

	res := f.submit(command.KindFillRepInfo, other.ID, command.FillRepInfoPayload{LeadID: leadID, RepName: "X"}, "")
	require.False(t, res.Applied())
	require.Contains(t, res.Outcome, "rejected:authorization")

	var ae *rules.AuthorizationError
	require.ErrorAs(t, res.Err, &ae)

	ok := f.submit(command.KindFillRepInfo, owner.ID, command.FillRepInfoPayload{
		LeadID: leadID, RepName: "Pat Rep", RepPhone: "514-555-0101",
	}, "")
	require.True(t, ok.Applied())
	lead, _ := f.st.Snapshot().Lead(leadID)
	require.Equal(t, "Pat Rep", lead.RepName)
}

func TestOrderOwnershipEnforcedForEmployees(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	owner := f.addEmployee("owner", models.RoleEmployee, true)
	other := f.addEmployee("other", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, owner.ID)
	orderID := f.createDraftOrder(owner.ID, leadID, "key-1")

	res := f.submit(command.KindGenerateInvoice, other.ID, command.GenerateInvoicePayload{OrderID: orderID}, "")
	require.Contains(t, res.Outcome, "rejected:authorization")

	// Admins act on any order
	res = f.submit(command.KindGenerateInvoice, admin.ID, command.GenerateInvoicePayload{OrderID: orderID}, "")
	require.True(t, res.Applied())
}

func TestImportLeadsCommitsValidRowsAndReportsBadOnes(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	res := f.submit(command.KindImportLeads, admin.ID, command.ImportLeadsPayload{
		BatchKey: "batch-abc",
		Rows: []command.LeadRow{
			{Business: "Shop One", Region: "Laval"},
			{Business: "   "},
			{Business: "Shop Two", Region: "Quebec City"},
		},
	}, "batch-abc")
	require.True(t, res.Applied())
	require.Len(t, res.Rows, 3)
	require.NotEmpty(t, res.Rows[0].Ref)
	require.Empty(t, res.Rows[0].Error)
	require.NotEmpty(t, res.Rows[1].Error)
	require.Empty(t, res.Rows[1].Ref)
	require.NotEmpty(t, res.Rows[2].Ref)

	snap := f.st.Snapshot()
	leads := snap.Leads()
	require.Len(t, leads, 2)
	for _, l := range leads {
		require.Equal(t, models.LeadNew, l.Status)
		require.Equal(t, "batch-abc", l.SourceBatch)
	}

	var imported []models.Notification
	for _, n := range snap.Notifications() {
		if n.Kind == "leads_imported" {
			imported = append(imported, n)
		}
	}
	require.Len(t, imported, 1)
	require.Contains(t, imported[0].Text, "2 new leads")
}

func TestImportLeadsReplayedBatchIsNoOp(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	payload := command.ImportLeadsPayload{
		BatchKey: "batch-abc",
		Rows:     []command.LeadRow{{Business: "Shop One"}},
	}
	first := f.submit(command.KindImportLeads, admin.ID, payload, "batch-abc")
	require.True(t, first.Applied())

	// Same envelope key: caught by the processed-key index
	replay := f.submit(command.KindImportLeads, admin.ID, payload, "batch-abc")
	require.True(t, replay.Applied())
	require.True(t, replay.Duplicate)

	// Different envelope key, same batch stamp: caught by the state-level
	// guard that covers the crash window
	stamped := f.submit(command.KindImportLeads, admin.ID, payload, "retry-key")
	require.True(t, stamped.Applied())
	require.True(t, stamped.Duplicate)

	require.Len(t, f.st.Snapshot().Leads(), 1)
}

func TestDrainResumesAfterRestart(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	// Enqueue without draining, then "crash"
	for _, name := range []string{"Shop One", "Shop Two", "Shop Three"} {
		env, err := command.New(command.KindCreateLead, admin.ID, command.CreateLeadPayload{
			LeadRow: command.LeadRow{Business: name},
		}, "")
		require.NoError(t, err)
		require.NoError(t, f.lg.Enqueue(env))
	}
	require.Empty(t, f.st.Snapshot().Leads())

	f.reopen()
	results, err := f.proc.DrainPass(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.Applied())
	}

	leads := f.st.Snapshot().Leads()
	require.Len(t, leads, 3)
	// Filename sort order is enqueue order
	require.Equal(t, "Shop One", leads[0].Business)
	require.Equal(t, "Shop Two", leads[1].Business)
	require.Equal(t, "Shop Three", leads[2].Business)
}

func TestCrashBetweenProcessedWriteAndInboxUnlink(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	env, err := command.New(command.KindCreateLead, admin.ID, command.CreateLeadPayload{
		LeadRow: command.LeadRow{Business: "Shop One"},
	}, "")
	require.NoError(t, err)
	res, err := f.proc.Submit(context.Background(), env)
	require.NoError(t, err)
	require.True(t, res.Applied())

	// Put the same envelope back in the inbox, as if the unlink never
	// happened, and restart.
	require.NoError(t, f.lg.Enqueue(env))
	f.reopen()

	results, err := f.proc.DrainPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, results, "an already-processed envelope must be cleaned up, not re-applied")
	require.Len(t, f.st.Snapshot().Leads(), 1)

	n, err := f.lg.PendingCount()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConservationAcrossOutcomes(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	var ids []string
	outcomes := map[string]string{}

	ok1 := f.submit(command.KindCreateLead, admin.ID, command.CreateLeadPayload{LeadRow: command.LeadRow{Business: "Shop"}}, "")
	bad := f.submit(command.KindAssignLead, admin.ID, command.AssignLeadPayload{LeadID: "L9999", EmployeeID: admin.ID}, "")
	ok2 := f.submit(command.KindCreateLead, admin.ID, command.CreateLeadPayload{LeadRow: command.LeadRow{Business: "Shop 2"}}, "")
	ids = append(ids, ok1.EnvelopeID, bad.EnvelopeID, ok2.EnvelopeID)
	outcomes[ok1.EnvelopeID] = ok1.Outcome
	outcomes[bad.EnvelopeID] = bad.Outcome
	outcomes[ok2.EnvelopeID] = ok2.Outcome

	require.Contains(t, bad.Outcome, "rejected:not_found")

	n, err := f.lg.PendingCount()
	require.NoError(t, err)
	require.Zero(t, n, "inbox must be empty after the pass")

	processed, err := f.lg.Processed()
	require.NoError(t, err)
	require.Len(t, processed, 3)
	seen := map[string]command.Envelope{}
	for _, env := range processed {
		seen[env.ID] = env
	}
	for _, id := range ids {
		env, ok := seen[id]
		require.True(t, ok, "envelope %s lost", id)
		require.Equal(t, outcomes[id], env.Outcome)
		require.NotNil(t, env.ProcessedAt)
	}

	// Rejected envelopes stay rejected on later drains
	results, err := f.proc.DrainPass(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)
	require.Len(t, f.st.Snapshot().Leads(), 2)
}

func TestDisableEmployeeRevokesSessionsAndKeepsRecords(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)

	f.revoker.On("RevokeEmployee", mock.Anything, emp.ID).Return(nil)

	res := f.submit(command.KindDisableEmployee, admin.ID, command.DisableEmployeePayload{EmployeeID: emp.ID}, "")
	require.True(t, res.Applied())
	f.revoker.AssertExpectations(t)

	snap := f.st.Snapshot()
	got, _ := snap.Employee(emp.ID)
	require.False(t, got.Active)

	// The assignment survives; only new work is blocked
	lead, _ := snap.Lead(leadID)
	require.Equal(t, emp.ID, lead.AssignedTo)

	// And the disabled account can no longer act
	rejected := f.submit(command.KindFillRepInfo, emp.ID, command.FillRepInfoPayload{LeadID: leadID, RepName: "X"}, "")
	require.Contains(t, rejected.Outcome, "rejected:authorization")
}

func TestRoleGateRefusesUnknownAndUnderprivilegedActors(t *testing.T) {
	f := newFixture(t)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)

	ghost := f.submit(command.KindCreateLead, "nobody", command.CreateLeadPayload{LeadRow: command.LeadRow{Business: "X"}}, "")
	require.Contains(t, ghost.Outcome, "rejected:authorization")

	gated := f.submit(command.KindDisableEmployee, emp.ID, command.DisableEmployeePayload{EmployeeID: emp.ID}, "")
	require.Contains(t, gated.Outcome, "rejected:authorization")

	system := f.submit(command.KindCreateLead, "system", command.CreateLeadPayload{LeadRow: command.LeadRow{Business: "Via Bus"}}, "")
	require.True(t, system.Applied())
}

func TestAssignLeadsBulkReportsPerLead(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)

	l1 := f.createLead(admin.ID, "Shop One")
	l2 := f.createLead(admin.ID, "Shop Two")
	f.assignLead(admin.ID, l2, emp.ID) // already assigned, will be refused in bulk

	res := f.submit(command.KindAssignLeadsBulk, admin.ID, command.AssignLeadsBulkPayload{
		LeadIDs:    []string{l1, l2, "L9999"},
		EmployeeID: emp.ID,
	}, "")
	require.True(t, res.Applied())
	require.Len(t, res.Rows, 3)
	require.Empty(t, res.Rows[0].Error)
	require.NotEmpty(t, res.Rows[1].Error)
	require.NotEmpty(t, res.Rows[2].Error)

	snap := f.st.Snapshot()
	lead1, _ := snap.Lead(l1)
	require.Equal(t, emp.ID, lead1.AssignedTo)
}

func TestUpdateSettingsValidatesAndReplaces(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	bad := f.submit(command.KindUpdateSettings, admin.ID, command.UpdateSettingsPayload{
		PricePerCase: -1, GSTRate: 0.05, QSTRate: 0.09975, CansPerCase: 24, MinCasesPerFlavor: 25,
	}, "")
	require.Contains(t, bad.Outcome, "rejected:validation")

	res := f.submit(command.KindUpdateSettings, admin.ID, command.UpdateSettingsPayload{
		CompanyName: "Maple Fizz East", Currency: "cad",
		PricePerCase: 62.50, GSTRate: 0.05, QSTRate: 0.09975,
		CansPerCase: 24, MinCasesPerFlavor: 30,
	}, "")
	require.True(t, res.Applied())

	s := f.st.Snapshot().Settings()
	require.Equal(t, "Maple Fizz East", s.CompanyName)
	require.Equal(t, "CAD", s.Currency)
	require.Equal(t, int64(6250), s.PricePerCaseCents)
	require.Equal(t, 30, s.MinCasesPerFlavor)
}

func TestNotificationVisibilityRules(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	other := f.addEmployee("rep2", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID) // creates a notification for emp

	var note models.Notification
	for _, n := range f.st.Snapshot().Notifications() {
		if n.ForEmployee == emp.ID {
			note = n
		}
	}
	require.NotEmpty(t, note.ID)

	stranger := f.submit(command.KindDismissNotification, other.ID, command.DismissNotificationPayload{NotificationID: note.ID}, "")
	require.Contains(t, stranger.Outcome, "rejected:authorization")

	owner := f.submit(command.KindMarkNotificationRead, emp.ID, command.MarkNotificationReadPayload{NotificationID: note.ID}, "")
	require.True(t, owner.Applied())

	dismissed := f.submit(command.KindDismissNotification, emp.ID, command.DismissNotificationPayload{NotificationID: note.ID}, "")
	require.True(t, dismissed.Applied())

	got, _ := f.st.Snapshot().Notification(note.ID)
	require.True(t, got.Read)
	require.True(t, got.Dismissed)
}

func TestSubmitAppliesQueuedEnvelopesFirst(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)

	queued, err := command.New(command.KindCreateLead, admin.ID, command.CreateLeadPayload{
		LeadRow: command.LeadRow{Business: "Queued First"},
	}, "")
	require.NoError(t, err)
	require.NoError(t, f.lg.Enqueue(queued))

	res := f.submit(command.KindCreateLead, admin.ID, command.CreateLeadPayload{
		LeadRow: command.LeadRow{Business: "Submitted Second"},
	}, "")
	require.True(t, res.Applied())

	leads := f.st.Snapshot().Leads()
	require.Len(t, leads, 2)
	require.Equal(t, "Queued First", leads[0].Business)
	require.Equal(t, "Submitted Second", leads[1].Business)
}

func TestUpdateLeadFrozenAfterConversion(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)

	phone := "514-555-0199"
	res := f.submit(command.KindUpdateLead, emp.ID, command.UpdateLeadPayload{LeadID: leadID, Phone: &phone}, "")
	require.True(t, res.Applied())
	lead, _ := f.st.Snapshot().Lead(leadID)
	require.Equal(t, phone, lead.Phone)

	f.createDraftOrder(emp.ID, leadID, "key-1")

	newPhone := "514-555-0000"
	frozen := f.submit(command.KindUpdateLead, emp.ID, command.UpdateLeadPayload{LeadID: leadID, Phone: &newPhone}, "")
	require.Contains(t, frozen.Outcome, "rejected:invalid_state")
}

func TestMarkPaidNotifiesAdmins(t *testing.T) {
	f := newFixture(t)
	admin := f.addEmployee("admin", models.RoleAdmin, true)
	emp := f.addEmployee("rep1", models.RoleEmployee, true)
	leadID := f.createLead(admin.ID, "Corner Depanneur")
	f.assignLead(admin.ID, leadID, emp.ID)
	orderID := f.createDraftOrder(emp.ID, leadID, "key-1")
	require.True(t, f.submit(command.KindGenerateInvoice, emp.ID, command.GenerateInvoicePayload{OrderID: orderID}, "").Applied())

	res := f.submit(command.KindMarkPaid, emp.ID, command.MarkPaidPayload{OrderID: orderID}, "")
	require.True(t, res.Applied())

	var paid []models.Notification
	for _, n := range f.st.Snapshot().Notifications() {
		if n.Kind == "order_paid" && n.ForRole == models.RoleAdmin {
			paid = append(paid, n)
		}
	}
	require.Len(t, paid, 1)
	require.Contains(t, paid[0].Text, orderID)
}
