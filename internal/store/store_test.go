package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/backstage/services/salesdesk/internal/models"
)

func defaults() models.Settings {
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

func TestOpenSeedsDefaultSettings(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	s := st.Snapshot().Settings()
	require.Equal(t, models.SettingsID, s.ID)
	require.Equal(t, int64(5976), s.PricePerCaseCents)
	require.Equal(t, 25, s.MinCasesPerFlavor)

	_, err = os.Stat(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)

	// Reopening does not overwrite settings someone changed
	require.NoError(t, st.Update(func(tx *Tx) error {
		s := tx.Settings()
		s.MinCasesPerFlavor = 10
		tx.SetSettings(s)
		return nil
	}))
	st2, err := Open(dir, defaults())
	require.NoError(t, err)
	require.Equal(t, 10, st2.Snapshot().Settings().MinCasesPerFlavor)
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	var id string
	require.NoError(t, st.Update(func(tx *Tx) error {
		id = tx.NextLeadID()
		tx.PutLead(models.Lead{ID: id, Business: "Corner Depanneur", Status: models.LeadNew})
		return nil
	}))
	require.Equal(t, "L0001", id)

	st2, err := Open(dir, defaults())
	require.NoError(t, err)
	lead, ok := st2.Snapshot().Lead(id)
	require.True(t, ok)
	require.Equal(t, "Corner Depanneur", lead.Business)
}

func TestUpdateRollbackDiscardsEverything(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	boom := os.ErrInvalid
	err = st.Update(func(tx *Tx) error {
		tx.PutLead(models.Lead{ID: tx.NextLeadID(), Business: "Ghost"})
		tx.PutClient(models.Client{ID: tx.NextClientID(), Business: "Ghost Inc"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap := st.Snapshot()
	require.Empty(t, snap.Leads())
	require.Empty(t, snap.Clients())

	_, statErr := os.Stat(filepath.Join(dir, "leads.json"))
	require.True(t, os.IsNotExist(statErr), "rolled-back transaction must not touch disk")

	// The discarded id is reissued: the sequence only advances on commit
	require.NoError(t, st.Update(func(tx *Tx) error {
		require.Equal(t, "L0001", tx.NextLeadID())
		return nil
	}))
}

func TestIDsNeverReusedAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	require.NoError(t, st.Update(func(tx *Tx) error {
		tx.PutLead(models.Lead{ID: tx.NextLeadID()})
		tx.PutLead(models.Lead{ID: tx.NextLeadID()})
		return nil
	}))

	st2, err := Open(dir, defaults())
	require.NoError(t, err)
	require.NoError(t, st2.Update(func(tx *Tx) error {
		require.Equal(t, "L0003", tx.NextLeadID())
		return nil
	}))
}

func TestSnapshotIsolation(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	before := st.Snapshot()

	require.NoError(t, st.Update(func(tx *Tx) error {
		tx.PutLead(models.Lead{ID: tx.NextLeadID(), Business: "Corner Depanneur"})
		return nil
	}))

	require.Empty(t, before.Leads(), "a snapshot must not see later commits")
	require.Len(t, st.Snapshot().Leads(), 1)
}

func TestSnapshotReturnsIndependentCopies(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	require.NoError(t, st.Update(func(tx *Tx) error {
		tx.PutLead(models.Lead{
			ID:      tx.NextLeadID(),
			History: []models.HistoryEntry{{At: time.Now(), Actor: "U0001", Action: "create"}},
		})
		return nil
	}))

	lead, ok := st.Snapshot().Lead("L0001")
	require.True(t, ok)
	lead.Business = "Mutated"
	lead.History[0].Action = "tampered"

	fresh, _ := st.Snapshot().Lead("L0001")
	require.Empty(t, fresh.Business)
	require.Equal(t, "create", fresh.History[0].Action)
}

func TestTxReadsItsOwnWrites(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	require.NoError(t, st.Update(func(tx *Tx) error {
		id := tx.NextLeadID()
		tx.PutLead(models.Lead{ID: id, Business: "Corner Depanneur"})
		got, ok := tx.Lead(id)
		require.True(t, ok)
		require.Equal(t, "Corner Depanneur", got.Business)
		return nil
	}))
}

func TestLookupAccessors(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, defaults())
	require.NoError(t, err)

	require.NoError(t, st.Update(func(tx *Tx) error {
		tx.PutEmployee(models.Employee{ID: tx.NextEmployeeID(), Username: "rep1", Active: true})
		tx.PutLead(models.Lead{ID: tx.NextLeadID(), SourceBatch: "batch-1"})
		tx.PutLead(models.Lead{ID: tx.NextLeadID(), SourceBatch: "batch-1"})
		tx.PutLead(models.Lead{ID: tx.NextLeadID(), SourceBatch: "batch-2"})
		tx.PutOrder(models.Order{ID: tx.NextOrderID(), SubmissionKey: "sub-1"})
		tx.PutEvent(models.CalendarEvent{
			ID:      tx.NextEventID(),
			Type:    models.EventDelivery,
			Related: models.EventRef{OrderID: "O0001"},
		})
		return nil
	}))

	require.NoError(t, st.Update(func(tx *Tx) error {
		emp, ok := tx.EmployeeByUsername("rep1")
		require.True(t, ok)
		require.Equal(t, "U0001", emp.ID)

		_, ok = tx.EmployeeByUsername("ghost")
		require.False(t, ok)

		require.Len(t, tx.LeadsBySourceBatch("batch-1"), 2)
		require.Len(t, tx.LeadsBySourceBatch("batch-2"), 1)
		require.Empty(t, tx.LeadsBySourceBatch("batch-3"))

		o, ok := tx.OrderBySubmissionKey("sub-1")
		require.True(t, ok)
		require.Equal(t, "O0001", o.ID)
		_, ok = tx.OrderBySubmissionKey("")
		require.False(t, ok, "empty key never matches")

		ev, ok := tx.DeliveryEventForOrder("O0001")
		require.True(t, ok)
		require.Equal(t, "E0001", ev.ID)
		return nil
	}))
}

func TestWriteAtomicReplacesWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	require.NoError(t, WriteAtomic(path, []byte("first version that is longer")))
	require.NoError(t, WriteAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestStorageErrorClassification(t *testing.T) {
	inner := &StorageError{Op: "save leads", Err: os.ErrPermission}
	require.True(t, IsStorageError(inner))
	require.ErrorIs(t, inner, os.ErrPermission)
	require.False(t, IsStorageError(os.ErrNotExist))
}
