package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"example.com/backstage/services/salesdesk/internal/models"
)

// Table names; each is one JSON file under the data directory.
const (
	TableEmployees     = "employees"
	TableLeads         = "leads"
	TableClients       = "clients"
	TableOrders        = "orders"
	TableInvoices      = "invoices"
	TableCalendar      = "calendar"
	TableNotifications = "notifications"
	TableSettings      = "settings"
)

// tableNames fixes the flush order so partially-flushed crashes are
// always a prefix of the same sequence.
var tableNames = []string{
	TableEmployees,
	TableLeads,
	TableClients,
	TableOrders,
	TableInvoices,
	TableCalendar,
	TableNotifications,
	TableSettings,
}

// StorageError marks an I/O failure while persisting a table. Commands
// that hit one stay in the inbox and are retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err carries a StorageError anywhere in
// its chain
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// tableFile is the on-disk shape of one table: the persisted id counter
// plus all records keyed by id.
type tableFile[T any] struct {
	Seq     int64        `json:"seq"`
	Records map[string]T `json:"records"`
}

type cloneable[T any] interface {
	Clone() T
}

func cloneTable[T cloneable[T]](src tableFile[T]) tableFile[T] {
	out := tableFile[T]{Seq: src.Seq, Records: make(map[string]T, len(src.Records))}
	for id, rec := range src.Records {
		out.Records[id] = rec.Clone()
	}
	return out
}

// state is every table held in memory. Committed states are never
// mutated; a transaction clones the tables it touches and commit swaps
// the whole state, so snapshots taken earlier stay consistent.
type state struct {
	employees     tableFile[models.Employee]
	leads         tableFile[models.Lead]
	clients       tableFile[models.Client]
	orders        tableFile[models.Order]
	invoices      tableFile[models.Invoice]
	calendar      tableFile[models.CalendarEvent]
	notifications tableFile[models.Notification]
	settings      tableFile[models.Settings]
}

// Store is the JSON-file-backed object store. All writes go through
// Update, which flushes each touched table as one atomic file replace.
type Store struct {
	dir string
	mu  sync.RWMutex
	st  *state
}

// Open loads every table from dir into memory, creating the directory
// and seeding the settings record from defaults on first run.
func Open(dir string, defaults models.Settings) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}

	st := &state{}
	var err error
	if st.employees, err = loadTable[models.Employee](dir, TableEmployees); err != nil {
		return nil, err
	}
	if st.leads, err = loadTable[models.Lead](dir, TableLeads); err != nil {
		return nil, err
	}
	if st.clients, err = loadTable[models.Client](dir, TableClients); err != nil {
		return nil, err
	}
	if st.orders, err = loadTable[models.Order](dir, TableOrders); err != nil {
		return nil, err
	}
	if st.invoices, err = loadTable[models.Invoice](dir, TableInvoices); err != nil {
		return nil, err
	}
	if st.calendar, err = loadTable[models.CalendarEvent](dir, TableCalendar); err != nil {
		return nil, err
	}
	if st.notifications, err = loadTable[models.Notification](dir, TableNotifications); err != nil {
		return nil, err
	}
	if st.settings, err = loadTable[models.Settings](dir, TableSettings); err != nil {
		return nil, err
	}

	s := &Store{dir: dir, st: st}

	if _, ok := st.settings.Records[models.SettingsID]; !ok {
		defaults.ID = models.SettingsID
		if err := s.Update(func(tx *Tx) error {
			tx.SetSettings(defaults)
			return nil
		}); err != nil {
			return nil, errors.Wrap(err, "seed settings")
		}
	}

	return s, nil
}

// Dir returns the data directory the store was opened on
func (s *Store) Dir() string {
	return s.dir
}

// Snapshot returns a consistent read-only view of all tables. The view
// remains valid after later commits.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{st: s.st}
}

// Update runs fn against a working copy of the state. If fn returns an
// error the copy is discarded and nothing is written. Otherwise every
// table fn touched is flushed to disk (temp file, fsync, rename) and the
// in-memory state is swapped. A flush failure is returned as a
// StorageError and leaves the in-memory state on the last committed
// version.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		dir:    s.dir,
		st:     *s.st,
		cloned: make(map[string]bool),
		dirty:  make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.flush(); err != nil {
		return err
	}

	next := tx.st
	s.st = &next
	return nil
}

func loadTable[T any](dir, name string) (tableFile[T], error) {
	tf := tableFile[T]{Records: map[string]T{}}
	data, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return tf, nil
		}
		return tf, errors.Wrapf(err, "read table %s", name)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return tf, nil
	}
	if err := json.Unmarshal(data, &tf); err != nil {
		return tf, errors.Wrapf(err, "decode table %s", name)
	}
	if tf.Records == nil {
		tf.Records = map[string]T{}
	}
	return tf, nil
}

func saveTable[T any](dir, name string, tf tableFile[T]) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode table %s", name)
	}
	return WriteAtomic(filepath.Join(dir, name+".json"), append(data, '\n'))
}

// WriteAtomic replaces path with data without ever exposing a partial
// file: write to a temp file in the same directory, fsync, rename over
// the original, then sync the directory.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename over %s", path)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return errors.Wrapf(err, "sync dir %s", dir)
	}
	return nil
}

// idLess orders ids like L0009 < L0010 < L10000 even past the zero
// padding width
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func sortedByID[T any](m map[string]T) []T {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func formatID(prefix string, seq int64) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}
