package command

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/store"
)

// Log is the two-phase durable queue: envelopes land in inbox/ and are
// atomically relocated to processed/ once applied or rejected. Filenames
// carry a zero-padded sequence so a plain sort reveals enqueue order;
// a restarted process resumes from the directory contents alone.
type Log struct {
	inboxDir     string
	processedDir string

	mu            sync.Mutex
	seq           int64
	processedIDs  map[string]bool
	processedKeys map[string]bool
}

// Pending is an envelope still in the inbox, addressed by its filename
type Pending struct {
	Name     string
	Envelope Envelope
}

// OpenLog prepares the inbox and processed directories under dir and
// recovers the sequence counter and idempotency index from disk.
func OpenLog(dir string) (*Log, error) {
	l := &Log{
		inboxDir:      filepath.Join(dir, "inbox"),
		processedDir:  filepath.Join(dir, "processed"),
		processedIDs:  make(map[string]bool),
		processedKeys: make(map[string]bool),
	}
	for _, d := range []string{l.inboxDir, l.processedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", d)
		}
	}

	inboxNames, err := listEnvelopeNames(l.inboxDir)
	if err != nil {
		return nil, err
	}
	processedNames, err := listEnvelopeNames(l.processedDir)
	if err != nil {
		return nil, err
	}

	for _, name := range append(inboxNames, processedNames...) {
		if seq, ok := parseSeq(name); ok && seq > l.seq {
			l.seq = seq
		}
	}

	for _, name := range processedNames {
		env, err := readEnvelope(filepath.Join(l.processedDir, name))
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("Skipping unreadable processed envelope")
			continue
		}
		l.processedIDs[env.ID] = true
		if env.IdempotencyKey != "" {
			l.processedKeys[env.IdempotencyKey] = true
		}
	}

	return l, nil
}

// Enqueue writes the envelope into the inbox under a name that sorts by
// enqueue order. The write itself is atomic.
func (l *Log) Enqueue(env Envelope) error {
	if !env.Kind.Valid() {
		return errors.Errorf("unrecognized command kind %q", env.Kind)
	}
	l.mu.Lock()
	l.seq++
	name := envelopeName(l.seq, env.ID)
	l.mu.Unlock()

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal envelope %s", env.ID)
	}
	if err := store.WriteAtomic(filepath.Join(l.inboxDir, name), append(data, '\n')); err != nil {
		return errors.Wrapf(err, "enqueue %s", name)
	}
	return nil
}

// Drain lists the pending envelopes in enqueue order. Inbox entries that
// already exist in processed (a crash hit between the processed write
// and the inbox unlink) are cleaned up without re-processing.
func (l *Log) Drain() ([]Pending, error) {
	names, err := listEnvelopeNames(l.inboxDir)
	if err != nil {
		return nil, err
	}

	var pending []Pending
	for _, name := range names {
		path := filepath.Join(l.inboxDir, name)
		env, err := readEnvelope(path)
		if err != nil {
			// Not one of ours. Park it in processed so it stops
			// blocking the queue but is never silently dropped.
			dst := filepath.Join(l.processedDir, name)
			if mvErr := os.Rename(path, dst); mvErr != nil {
				return nil, errors.Wrapf(mvErr, "relocate malformed envelope %s", name)
			}
			log.Error().Str("file", name).Err(err).Msg("Relocated malformed envelope to processed")
			continue
		}

		l.mu.Lock()
		done := l.processedIDs[env.ID]
		l.mu.Unlock()
		if done {
			if err := os.Remove(path); err != nil {
				log.Warn().Str("file", name).Err(err).Msg("Failed to remove already-processed inbox entry")
			} else {
				log.Info().Str("file", name).Str("command_id", env.ID).Msg("Removed already-processed inbox entry")
			}
			continue
		}

		pending = append(pending, Pending{Name: name, Envelope: env})
	}
	return pending, nil
}

// Complete relocates a pending envelope to processed, augmented with its
// outcome. The atomic rename into processed/ is the single commit point:
// a crash before it means the command is retried on the next drain.
func (l *Log) Complete(p Pending, outcome string) error {
	env := p.Envelope
	env.Outcome = outcome
	now := time.Now().UTC()
	env.ProcessedAt = &now

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal processed envelope %s", env.ID)
	}
	if err := store.WriteAtomic(filepath.Join(l.processedDir, p.Name), append(data, '\n')); err != nil {
		return errors.Wrapf(err, "complete %s", p.Name)
	}

	l.mu.Lock()
	l.processedIDs[env.ID] = true
	if env.IdempotencyKey != "" {
		l.processedKeys[env.IdempotencyKey] = true
	}
	l.mu.Unlock()

	// The command is committed. A failed unlink leaves a duplicate the
	// next drain cleans up by id.
	if err := os.Remove(filepath.Join(l.inboxDir, p.Name)); err != nil {
		log.Warn().Str("file", p.Name).Err(err).Msg("Failed to remove completed inbox entry")
	}
	return nil
}

// SeenKey reports whether an idempotency key already belongs to a
// processed envelope
func (l *Log) SeenKey(key string) bool {
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processedKeys[key]
}

// PendingCount reports how many envelopes are waiting in the inbox
func (l *Log) PendingCount() (int, error) {
	names, err := listEnvelopeNames(l.inboxDir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Processed returns the archived envelopes in enqueue order
func (l *Log) Processed() ([]Envelope, error) {
	names, err := listEnvelopeNames(l.processedDir)
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(names))
	for _, name := range names {
		env, err := readEnvelope(filepath.Join(l.processedDir, name))
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("Skipping unreadable processed envelope")
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func envelopeName(seq int64, id string) string {
	ref := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return fmt.Sprintf("%08d_%s.json", seq, ref)
}

func parseSeq(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	seq, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

func listEnvelopeNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "read %s", path)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrapf(err, "decode %s", path)
	}
	if env.ID == "" || !env.Kind.Valid() {
		return Envelope{}, errors.Errorf("invalid envelope in %s", path)
	}
	return env, nil
}
