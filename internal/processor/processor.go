package processor

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/metrics"
	"example.com/backstage/services/salesdesk/internal/models"
	"example.com/backstage/services/salesdesk/internal/render"
	"example.com/backstage/services/salesdesk/internal/rules"
	"example.com/backstage/services/salesdesk/internal/search"
	"example.com/backstage/services/salesdesk/internal/store"
	"example.com/backstage/services/salesdesk/internal/tracing"
)

// ErrDeferred means the envelope was durably enqueued but a storage
// failure stopped the drain pass before it was applied. The next sweep
// retries it; nothing is lost.
var ErrDeferred = errors.New("command enqueued but deferred by a storage failure")

// SessionRevoker ends every live session of an employee. Implemented by
// the auth session manager; invoked after commands that disable an
// account or reset its password.
type SessionRevoker interface {
	RevokeEmployee(ctx context.Context, employeeID string) error
}

// Options carries the processor's optional collaborators. All of them
// degrade to no-ops when absent; only the store and the log are required.
type Options struct {
	Metrics     *metrics.Metrics
	Tracer      tracing.Tracer
	Search      *search.ElasticClient
	Sessions    SessionRevoker
	Renderer    render.DocumentRenderer
	RetryBudget int
}

// Processor is the single-writer state machine at the core of the
// service: it drains the command log in enqueue order and applies each
// envelope against the object store in one transaction. One mutex
// serializes the whole read-inbox, pick-next, process, relocate section,
// so concurrent submitters queue behind each other instead of racing on
// the table files.
type Processor struct {
	store       *store.Store
	log         *command.Log
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
	search      *search.ElasticClient
	sessions    SessionRevoker
	renderer    render.DocumentRenderer
	retryBudget int

	mu sync.Mutex
}

// New creates a processor over an opened store and command log
func New(st *store.Store, lg *command.Log, opts Options) *Processor {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	if opts.Renderer == nil {
		opts.Renderer = render.Probe()
	}
	if opts.RetryBudget < 1 {
		opts.RetryBudget = 1
	}
	return &Processor{
		store:       st,
		log:         lg,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		search:      opts.Search,
		sessions:    opts.Sessions,
		renderer:    opts.Renderer,
		retryBudget: opts.RetryBudget,
	}
}

// RowResult reports the fate of one row in a batch command
type RowResult struct {
	Row   int    `json:"row"`
	Ref   string `json:"ref,omitempty"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of one processed envelope
type Result struct {
	EnvelopeID string       `json:"envelope_id"`
	Kind       command.Kind `json:"kind"`
	Outcome    string       `json:"outcome"`
	RecordID   string       `json:"record_id,omitempty"`
	Rows       []RowResult  `json:"rows,omitempty"`
	Duplicate  bool         `json:"duplicate,omitempty"`

	// Err carries the typed domain error behind a rejected outcome so
	// callers can map it without parsing the outcome string.
	Err error `json:"-"`
}

// Applied reports whether the command mutated state (or was a duplicate
// no-op)
func (r Result) Applied() bool {
	return r.Outcome == command.OutcomeApplied
}

// effects is what a handler hands back after mutating the transaction:
// identifiers for the caller plus the records collaborators should see.
type effects struct {
	recordID  string
	rows      []RowResult
	duplicate bool
	imported  int
	leads     []models.Lead
	orders    []models.Order
	revoke    string
}

// Submit enqueues one envelope and synchronously runs a drain pass,
// returning the outcome of that envelope. Envelopes queued ahead of it
// are applied first; if one of them jams the queue with a storage
// failure, ErrDeferred is returned and the sweep retries later.
func (p *Processor) Submit(ctx context.Context, env command.Envelope) (Result, error) {
	if err := p.log.Enqueue(env); err != nil {
		return Result{}, err
	}

	results, err := p.DrainPass(ctx)
	for _, res := range results {
		if res.EnvelopeID == env.ID {
			return res, nil
		}
	}
	if err != nil {
		return Result{}, errors.Wrap(ErrDeferred, err.Error())
	}
	return Result{}, ErrDeferred
}

// DrainPass applies every pending envelope in enqueue order. A storage
// failure is retried up to the budget and then aborts the pass with the
// envelope still in the inbox — ordering is strict, so later envelopes
// wait rather than jump the queue.
func (p *Processor) DrainPass(ctx context.Context) ([]Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending, err := p.log.Drain()
	if err != nil {
		p.metrics.SetHealth(metrics.HealthCommandLog, false)
		return nil, err
	}
	p.metrics.SetHealth(metrics.HealthCommandLog, true)

	var results []Result
	for _, pnd := range pending {
		var res Result
		var err error
		for attempt := 1; ; attempt++ {
			res, err = p.processOne(ctx, pnd)
			if err == nil {
				break
			}
			p.metrics.IncrementCounter(metrics.CounterCommandsRetried)
			log.Error().
				Str("command_id", pnd.Envelope.ID).
				Str("kind", string(pnd.Envelope.Kind)).
				Int("attempt", attempt).
				Err(err).
				Msg("Storage failure while applying command")
			if attempt >= p.retryBudget {
				p.metrics.SetHealth(metrics.HealthStorage, false)
				p.updatePendingGauge()
				return results, err
			}
		}
		results = append(results, res)

		if ctx.Err() != nil {
			p.updatePendingGauge()
			return results, ctx.Err()
		}
	}

	p.metrics.SetHealth(metrics.HealthStorage, true)
	p.updatePendingGauge()
	return results, nil
}

// processOne applies a single envelope. A nil error means the envelope
// was relocated to processed — as applied or as rejected; a non-nil
// error means a storage failure left it in the inbox for retry.
func (p *Processor) processOne(ctx context.Context, pnd command.Pending) (Result, error) {
	env := pnd.Envelope
	res := Result{EnvelopeID: env.ID, Kind: env.Kind}
	start := time.Now()

	var txn = p.startTrace(env)
	defer p.endTrace(txn)

	// A replayed idempotency key is a no-op, never a double apply.
	if p.log.SeenKey(env.IdempotencyKey) {
		if err := p.log.Complete(pnd, command.OutcomeApplied); err != nil {
			return res, &store.StorageError{Op: "complete envelope", Err: err}
		}
		res.Outcome = command.OutcomeApplied
		res.Duplicate = true
		log.Info().
			Str("command_id", env.ID).
			Str("kind", string(env.Kind)).
			Str("idempotency_key", env.IdempotencyKey).
			Msg("Duplicate submission ignored")
		return res, nil
	}

	var eff *effects
	err := p.store.Update(func(tx *store.Tx) error {
		e, err := p.dispatch(env, tx)
		if err != nil {
			return err
		}
		eff = e
		return nil
	})

	switch {
	case err == nil:
		// The rename into processed/ is the commit point. If it fails
		// the command stays queued; the state-level stamps make the
		// retry a no-op instead of a double apply.
		if cerr := p.log.Complete(pnd, command.OutcomeApplied); cerr != nil {
			return res, &store.StorageError{Op: "complete envelope", Err: cerr}
		}
		res.Outcome = command.OutcomeApplied
		res.RecordID = eff.recordID
		res.Rows = eff.rows
		res.Duplicate = eff.duplicate

		p.metrics.IncrementCounter(metrics.CounterCommandsApplied)
		if eff.imported > 0 {
			p.metrics.IncrementCounterBy(metrics.CounterLeadsImported, int64(eff.imported))
		}
		p.metrics.RecordSuccess(string(env.Kind))
		p.metrics.RecordTimer("command_"+string(env.Kind), time.Since(start))
		p.afterApply(ctx, eff)

		log.Info().
			Str("command_id", env.ID).
			Str("kind", string(env.Kind)).
			Str("actor", env.Actor).
			Str("record_id", eff.recordID).
			Dur("took", time.Since(start)).
			Msg("Command applied")
		return res, nil

	case store.IsStorageError(err):
		p.recordTraceError(txn, err)
		return res, err

	default:
		outcome := command.RejectedOutcome(rules.Classify(err), err.Error())
		if cerr := p.log.Complete(pnd, outcome); cerr != nil {
			return res, &store.StorageError{Op: "complete envelope", Err: cerr}
		}
		res.Outcome = outcome
		res.Err = err

		p.metrics.IncrementCounter(metrics.CounterCommandsRejected)
		p.metrics.RecordError(string(env.Kind))
		p.recordTraceError(txn, err)

		log.Info().
			Str("command_id", env.ID).
			Str("kind", string(env.Kind)).
			Str("actor", env.Actor).
			Str("outcome", outcome).
			Msg("Command rejected")
		return res, nil
	}
}

// afterApply runs the non-transactional side effects of an applied
// command: session revocation, search indexing. Failures here are logged
// and never undo the command.
func (p *Processor) afterApply(ctx context.Context, eff *effects) {
	if eff.revoke != "" && p.sessions != nil {
		if err := p.sessions.RevokeEmployee(ctx, eff.revoke); err != nil {
			log.Warn().Str("employee_id", eff.revoke).Err(err).Msg("Failed to revoke sessions")
		}
	}

	if !p.search.Enabled() {
		return
	}
	for _, lead := range eff.leads {
		if err := p.search.IndexLead(ctx, lead); err != nil {
			log.Warn().Str("lead_id", lead.ID).Err(err).Msg("Failed to index lead")
		}
	}
	if len(eff.orders) > 0 {
		snap := p.store.Snapshot()
		for _, order := range eff.orders {
			client, _ := snap.Client(order.ClientID)
			if err := p.search.IndexOrder(ctx, order, client); err != nil {
				log.Warn().Str("order_id", order.ID).Err(err).Msg("Failed to index order")
			}
		}
	}
}

func (p *Processor) updatePendingGauge() {
	if n, err := p.log.PendingCount(); err == nil {
		p.metrics.SetGauge(metrics.GaugeInboxPending, int64(n))
	}
}

// traceTxn aliases the agent's transaction handle; nil when tracing is off
type traceTxn = *newrelic.Transaction

func (p *Processor) startTrace(env command.Envelope) traceTxn {
	if p.tracer == nil {
		return nil
	}
	txn := p.tracer.StartTransaction("command/" + string(env.Kind))
	p.tracer.AddAttribute(txn, "command_id", env.ID)
	p.tracer.AddAttribute(txn, "actor", env.Actor)
	return txn
}

func (p *Processor) endTrace(txn traceTxn) {
	if p.tracer == nil {
		return
	}
	p.tracer.EndTransaction(txn)
}

func (p *Processor) recordTraceError(txn traceTxn, err error) {
	if p.tracer == nil {
		return
	}
	p.tracer.RecordError(txn, err)
}
