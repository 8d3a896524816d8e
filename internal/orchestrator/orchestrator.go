// Package orchestrator sequences one deployment run through
// INIT -> PLAN -> (APPLY | DESTROY) -> REPORT, serialized per state
// location by the store's lock.
//
// Known limitation: cancellation mid-apply or mid-destroy is not safely
// interruptible; the underlying infrastructure mutation is not atomic and
// no transactional rollback is attempted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/engine"
	"multicloud-deploy/internal/history"
	"multicloud-deploy/internal/logger"
	"multicloud-deploy/internal/models"
	"multicloud-deploy/internal/statestore"
)

const defaultLockTimeout = 2 * time.Minute

// EngineFactory builds a provisioning engine bound to a resolved backend.
type EngineFactory func(b backend.Config) engine.Engine

// Orchestrator runs deployment requests. All collaborators are injected;
// there is no process-global state.
type Orchestrator struct {
	store       statestore.Store
	engines     EngineFactory
	history     *history.Store
	lockTimeout time.Duration
	log         *logrus.Entry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLockTimeout bounds how long a run waits on a held lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.lockTimeout = d }
}

// WithHistory records completed runs in the journal.
func WithHistory(h *history.Store) Option {
	return func(o *Orchestrator) { o.history = h }
}

func New(store statestore.Store, engines EngineFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		engines:     engines,
		lockTimeout: defaultLockTimeout,
		log:         logger.WithModule("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one request end to end. Validation failures, lock
// timeouts, and backend failures are returned as errors before any
// mutation. Apply and destroy failures are captured into the result
// (status failed, per-resource detail) rather than returned, because the
// caller needs the partial-success detail to decide remediation. Nothing
// is retried automatically.
func (o *Orchestrator) Run(ctx context.Context, req *models.DeploymentRequest) (*models.DeploymentResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if req.Action == models.ActionDestroy && req.Environment == models.EnvProd {
		// audited override of the prod destroy rail
		o.log.WithFields(logrus.Fields{
			"project": req.Project,
			"region":  req.Region,
		}).Warn("Production destroy override in effect")
	}

	b := backend.Resolve(req)
	runID := uuid.New().String()
	log := o.log.WithFields(logrus.Fields{
		"run_id":         runID,
		"action":         req.Action,
		"state_location": b.StateLocation(),
	})

	lease, err := o.store.AcquireLock(ctx, b, o.lockTimeout)
	if err != nil {
		if errors.Is(err, statestore.ErrLockTimeout) {
			log.Warn("Lock wait bound exceeded")
			return nil, statestore.ErrLockTimeout
		}
		return nil, err
	}
	log.WithField("lease_id", lease.ID).Info("State lock acquired")

	start := time.Now()
	result := &models.DeploymentResult{
		RunID:  runID,
		Action: req.Action,
		Status: models.StatusFailed,
	}

	// REPORT always runs: release the lock exactly once on every exit
	// path and journal the outcome.
	defer func() {
		result.Duration = time.Since(start)
		result.CompletedAt = time.Now().UTC()
		if err := o.store.ReleaseLock(context.WithoutCancel(ctx), lease); err != nil {
			log.WithError(err).Error("Failed to release state lock")
		} else {
			log.Debug("State lock released")
		}
		if o.history != nil {
			if err := o.history.Record(req, result); err != nil {
				log.WithError(err).Error("Failed to record run in history")
			}
		}
		log.WithFields(logrus.Fields{
			"status":   result.Status,
			"duration": result.Duration.String(),
		}).Info("Run complete")
	}()

	o.execute(ctx, req, b, result, log)
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, req *models.DeploymentRequest, b backend.Config, result *models.DeploymentResult, log *logrus.Entry) {
	eng := o.engines(b)
	// nil transaction when monitoring is off; segments are no-ops then
	txn := newrelic.FromContext(ctx)

	// INIT
	seg := txn.StartSegment("init")
	err := o.initPhase(ctx, b, eng, result.RunID)
	seg.End()
	if err != nil {
		o.fail(ctx, result, fmt.Errorf("init: %w", err))
		return
	}
	log.Info("Backend initialized")

	// PLAN
	seg = txn.StartSegment("plan")
	plan, err := eng.Plan(ctx)
	seg.End()
	if err != nil {
		o.fail(ctx, result, fmt.Errorf("plan: %w", err))
		return
	}
	result.Changes = &plan.Changes
	log.WithFields(logrus.Fields{
		"add":     plan.Changes.Add,
		"change":  plan.Changes.Change,
		"destroy": plan.Changes.Destroy,
	}).Info("Plan computed")

	if req.Action == models.ActionPlan {
		result.Status = models.StatusSuccess
		return
	}

	// APPLY | DESTROY
	seg = txn.StartSegment(string(req.Action))
	var applied *engine.ApplyResult
	if req.Action == models.ActionDestroy {
		applied, err = eng.Destroy(ctx)
	} else {
		applied, err = eng.Apply(ctx, plan)
	}
	seg.End()
	if err != nil {
		o.fail(ctx, result, fmt.Errorf("%s: %w", req.Action, err))
		return
	}

	result.Changes = &applied.Changes
	result.Resources = applied.Resources
	if applied.Failed > 0 {
		result.Status = models.StatusFailed
		result.Error = (&models.PartialApplyError{
			Failed:    applied.Failed,
			Succeeded: len(applied.Resources) - applied.Failed,
		}).Error()
		return
	}
	result.Status = models.StatusSuccess
}

// initPhase prepares the backend and seeds an empty state blob when the
// path does not exist yet. Idempotent; it is the safe re-entry point
// after a failed run.
func (o *Orchestrator) initPhase(ctx context.Context, b backend.Config, eng engine.Engine, lineage string) error {
	if err := o.store.EnsureBackend(ctx, b); err != nil {
		return err
	}
	if _, err := o.store.ReadState(ctx, b); err != nil {
		if !errors.Is(err, statestore.ErrStateNotFound) {
			return err
		}
		if err := o.store.WriteState(ctx, b, statestore.InitialState(lineage)); err != nil {
			return err
		}
	}
	return eng.Init(ctx, b)
}

func (o *Orchestrator) fail(ctx context.Context, result *models.DeploymentResult, err error) {
	if ctx.Err() != nil {
		result.Status = models.StatusAborted
	} else {
		result.Status = models.StatusFailed
	}
	result.Error = err.Error()
}

// ExitCode maps a run outcome to the CLI contract: 0 success,
// 1 validation error, 2 lock timeout, 3 failed or partial apply.
func ExitCode(result *models.DeploymentResult, err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return 1
	case errors.Is(err, statestore.ErrLockTimeout):
		return 2
	case err != nil:
		return 3
	case result != nil && result.Status != models.StatusSuccess:
		return 3
	default:
		return 0
	}
}
