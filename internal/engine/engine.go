// Package engine wraps the provisioning tool behind a four-operation
// contract: init, plan, apply, destroy. The orchestrator treats it as an
// opaque black box.
package engine

import (
	"context"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/models"
)

// PlanResult is the computed diff between declared and actual
// infrastructure. Producing it never mutates real resources.
type PlanResult struct {
	Changes    models.ChangesSummary
	HasChanges bool
	PlanFile   string
}

// ApplyResult reports an apply or destroy, including per-resource
// outcomes when the phase failed partway through.
type ApplyResult struct {
	Changes   models.ChangesSummary
	Resources []models.ResourceOutcome
	Failed    int
}

// Engine is the provisioning engine contract.
type Engine interface {
	Init(ctx context.Context, b backend.Config) error
	Plan(ctx context.Context) (*PlanResult, error)
	Apply(ctx context.Context, plan *PlanResult) (*ApplyResult, error)
	Destroy(ctx context.Context) (*ApplyResult, error)
}
