// Package monitoring wires optional New Relic instrumentation around
// deployment runs. Disabled by default; the orchestrator works the same
// with or without it.
package monitoring

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"multicloud-deploy/internal/config"
	"multicloud-deploy/internal/logger"
	"multicloud-deploy/internal/models"
)

// Initialize sets up the New Relic application. Returns a disabled
// application when monitoring is off or the license key is missing.
func Initialize(cfg *config.Config) (*newrelic.Application, error) {
	log := logger.WithModule("monitoring")

	if !cfg.NewRelicEnabled {
		log.Debug("New Relic monitoring is disabled")
		return newrelic.NewApplication(newrelic.ConfigEnabled(false))
	}
	if cfg.NewRelicLicense == "" {
		log.Warn("New Relic license key is not provided, monitoring will be disabled")
		return newrelic.NewApplication(newrelic.ConfigEnabled(false))
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.NewRelicAppName),
		newrelic.ConfigLicense(cfg.NewRelicLicense),
		newrelic.ConfigLogger(nrLogger{log: log}),
	)
	if err != nil {
		log.WithError(err).Error("Failed to initialize New Relic")
		return nil, err
	}
	log.WithField("app_name", cfg.NewRelicAppName).Info("New Relic initialized")
	return app, nil
}

// StartRun opens one transaction for a deployment run and attaches it to
// the context so the orchestrator's phases can report segments. The
// returned transaction is nil when monitoring is off; ending a nil
// transaction is a no-op.
func StartRun(ctx context.Context, app *newrelic.Application, req *models.DeploymentRequest) (context.Context, *newrelic.Transaction) {
	if app == nil {
		return ctx, nil
	}
	txn := app.StartTransaction("deploy/" + string(req.Action))
	txn.AddAttribute("cloud", string(req.Cloud))
	txn.AddAttribute("environment", string(req.Environment))
	txn.AddAttribute("project", req.Project)
	return newrelic.NewContext(ctx, txn), txn
}

// RecordResult emits one DeploymentResult custom event per run.
func RecordResult(app *newrelic.Application, req *models.DeploymentRequest, res *models.DeploymentResult) {
	if app == nil || res == nil {
		return
	}
	attrs := map[string]interface{}{
		"runId":       res.RunID,
		"cloud":       string(req.Cloud),
		"environment": string(req.Environment),
		"project":     req.Project,
		"action":      string(res.Action),
		"status":      string(res.Status),
		"durationMs":  res.Duration.Milliseconds(),
	}
	if res.Changes != nil {
		attrs["add"] = res.Changes.Add
		attrs["change"] = res.Changes.Change
		attrs["destroy"] = res.Changes.Destroy
	}
	app.RecordCustomEvent("DeploymentResult", attrs)
}

// nrLogger bridges the agent's logging onto logrus.
type nrLogger struct {
	log *logrus.Entry
}

func (l nrLogger) Error(msg string, context map[string]interface{}) {
	l.log.WithFields(logrus.Fields(context)).Error(msg)
}

func (l nrLogger) Warn(msg string, context map[string]interface{}) {
	l.log.WithFields(logrus.Fields(context)).Warn(msg)
}

func (l nrLogger) Info(msg string, context map[string]interface{}) {
	l.log.WithFields(logrus.Fields(context)).Info(msg)
}

func (l nrLogger) Debug(msg string, context map[string]interface{}) {
	l.log.WithFields(logrus.Fields(context)).Debug(msg)
}

func (l nrLogger) DebugEnabled() bool {
	return l.log.Logger.IsLevelEnabled(logrus.DebugLevel)
}
