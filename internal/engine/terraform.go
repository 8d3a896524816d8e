package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/logger"
	"multicloud-deploy/internal/models"
)

const planFileName = "tfplan"

// TerraformRunner drives the terraform binary in a per-environment
// working directory, consuming its machine-readable (-json) log stream.
type TerraformRunner struct {
	Bin     string
	Dir     string
	VarFile string

	// TerraformVersion pins required_version in the generated backend file.
	TerraformVersion string

	log *logrus.Entry
}

func NewTerraformRunner(bin, dir string) *TerraformRunner {
	if bin == "" {
		bin = "terraform"
	}
	return &TerraformRunner{
		Bin: bin,
		Dir: dir,
		log: logger.WithModule("terraform"),
	}
}

// Init writes the backend configuration file and initializes the working
// directory. Safe to call when already initialized.
func (r *TerraformRunner) Init(ctx context.Context, b backend.Config) error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := WriteBackendFile(r.Dir, b, r.TerraformVersion); err != nil {
		return err
	}

	args := append([]string{"init", "-input=false", "-reconfigure"}, b.InitArgs()...)
	cmd := exec.CommandContext(ctx, r.Bin, args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("terraform init failed: %w: %s", err, string(out))
	}
	r.log.WithField("dir", r.Dir).Info("Working directory initialized")
	return nil
}

// Plan computes the diff and saves it to a plan file so a subsequent
// apply executes exactly what was reviewed. Never mutates resources.
func (r *TerraformRunner) Plan(ctx context.Context) (*PlanResult, error) {
	args := []string{"plan", "-input=false", "-json", "-out=" + planFileName}
	if r.VarFile != "" {
		args = append(args, "-var-file="+r.VarFile)
	}

	stream, err := r.runJSON(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("terraform plan failed: %w", err)
	}
	if stream.errored() {
		return nil, fmt.Errorf("terraform plan failed: %s", stream.firstError())
	}

	summary := stream.summary("plan")
	return &PlanResult{
		Changes:    summary,
		HasChanges: summary.Add+summary.Change+summary.Destroy > 0,
		PlanFile:   filepath.Join(r.Dir, planFileName),
	}, nil
}

// Apply executes a saved plan. On partial failure the per-resource
// outcomes carry which resources succeeded and which did not; the caller
// decides remediation, nothing is retried here.
func (r *TerraformRunner) Apply(ctx context.Context, plan *PlanResult) (*ApplyResult, error) {
	args := []string{"apply", "-input=false", "-json", planFileName}
	return r.runMutation(ctx, args, "apply")
}

// Destroy removes the managed infrastructure. The same partial-failure
// reporting as Apply.
func (r *TerraformRunner) Destroy(ctx context.Context) (*ApplyResult, error) {
	args := []string{"destroy", "-input=false", "-auto-approve", "-json"}
	if r.VarFile != "" {
		args = append(args, "-var-file="+r.VarFile)
	}
	return r.runMutation(ctx, args, "destroy")
}

func (r *TerraformRunner) runMutation(ctx context.Context, args []string, op string) (*ApplyResult, error) {
	stream, err := r.runJSON(ctx, args)
	if err != nil && len(stream.resources) == 0 {
		// nothing mutated before the failure
		return nil, fmt.Errorf("terraform %s failed: %w", op, err)
	}

	result := &ApplyResult{
		Changes:   stream.summary(op),
		Resources: stream.resources,
	}
	for _, res := range stream.resources {
		if res.Error != "" {
			result.Failed++
		}
	}
	if err != nil && result.Failed == 0 {
		// process failed without a resource-level error, surface the
		// diagnostics instead
		return nil, fmt.Errorf("terraform %s failed: %s", op, stream.firstError())
	}
	return result, nil
}

// runJSON executes terraform and decodes its line-delimited JSON log.
func (r *TerraformRunner) runJSON(ctx context.Context, args []string) (*jsonStream, error) {
	cmd := exec.CommandContext(ctx, r.Bin, args...)
	cmd.Dir = r.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &jsonStream{}, err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return &jsonStream{}, err
	}

	stream := &jsonStream{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		stream.consume(scanner.Bytes(), r.log)
	}

	waitErr := cmd.Wait()
	if serr := scanner.Err(); serr != nil && waitErr == nil {
		waitErr = serr
	}
	return stream, waitErr
}

// jsonStream accumulates the relevant messages from terraform's -json
// output: change summaries, per-resource apply outcomes, and diagnostics.
type jsonStream struct {
	summaries map[string]models.ChangesSummary
	resources []models.ResourceOutcome
	errs      []string
}

type logLine struct {
	Level   string `json:"@level"`
	Message string `json:"@message"`
	Type    string `json:"type"`
	Changes *struct {
		Add       int    `json:"add"`
		Change    int    `json:"change"`
		Remove    int    `json:"remove"`
		Operation string `json:"operation"`
	} `json:"changes"`
	Hook *struct {
		Resource struct {
			Addr string `json:"addr"`
		} `json:"resource"`
		Action string `json:"action"`
	} `json:"hook"`
	Diagnostic *struct {
		Severity string `json:"severity"`
		Summary  string `json:"summary"`
		Detail   string `json:"detail"`
	} `json:"diagnostic"`
}

func (s *jsonStream) consume(line []byte, log *logrus.Entry) {
	var msg logLine
	if err := json.Unmarshal(line, &msg); err != nil {
		// terraform occasionally emits plain text even in -json mode
		return
	}

	switch msg.Type {
	case "change_summary":
		if msg.Changes != nil {
			if s.summaries == nil {
				s.summaries = make(map[string]models.ChangesSummary)
			}
			s.summaries[msg.Changes.Operation] = models.ChangesSummary{
				Add:     msg.Changes.Add,
				Change:  msg.Changes.Change,
				Destroy: msg.Changes.Remove,
			}
		}
	case "apply_complete":
		if msg.Hook != nil {
			s.resources = append(s.resources, models.ResourceOutcome{
				Address: msg.Hook.Resource.Addr,
				Action:  msg.Hook.Action,
			})
		}
	case "apply_errored":
		if msg.Hook != nil {
			s.resources = append(s.resources, models.ResourceOutcome{
				Address: msg.Hook.Resource.Addr,
				Action:  msg.Hook.Action,
				Error:   msg.Message,
			})
		}
	case "diagnostic":
		if msg.Diagnostic != nil && msg.Diagnostic.Severity == "error" {
			s.errs = append(s.errs, msg.Diagnostic.Summary)
		}
	default:
		if log != nil && msg.Message != "" {
			log.Debug(msg.Message)
		}
	}
}

func (s *jsonStream) summary(operation string) models.ChangesSummary {
	if sum, ok := s.summaries[operation]; ok {
		return sum
	}
	// destroy reports under the apply operation in some versions
	if sum, ok := s.summaries["apply"]; ok {
		return sum
	}
	return models.ChangesSummary{}
}

func (s *jsonStream) errored() bool { return len(s.errs) > 0 }

func (s *jsonStream) firstError() string {
	if len(s.errs) == 0 {
		return "unknown error"
	}
	return s.errs[0]
}
