package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/models"
)

func consumeLines(t *testing.T, lines []string) *jsonStream {
	t.Helper()
	s := &jsonStream{}
	for _, line := range lines {
		s.consume([]byte(line), nil)
	}
	return s
}

func TestJSONStreamPlanSummary(t *testing.T) {
	s := consumeLines(t, []string{
		`{"@level":"info","@message":"Terraform 1.5.0","type":"version"}`,
		`{"@level":"info","@message":"Plan: 3 to add, 1 to change, 2 to destroy.","type":"change_summary","changes":{"add":3,"change":1,"remove":2,"operation":"plan"}}`,
	})

	got := s.summary("plan")
	want := models.ChangesSummary{Add: 3, Change: 1, Destroy: 2}
	if got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
	if s.errored() {
		t.Error("unexpected diagnostics")
	}
}

func TestJSONStreamApplyOutcomes(t *testing.T) {
	s := consumeLines(t, []string{
		`{"type":"apply_complete","hook":{"resource":{"addr":"aws_vpc.main"},"action":"create"}}`,
		`{"@message":"Error creating DB instance","type":"apply_errored","hook":{"resource":{"addr":"aws_db_instance.primary"},"action":"create"}}`,
		`{"type":"diagnostic","diagnostic":{"severity":"error","summary":"insufficient capacity","detail":""}}`,
		`{"type":"change_summary","changes":{"add":1,"change":0,"remove":0,"operation":"apply"}}`,
	})

	if len(s.resources) != 2 {
		t.Fatalf("resources = %d, want 2", len(s.resources))
	}
	if s.resources[0].Error != "" {
		t.Errorf("completed resource carries error %q", s.resources[0].Error)
	}
	if s.resources[1].Address != "aws_db_instance.primary" || s.resources[1].Error == "" {
		t.Errorf("failed resource not captured: %+v", s.resources[1])
	}
	if !s.errored() || s.firstError() != "insufficient capacity" {
		t.Errorf("firstError = %q", s.firstError())
	}
}

func TestJSONStreamIgnoresGarbage(t *testing.T) {
	s := consumeLines(t, []string{
		"Initializing the backend...",
		`{"type":"change_summary"}`,
		`{broken`,
	})
	if len(s.resources) != 0 || s.errored() {
		t.Error("garbage lines must not produce outcomes")
	}
}

func TestWriteBackendFileAWS(t *testing.T) {
	dir := t.TempDir()
	b := backend.Resolve(&models.DeploymentRequest{
		Cloud:       models.CloudAWS,
		Environment: models.EnvDev,
		Region:      "us-east-1",
		Project:     "demo",
	})

	if err := WriteBackendFile(dir, b, "1.6.2"); err != nil {
		t.Fatalf("WriteBackendFile: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "backend.tf"))
	if err != nil {
		t.Fatalf("read backend.tf: %v", err)
	}

	for _, want := range []string{
		`required_version = ">= 1.6.2"`,
		`backend "s3"`,
		`bucket         = "demo-terraform-state-dev"`,
		`dynamodb_table = "demo-terraform-locks"`,
		`encrypt        = true`,
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("backend.tf missing %q:\n%s", want, content)
		}
	}
}

func TestWriteBackendFileAzure(t *testing.T) {
	dir := t.TempDir()
	b := backend.Resolve(&models.DeploymentRequest{
		Cloud:       models.CloudAzure,
		Environment: models.EnvStaging,
		Region:      "westeurope",
		Project:     "demo",
	})

	if err := WriteBackendFile(dir, b, ""); err != nil {
		t.Fatalf("WriteBackendFile: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "backend.tf"))
	if err != nil {
		t.Fatalf("read backend.tf: %v", err)
	}

	for _, want := range []string{
		`backend "azurerm"`,
		`storage_account_name = "demotfstate"`,
		`key                  = "staging.terraform.tfstate"`,
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("backend.tf missing %q:\n%s", want, content)
		}
	}
}
