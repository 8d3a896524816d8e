package backend

import (
	"regexp"
	"strings"
	"testing"

	"multicloud-deploy/internal/models"
)

func TestResolveAWS(t *testing.T) {
	req := &models.DeploymentRequest{
		Cloud:       models.CloudAWS,
		Environment: models.EnvDev,
		Region:      "us-east-1",
		Project:     "demo",
		Action:      models.ActionPlan,
	}

	cfg := Resolve(req)

	if cfg.Bucket != "demo-terraform-state-dev" {
		t.Errorf("Bucket = %v, want demo-terraform-state-dev", cfg.Bucket)
	}
	if cfg.Key != "dev/terraform.tfstate" {
		t.Errorf("Key = %v, want dev/terraform.tfstate", cfg.Key)
	}
	if cfg.LockTable != "demo-terraform-locks" {
		t.Errorf("LockTable = %v, want demo-terraform-locks", cfg.LockTable)
	}
	if cfg.StateLocation() != "aws/demo/dev/terraform.tfstate" {
		t.Errorf("StateLocation = %v", cfg.StateLocation())
	}
}

func TestResolveAzure(t *testing.T) {
	req := &models.DeploymentRequest{
		Cloud:       models.CloudAzure,
		Environment: models.EnvProd,
		Region:      "westeurope",
		Project:     "my-app",
		Action:      models.ActionPlan,
	}

	cfg := Resolve(req)

	if cfg.ResourceGroup != "my-app-terraform-rg" {
		t.Errorf("ResourceGroup = %v, want my-app-terraform-rg", cfg.ResourceGroup)
	}
	if !strings.HasPrefix(cfg.StorageAccount, "myapp") || !strings.HasSuffix(cfg.StorageAccount, "tfstate") {
		t.Errorf("StorageAccount = %v, want myapp<hash>tfstate", cfg.StorageAccount)
	}
	if cfg.Container != "tfstate" {
		t.Errorf("Container = %v, want tfstate", cfg.Container)
	}
	if cfg.Key != "prod.terraform.tfstate" {
		t.Errorf("Key = %v, want prod.terraform.tfstate", cfg.Key)
	}
}

func TestResolveDeterministic(t *testing.T) {
	req := &models.DeploymentRequest{
		Cloud:       models.CloudAWS,
		Environment: models.EnvStaging,
		Region:      "eu-west-1",
		Project:     "demo",
		Action:      models.ActionDeploy,
	}

	first := Resolve(req)
	second := Resolve(req)

	if first != second {
		t.Errorf("Resolve is not deterministic: %+v != %+v", first, second)
	}
}

func TestStateLocationUnique(t *testing.T) {
	clouds := []models.Cloud{models.CloudAWS, models.CloudAzure}
	envs := []models.Environment{models.EnvDev, models.EnvStaging, models.EnvProd}
	projects := []string{"demo", "demo-app", "other"}

	seen := make(map[string]string)
	for _, c := range clouds {
		for _, e := range envs {
			for _, p := range projects {
				cfg := Resolve(&models.DeploymentRequest{
					Cloud:       c,
					Environment: e,
					Region:      "us-east-1",
					Project:     p,
				})
				loc := cfg.StateLocation()
				key := string(c) + "|" + string(e) + "|" + p
				if prev, ok := seen[loc]; ok {
					t.Errorf("state location %q shared by %s and %s", loc, prev, key)
				}
				seen[loc] = key
			}
		}
	}
}

// physicalPath is the provider-level storage coordinates, independent of
// the logical state location string.
func physicalPath(cfg Config) string {
	if cfg.Cloud == models.CloudAzure {
		return cfg.StorageAccount + "|" + cfg.Container + "|" + cfg.Key
	}
	return cfg.Bucket + "|" + cfg.Key
}

func TestPhysicalBackendUnique(t *testing.T) {
	// hyphen placement must not collapse distinct projects onto the same
	// remote state
	projects := []string{"abc", "ab-c", "a-bc", "demo", "demo-app", "demoapp"}
	envs := []models.Environment{models.EnvDev, models.EnvStaging, models.EnvProd}
	clouds := []models.Cloud{models.CloudAWS, models.CloudAzure}

	seen := make(map[string]string)
	locks := make(map[string]string)
	for _, c := range clouds {
		for _, e := range envs {
			for _, p := range projects {
				cfg := Resolve(&models.DeploymentRequest{
					Cloud:       c,
					Environment: e,
					Region:      "us-east-1",
					Project:     p,
				})
				key := string(c) + "|" + string(e) + "|" + p

				phys := string(c) + "|" + physicalPath(cfg)
				if prev, ok := seen[phys]; ok {
					t.Errorf("physical state path %q shared by %s and %s", phys, prev, key)
				}
				seen[phys] = key

				lock := string(c) + "|" + cfg.LockKey()
				if prev, ok := locks[lock]; ok {
					t.Errorf("lock key %q shared by %s and %s", lock, prev, key)
				}
				locks[lock] = key
			}
		}
	}
}

func TestLockKeyGuardsPhysicalPath(t *testing.T) {
	for _, cloud := range []models.Cloud{models.CloudAWS, models.CloudAzure} {
		cfg := Resolve(&models.DeploymentRequest{
			Cloud:       cloud,
			Environment: models.EnvDev,
			Region:      "us-east-1",
			Project:     "demo",
		})
		// the lease must be tied to the storage coordinates it protects
		want := strings.ReplaceAll(physicalPath(cfg), "|", "/")
		if cfg.LockKey() != want {
			t.Errorf("%s LockKey = %q, want %q", cloud, cfg.LockKey(), want)
		}
	}
}

func TestAzureStorageAccountConstraints(t *testing.T) {
	accountRe := regexp.MustCompile(`^[a-z0-9]{3,24}$`)
	projects := []string{"abc", "ab-c", "my-app", "a-very-long-project-name-with-hyphens"}

	for _, p := range projects {
		cfg := Resolve(&models.DeploymentRequest{
			Cloud:       models.CloudAzure,
			Environment: models.EnvDev,
			Region:      "westeurope",
			Project:     p,
		})
		if !accountRe.MatchString(cfg.StorageAccount) {
			t.Errorf("project %q: storage account %q violates naming rules", p, cfg.StorageAccount)
		}
		// deterministic across invocations
		again := Resolve(&models.DeploymentRequest{
			Cloud:       models.CloudAzure,
			Environment: models.EnvDev,
			Region:      "westeurope",
			Project:     p,
		})
		if cfg.StorageAccount != again.StorageAccount {
			t.Errorf("project %q: storage account not deterministic", p)
		}
	}
}

func TestBucketNameWithinS3Limit(t *testing.T) {
	// longest project Validate accepts, in the longest environment name
	project := "p" + strings.Repeat("x", 38)
	cfg := Resolve(&models.DeploymentRequest{
		Cloud:       models.CloudAWS,
		Environment: models.EnvStaging,
		Region:      "us-east-1",
		Project:     project,
	})
	if len(cfg.Bucket) > 63 {
		t.Errorf("bucket %q is %d chars, over the S3 63-char limit", cfg.Bucket, len(cfg.Bucket))
	}
}

func TestInitArgs(t *testing.T) {
	tests := []struct {
		name  string
		cloud models.Cloud
		want  string
	}{
		{name: "aws backend args", cloud: models.CloudAWS, want: "-backend-config=bucket=demo-terraform-state-dev"},
		{name: "azure backend args", cloud: models.CloudAzure, want: "-backend-config=container_name=tfstate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Resolve(&models.DeploymentRequest{
				Cloud:       tt.cloud,
				Environment: models.EnvDev,
				Region:      "us-east-1",
				Project:     "demo",
			})

			found := false
			for _, arg := range cfg.InitArgs() {
				if arg == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("InitArgs %v missing %q", cfg.InitArgs(), tt.want)
			}
		})
	}
}
