// Package backend resolves the remote-state backend for a deployment
// request. Resolution is a pure function of (cloud, environment, project):
// no two distinct triples may map to the same state location.
package backend

import (
	"fmt"
	"hash/fnv"
	"strings"

	"multicloud-deploy/internal/models"
)

// Config is the resolved remote-state backend for one run. It is derived
// from the request and never mutated.
type Config struct {
	Cloud       models.Cloud
	Environment models.Environment
	Region      string
	Project     string

	// AWS backend: S3 bucket + key, DynamoDB lock table.
	Bucket    string
	Key       string
	LockTable string

	// Azure backend: storage account + container + key. The resource group
	// is where the storage account lives.
	ResourceGroup  string
	StorageAccount string
	Container      string
}

// Resolve maps a request to its backend configuration. The naming follows
// the established convention: per-project, per-environment S3 buckets with
// a shared lock table on AWS, and a per-project storage account with
// per-environment state keys on Azure.
func Resolve(req *models.DeploymentRequest) Config {
	cfg := Config{
		Cloud:       req.Cloud,
		Environment: req.Environment,
		Region:      req.Region,
		Project:     req.Project,
	}

	switch req.Cloud {
	case models.CloudAzure:
		cfg.ResourceGroup = fmt.Sprintf("%s-terraform-rg", req.Project)
		cfg.StorageAccount = azureStorageAccount(req.Project)
		cfg.Container = "tfstate"
		cfg.Key = fmt.Sprintf("%s.terraform.tfstate", req.Environment)
	default:
		cfg.Bucket = fmt.Sprintf("%s-terraform-state-%s", req.Project, req.Environment)
		cfg.Key = fmt.Sprintf("%s/terraform.tfstate", req.Environment)
		cfg.LockTable = fmt.Sprintf("%s-terraform-locks", req.Project)
	}

	return cfg
}

// StateLocation is the unique remote-state path for this backend. The
// components cannot contain a separator (project names are validated to an
// identifier charset), so the mapping is injective.
func (c Config) StateLocation() string {
	return fmt.Sprintf("%s/%s/%s/terraform.tfstate", c.Cloud, c.Project, c.Environment)
}

// LockKey is the lease key guarding this state location. It is derived
// from the physical state coordinates, so two runs can only hold distinct
// leases if they target distinct remote state. At most one active lease
// may exist per key at any time.
func (c Config) LockKey() string {
	if c.Cloud == models.CloudAzure {
		return fmt.Sprintf("%s/%s/%s", c.StorageAccount, c.Container, c.Key)
	}
	return fmt.Sprintf("%s/%s", c.Bucket, c.Key)
}

// azureStorageAccount derives the storage account name for a project.
// Account names allow at most 24 lowercase alphanumerics, so the project
// name is compacted and suffixed with a short hash of the raw name: two
// distinct projects (say ab-c and abc) must never share an account.
func azureStorageAccount(project string) string {
	h := fnv.New32a()
	h.Write([]byte(project))
	compact := strings.ReplaceAll(project, "-", "")
	if len(compact) > 9 {
		compact = compact[:9]
	}
	return fmt.Sprintf("%s%08xtfstate", compact, h.Sum32())
}

// InitArgs returns the -backend-config arguments handed to the
// provisioning engine on init.
func (c Config) InitArgs() []string {
	if c.Cloud == models.CloudAzure {
		return []string{
			"-backend-config=resource_group_name=" + c.ResourceGroup,
			"-backend-config=storage_account_name=" + c.StorageAccount,
			"-backend-config=container_name=" + c.Container,
			"-backend-config=key=" + c.Key,
		}
	}
	return []string{
		"-backend-config=bucket=" + c.Bucket,
		"-backend-config=key=" + c.Key,
		"-backend-config=region=" + c.Region,
		"-backend-config=dynamodb_table=" + c.LockTable,
		"-backend-config=encrypt=true",
	}
}
