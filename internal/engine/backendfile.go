package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/models"
)

const defaultTerraformVersion = "1.5.0"

var backendTmpl = template.Must(template.New("backend").Parse(`terraform {
  required_version = ">= {{ .Version }}"

{{- if .AWS }}
  backend "s3" {
    bucket         = "{{ .Backend.Bucket }}"
    key            = "{{ .Backend.Key }}"
    region         = "{{ .Backend.Region }}"
    dynamodb_table = "{{ .Backend.LockTable }}"
    encrypt        = true
  }
{{- else }}
  backend "azurerm" {
    resource_group_name  = "{{ .Backend.ResourceGroup }}"
    storage_account_name = "{{ .Backend.StorageAccount }}"
    container_name       = "{{ .Backend.Container }}"
    key                  = "{{ .Backend.Key }}"
  }
{{- end }}
}
`))

// WriteBackendFile renders backend.tf for the resolved backend into the
// working directory. Overwrites any previous rendering; the content is a
// pure function of the backend config.
func WriteBackendFile(dir string, b backend.Config, version string) error {
	if version == "" {
		version = defaultTerraformVersion
	}

	f, err := os.Create(filepath.Join(dir, "backend.tf"))
	if err != nil {
		return fmt.Errorf("failed to create backend.tf: %w", err)
	}
	defer f.Close()

	data := struct {
		Version string
		AWS     bool
		Backend backend.Config
	}{
		Version: version,
		AWS:     b.Cloud == models.CloudAWS,
		Backend: b,
	}
	if err := backendTmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render backend.tf: %w", err)
	}
	return nil
}
