package orchestrator

import (
	"regexp"

	"multicloud-deploy/internal/models"
)

var (
	// us-east-1, eu-central-1, ap-southeast-2, us-gov-west-1
	awsRegionRe = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-[0-9]$`)
	// eastus, westeurope, southeastasia
	azureRegionRe = regexp.MustCompile(`^[a-z][a-z0-9]{2,29}$`)
	// identifier-safe and short enough that the longest resolved bucket
	// name, <project>-terraform-state-staging, stays within the S3
	// 63-character cap
	projectRe = regexp.MustCompile(`^[a-z][a-z0-9-]{0,38}$`)
)

// Validate rejects a malformed request before any side effect. A prod
// destroy without the explicit override always fails UnsafeDestroy; no
// lock is ever acquired for it.
func Validate(req *models.DeploymentRequest) error {
	if !req.Cloud.Valid() {
		return &models.ValidationError{
			Code:   models.InvalidCloud,
			Field:  "cloud",
			Reason: "must be one of aws, azure",
		}
	}
	if !req.Environment.Valid() {
		return &models.ValidationError{
			Code:   models.InvalidEnvironment,
			Field:  "environment",
			Reason: "must be one of dev, staging, prod",
		}
	}
	if !req.Action.Valid() {
		return &models.ValidationError{
			Code:   models.InvalidAction,
			Field:  "action",
			Reason: "must be one of plan, deploy, destroy",
		}
	}

	regionRe := awsRegionRe
	if req.Cloud == models.CloudAzure {
		regionRe = azureRegionRe
	}
	if !regionRe.MatchString(req.Region) {
		return &models.ValidationError{
			Code:   models.InvalidRegion,
			Field:  "region",
			Reason: "not a valid " + string(req.Cloud) + " region identifier",
		}
	}

	if !projectRe.MatchString(req.Project) {
		return &models.ValidationError{
			Code:   models.InvalidProject,
			Field:  "project",
			Reason: "must be a non-empty lowercase identifier (letters, digits, hyphens)",
		}
	}

	if req.Action == models.ActionDestroy && req.Environment == models.EnvProd && !req.AllowProdDestroy {
		return &models.ValidationError{
			Code:   models.UnsafeDestroy,
			Field:  "action",
			Reason: "destroying prod requires the explicit --allow-prod-destroy override",
		}
	}

	return nil
}
