package models

// Cloud identifies the target cloud provider.
type Cloud string

const (
	CloudAWS   Cloud = "aws"
	CloudAzure Cloud = "azure"
)

func (c Cloud) Valid() bool {
	return c == CloudAWS || c == CloudAzure
}

// Environment identifies the deployment environment.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

func (e Environment) Valid() bool {
	return e == EnvDev || e == EnvStaging || e == EnvProd
}

// Action is the requested orchestration action.
type Action string

const (
	ActionPlan    Action = "plan"
	ActionDeploy  Action = "deploy"
	ActionDestroy Action = "destroy"
)

func (a Action) Valid() bool {
	return a == ActionPlan || a == ActionDeploy || a == ActionDestroy
}

// DeploymentRequest describes one orchestration run. It is constructed per
// invocation and never persisted.
type DeploymentRequest struct {
	Cloud       Cloud       `json:"cloud"`
	Environment Environment `json:"environment"`
	Region      string      `json:"region"`
	Project     string      `json:"project"`
	Action      Action      `json:"action"`
	AutoApprove bool        `json:"auto_approve"`

	// AllowProdDestroy overrides the production destroy safety rail.
	// Its use is logged as an audited override.
	AllowProdDestroy bool `json:"allow_prod_destroy,omitempty"`
}
