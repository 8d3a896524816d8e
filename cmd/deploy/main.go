package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"multicloud-deploy/internal/backend"
	"multicloud-deploy/internal/config"
	"multicloud-deploy/internal/engine"
	"multicloud-deploy/internal/history"
	"multicloud-deploy/internal/logger"
	"multicloud-deploy/internal/models"
	"multicloud-deploy/internal/monitoring"
	"multicloud-deploy/internal/orchestrator"
	"multicloud-deploy/internal/statestore"
)

func main() {
	os.Exit(run())
}

func run() int {
	appLogger := logger.Initialize()
	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "history" {
		return showHistory(cfg, os.Args[2:])
	}

	flags := flag.NewFlagSet("deploy", flag.ExitOnError)
	cloud := flags.String("cloud", "", "cloud provider (aws|azure)")
	env := flags.String("env", "", "deployment environment (dev|staging|prod)")
	region := flags.String("region", "", "cloud region")
	project := flags.String("project", "", "project name")
	action := flags.String("action", "deploy", "action to perform (plan|deploy|destroy)")
	autoApprove := flags.Bool("auto-approve", false, "skip the interactive confirmation")
	allowProdDestroy := flags.Bool("allow-prod-destroy", false, "explicit override for destroying prod (audited)")
	flags.Parse(os.Args[1:])

	fileCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		appLogger.WithError(err).Error("Failed to load config file")
		return 1
	}
	defaults := fileCfg.Defaults(*env)
	if *region == "" {
		*region = defaults.Region
	}
	if fileCfg.TerraformVersion != "" {
		cfg.TerraformVersion = fileCfg.TerraformVersion
	}

	req := &models.DeploymentRequest{
		Cloud:            models.Cloud(*cloud),
		Environment:      models.Environment(*env),
		Region:           *region,
		Project:          *project,
		Action:           models.Action(*action),
		AutoApprove:      *autoApprove,
		AllowProdDestroy: *allowProdDestroy,
	}
	if err := orchestrator.Validate(req); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	if mutates(req.Action) && !req.AutoApprove && !confirm(req) {
		appLogger.Info("Cancelled by user")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := backend.Resolve(req)
	store, err := buildStore(ctx, cfg, req, b)
	if err != nil {
		appLogger.WithError(err).Error("Failed to build state store")
		return 3
	}

	hist, err := history.Open(cfg.HistoryDB)
	if err != nil {
		appLogger.WithError(err).Error("Failed to open run history")
		return 3
	}
	defer hist.Close()

	nrApp, err := monitoring.Initialize(cfg)
	if err != nil {
		appLogger.WithError(err).Warn("Continuing without monitoring")
	}

	engines := func(b backend.Config) engine.Engine {
		r := engine.NewTerraformRunner(cfg.TerraformBin,
			filepath.Join(cfg.WorkDir, "environments", string(req.Environment)))
		r.TerraformVersion = cfg.TerraformVersion
		r.VarFile = defaults.VarFile
		return r
	}

	orch := orchestrator.New(store, engines,
		orchestrator.WithLockTimeout(cfg.LockTimeout),
		orchestrator.WithHistory(hist),
	)

	runCtx, txn := monitoring.StartRun(ctx, nrApp, req)
	result, err := orch.Run(runCtx, req)
	txn.End()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	if result != nil {
		monitoring.RecordResult(nrApp, req, result)
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
	return orchestrator.ExitCode(result, err)
}

func mutates(a models.Action) bool {
	return a == models.ActionDeploy || a == models.ActionDestroy
}

func confirm(req *models.DeploymentRequest) bool {
	verb := "deployment to"
	if req.Action == models.ActionDestroy {
		verb = "destruction of"
	}
	fmt.Printf("Proceed with %s %s/%s in %s? (yes/no): ", verb, req.Project, req.Environment, req.Region)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(answer)) == "yes"
}

func buildStore(ctx context.Context, cfg *config.Config, req *models.DeploymentRequest, b backend.Config) (statestore.Store, error) {
	if req.Cloud == models.CloudAzure {
		if cfg.AzureStorageKey == "" {
			return nil, fmt.Errorf("AZURE_STORAGE_KEY is required for azure deployments")
		}
		return statestore.NewAzure(b.StorageAccount, cfg.AzureStorageKey)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(req.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return statestore.NewAWS(awsCfg), nil
}

func showHistory(cfg *config.Config, args []string) int {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	n := flags.Int("n", 10, "number of runs to show")
	flags.Parse(args)

	hist, err := history.Open(cfg.HistoryDB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 3
	}
	defer hist.Close()

	runs, err := hist.Recent(*n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 3
	}
	for _, r := range runs {
		fmt.Printf("%s  %-7s %-8s %-7s %s/%s (+%d ~%d -%d) %dms %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.Action, r.Status,
			r.Cloud, r.Project, r.Environment,
			r.Adds, r.Changes, r.Destroys, r.DurationMS, r.Error)
	}
	return 0
}
