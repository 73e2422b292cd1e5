package cmd

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/bucketcloner/bucketcloner/internal/config"
	"github.com/bucketcloner/bucketcloner/internal/progress"
	"github.com/bucketcloner/bucketcloner/internal/service"
)

var cloneParams struct {
	workspaces     []string
	project        string
	skipExisting   bool
	refresh        bool
	projectFolders bool
	baseFolder     string
	auth           config.AuthMode
	include        []string
	exclude        []string
	metricsAddr    string
	noProgress     bool
}

var authModes = map[config.AuthMode][]string{
	config.AuthHTTPS: {"https"},
	config.AuthSSH:   {"ssh"},
}

func init() {
	cloneCommand := &cobra.Command{
		Use:   "clone",
		Short: "Clone or refresh all repositories of the selected workspaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClone(cmd)
		},
	}

	flags := cloneCommand.Flags()
	flags.StringSliceVarP(&cloneParams.workspaces, "workspace", "w", nil, "workspace slug(s), separated by comma (default: all workspaces)")
	flags.BoolVarP(&cloneParams.skipExisting, "skip-existing", "s", false, "skip existing repositories")
	flags.BoolVarP(&cloneParams.refresh, "refresh", "r", false, "pull changes if the repository exists")
	flags.StringVar(&cloneParams.project, "project", "", "limit the clone to a specific project key")
	flags.BoolVar(&cloneParams.projectFolders, "project-folders", false, "clone repositories into project subfolders inside the workspace folder")
	flags.StringVar(&cloneParams.baseFolder, "base-folder", "", "base folder to clone repositories into (default: current working directory)")
	flags.Var(
		enumflag.New(&cloneParams.auth, "mode", authModes, enumflag.EnumCaseInsensitive),
		"auth", "clone transport (https or ssh)")
	flags.StringSliceVar(&cloneParams.include, "include", nil, "repository name glob(s) to include")
	flags.StringSliceVar(&cloneParams.exclude, "exclude", nil, "repository name glob(s) to exclude")
	flags.StringVar(&cloneParams.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address during the run")
	flags.BoolVar(&cloneParams.noProgress, "no-progress", false, "disable the progress spinner")

	RootCommand.AddCommand(cloneCommand)
}

func runClone(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(cloneParams.workspaces) > 0 {
		cfg.Workspaces = cloneParams.workspaces
	}
	if cloneParams.project != "" {
		cfg.Project = cloneParams.project
	}
	if cloneParams.baseFolder != "" {
		cfg.BaseFolder = cloneParams.baseFolder
	}
	if cfg.BaseFolder == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg.BaseFolder = wd
	}
	if cmd.Flags().Changed("skip-existing") {
		cfg.SkipExisting = cloneParams.skipExisting
	}
	if cmd.Flags().Changed("refresh") {
		cfg.Refresh = cloneParams.refresh
	}
	if cmd.Flags().Changed("project-folders") {
		cfg.ProjectFolders = cloneParams.projectFolders
	}
	if cmd.Flags().Changed("auth") {
		cfg.Auth = cloneParams.auth
	}
	if len(cloneParams.include) > 0 {
		cfg.Include = cloneParams.include
	}
	if len(cloneParams.exclude) > 0 {
		cfg.Exclude = cloneParams.exclude
	}

	logger := newLogger()
	client := newClient(cfg, logger)

	if cloneParams.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cloneParams.metricsAddr, mux); err != nil {
				logger.Warnf("metrics server: %v", err)
			}
		}()
	}

	var bar *progress.Bar
	if !cloneParams.noProgress {
		bar = progress.New("syncing repositories")
	}

	worker := service.NewSyncWorker(cfg, client, logger).WithProgress(bar)
	summary, err := worker.Run(cmd.Context())
	if err != nil {
		return err
	}

	logger.Infof("Done: %s.", summary)
	return nil
}
