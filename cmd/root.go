package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/bucketcloner/bucketcloner/internal/config"
	"github.com/bucketcloner/bucketcloner/internal/logging"
	"github.com/bucketcloner/bucketcloner/pkg/bitbucket"
)

var rootParams struct {
	configFile string
	email      string
	token      string
	logLevel   logging.Level
}

var logLevels = map[logging.Level][]string{
	logging.LevelError: {"error"},
	logging.LevelWarn:  {"warn", "warning"},
	logging.LevelInfo:  {"info"},
	logging.LevelDebug: {"debug"},
}

// RootCommand is the bucketcloner command tree. Subcommands register
// themselves in their init functions.
var RootCommand = &cobra.Command{
	Use:          "bucketcloner",
	Short:        "Clone or refresh all repositories of your Bitbucket workspaces",
	SilenceUsage: true,
}

func init() {
	rootParams.logLevel = logging.LevelInfo
	addRootFlags(RootCommand.PersistentFlags())
}

func addRootFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&rootParams.configFile, "config", "c", "", "path to a YAML config file")
	flags.StringVarP(&rootParams.email, "email", "e", "", "account email")
	flags.StringVarP(&rootParams.token, "token", "t", "", "API token")
	flags.Var(
		enumflag.New(&rootParams.logLevel, "level", logLevels, enumflag.EnumCaseInsensitive),
		"log-level", "log level (debug, info, warn, error)")
}

func Execute() {
	if err := RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig builds the immutable run configuration from the optional
// config file and the persistent flags. Flags win over file values, and
// ${VAR} references in the credentials are expanded.
func loadConfig() (*config.Root, error) {
	root := &config.Root{}

	if rootParams.configFile != "" {
		parsed, err := config.ParseFile(rootParams.configFile)
		if err != nil {
			return nil, err
		}
		root = parsed
	}

	if rootParams.email != "" {
		root.Email = rootParams.email
	}
	if rootParams.token != "" {
		root.Token = rootParams.token
	}
	root.ExpandEnv()

	if root.Email == "" || root.Token == "" {
		return nil, errors.New("email and token are required (flags, config file or environment)")
	}

	return root, nil
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: rootParams.logLevel})
}

func newClient(cfg *config.Root, logger *logging.Logger) *bitbucket.Client {
	client := bitbucket.New(cfg.Email, cfg.Token).WithLogger(logger)
	if cfg.APIURL != "" {
		client = client.WithBaseURL(cfg.APIURL)
	}
	if cfg.PageLength > 0 {
		client = client.WithPageLength(cfg.PageLength)
	}
	if rootParams.logLevel == logging.LevelDebug {
		client = client.WithTransport(bitbucket.NewLoggingTransport(nil, logger))
	}
	return client
}
