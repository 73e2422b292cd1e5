package cmd

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	workspaceCommand := &cobra.Command{
		Use:   "workspace",
		Short: "List the workspaces visible to the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkspace(cmd)
		},
	}

	RootCommand.AddCommand(workspaceCommand)
}

func runWorkspace(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(cfg, newLogger())

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("NAME", "SLUG", "URL")
	for w := range client.Workspaces(cmd.Context()) {
		table.Append([]string{w.Name, w.Slug, w.URL()})
	}

	return table.Render()
}
