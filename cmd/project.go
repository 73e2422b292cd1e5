package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var projectParams struct {
	workspaces []string
}

func init() {
	projectCommand := &cobra.Command{
		Use:   "project",
		Short: "List the projects of the selected workspaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProject(cmd)
		},
	}

	projectCommand.Flags().StringSliceVarP(&projectParams.workspaces, "workspace", "w", nil, "workspace slug(s), separated by comma (default: all workspaces)")

	RootCommand.AddCommand(projectCommand)
}

func runProject(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(projectParams.workspaces) > 0 {
		cfg.Workspaces = projectParams.workspaces
	}

	client := newClient(cfg, newLogger())

	for _, workspace := range client.ResolveWorkspaces(cmd.Context(), cfg.Workspaces) {
		fmt.Printf("Projects in workspace %s:\n", workspace)

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("NAME", "KEY", "URL")

		found := 0
		for p := range client.Projects(cmd.Context(), workspace) {
			table.Append([]string{p.Name, p.Key, p.URL()})
			found++
		}

		if found == 0 {
			fmt.Println("  No projects found.")
		} else if err := table.Render(); err != nil {
			return err
		}
		fmt.Println()
	}

	return nil
}
