package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathanwhyte/build-hook/internal/project"
	"github.com/nathanwhyte/build-hook/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the project file and print what it configures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = config.LoadHookConfig().ProjectFile
			}
			cfg, err := project.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "registry: %s\n", cfg.Registry)
			for _, p := range cfg.Projects {
				fmt.Fprintf(out, "project %s (%s)\n", p.Slug, p.Name)
				fmt.Fprintf(out, "  source:  %s@%s\n", p.Source.URL, p.Source.Branch)
				for _, img := range p.Images {
					fmt.Fprintf(out, "  image:   %s/%s:%s <- %s\n", cfg.Registry, img.Repository, img.Tag, img.Location)
				}
				resources := make([]string, 0, len(p.Restart.Resources))
				for _, r := range p.Restart.Resources {
					resources = append(resources, r.String())
				}
				fmt.Fprintf(out, "  restart: %s in %s\n", strings.Join(resources, ", "), p.Restart.Namespace)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "project file (defaults to $HOOK_CONFIG)")
	return cmd
}
