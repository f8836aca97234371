package main

import (
	"fmt"

	"scholarmis-apps/core/installer"

	"github.com/spf13/cobra"
)

var installTasksOnly bool

var installCmd = &cobra.Command{
	Use:   "install [name...]",
	Short: "Install the named sub-applications, or all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		ctx := cmd.Context()
		apps := rt.Registry.All()
		if len(args) > 0 {
			apps = apps[:0]
			for _, name := range args {
				app, ok := rt.Registry.Get(name)
				if !ok {
					if app, ok = rt.Registry.ByLabel(name); !ok {
						return fmt.Errorf("unknown app %q", name)
					}
				}
				apps = append(apps, app)
			}
		}
		reports := make([]*installer.Report, 0, len(apps))
		for _, app := range apps {
			if installTasksOnly {
				reports = append(reports, rt.Installer.InstallTasks(ctx, app))
				continue
			}
			reports = append(reports, rt.Installer.Install(ctx, app))
		}
		return printReports(cmd, reports)
	},
}

func init() {
	installCmd.Flags().BoolVar(&installTasksOnly, "tasks-only", false, "only register the periodic tasks")
	rootCmd.AddCommand(installCmd)
}
