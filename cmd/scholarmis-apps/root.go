package main

import (
	"fmt"
	"os"
	"strings"

	"scholarmis-apps/config"
	"scholarmis-apps/core/appbootstrap"
	"scholarmis-apps/core/installer"
	"scholarmis-apps/core/utils"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "scholarmis-apps",
	Short: "Sub-application installer and registry for ScholarMIS",
	Long: `scholarmis-apps provisions the database side of every installed ScholarMIS
sub-application (app rows, options, permissions, fixtures, settings and periodic
tasks) and serves the apps REST API.

Environment variables:
` + config.Usage(),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
}

func openRuntime() (*appbootstrap.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return appbootstrap.Open(cfg, utils.NewLoggerWithWriter(os.Stderr, cfg.LogLevel))
}

// printReports writes one line per step and fails when any report failed.
func printReports(cmd *cobra.Command, reports []*installer.Report) error {
	failed := 0
	out := cmd.OutOrStdout()
	for _, rep := range reports {
		status := "ok"
		if !rep.OK() {
			status = "failed"
			failed++
		}
		fmt.Fprintf(out, "%s: %s (run %s)\n", rep.App, status, rep.RunID)
		for _, s := range rep.Steps {
			line := fmt.Sprintf("  %-17s %-8s %s", s.Name, s.Status, strings.TrimSpace(s.Message))
			if kind := s.Kind(); kind != "" {
				line += " [" + string(kind) + "]"
			}
			fmt.Fprintln(out, line)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d apps failed to install", failed, len(reports))
	}
	return nil
}
