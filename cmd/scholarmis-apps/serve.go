package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the apps REST API and run the periodic task scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if serveMigrate {
			reports, err := rt.Migrate(ctx)
			if err != nil {
				return err
			}
			for _, rep := range reports {
				if !rep.OK() {
					rt.Logger.Warnf("install %s finished with errors: %v", rep.App, rep.Err())
				}
			}
		}
		srv, err := rt.Server()
		if err != nil {
			return err
		}
		return srv.Start(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations, then install every configured sub-application",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		reports, err := rt.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		return printReports(cmd, reports)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "run migrations and the installer before serving")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}
