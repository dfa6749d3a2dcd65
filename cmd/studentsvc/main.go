package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"student-records-service/internal/app"
	"student-records-service/internal/config"
	"student-records-service/internal/database"
	"student-records-service/internal/repository"
	"student-records-service/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "studentsvc",
		Short:         "Student records service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newImportCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
}

// import-csv loads students directly into the database, bypassing the HTTP
// layer. Useful for seeding an environment before the service is up.
func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-csv <file>",
		Short: "Import students from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			students := service.NewStudentService(
				repository.NewStudentRepository(db),
				service.NewNoopQueryCacheStore(),
				cfg.CacheTTL,
				cfg.CachePrefix,
				cfg.ImportMaxRows,
				logger,
			)

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open csv file: %w", err)
			}
			defer f.Close()

			count, err := students.ImportCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d students\n", count)
			return nil
		},
	}
}
