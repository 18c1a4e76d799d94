package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/guiIerme/JobFinder-sub003/internal/analytics"
	"github.com/guiIerme/JobFinder-sub003/internal/config"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/repository"
	"github.com/guiIerme/JobFinder-sub003/internal/session"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge base",
}

var knowledgeImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert knowledge entries from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openStore()
		if err != nil {
			return err
		}
		defer repo.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		idx := knowledge.NewIndex(repo)
		defer idx.Close()
		n, err := idx.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries (%d total)\n", n, idx.Len())
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Session maintenance",
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close sessions idle for longer than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		repo, err := openStore()
		if err != nil {
			return err
		}
		defer repo.Close()

		sessions := session.New(repo,
			session.WithFinalizer(analytics.NewRecorder(repo, nil)),
			session.WithRetention(cfg.SessionRetention),
		)
		closed, err := sessions.CleanupExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "closed %d expired sessions\n", closed)
		return nil
	},
}

var reportSince time.Duration

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Conversation analytics",
}

var analyticsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the aggregate report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openStore()
		if err != nil {
			return err
		}
		defer repo.Close()

		rep, err := analytics.NewRecorder(repo, nil).Report(cmd.Context(), time.Now().Add(-reportSince))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

func init() {
	knowledgeCmd.AddCommand(knowledgeImportCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd)

	analyticsReportCmd.Flags().DurationVar(&reportSince, "since", 24*time.Hour, "Report window ending now")
	analyticsCmd.AddCommand(analyticsReportCmd)
}

func openStore() (*repository.SQLiteStore, error) {
	cfg := config.Load()
	repo, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logging.Debug().Str("database", cfg.DatabaseURL).Msg("database opened")
	return repo, nil
}

// readPolicy returns the contents of path, or "" for the built-in policy.
func readPolicy(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy: %w", err)
	}
	return string(data), nil
}
