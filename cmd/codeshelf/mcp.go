package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/codeshelf/internal/explain"
	"github.com/sakif/codeshelf/internal/live"
	"github.com/sakif/codeshelf/internal/mcpserver"
	sqliteRepo "github.com/sakif/codeshelf/internal/repository/sqlite"
	"github.com/sakif/codeshelf/internal/service"
)

func mcpCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only snippet tools over MCP on stdio",
		Long: `Start an MCP (Model Context Protocol) server on stdin/stdout so an
assistant can list, read and explain public snippets. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			// stdout carries the protocol.
			logger := cfg.NewLogger(os.Stderr)

			broker := live.NewBroker()
			defer broker.Close()

			db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.WithPublisher(broker), sqliteRepo.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			snippets := service.NewSnippetService(db, broker, logger)
			explainer := explain.New(explain.Config{
				APIKey:  cfg.ExplainAPIKey,
				BaseURL: cfg.ExplainBaseURL,
				Model:   cfg.ExplainModel,
				Timeout: cfg.ExplainTimeout,
			})

			logger.Info("starting MCP server",
				slog.String("version", version),
				slog.String("database", cfg.DBPath),
				slog.Bool("explain", explainer.Configured()),
			)
			return mcpserver.New(snippets, explainer, version).ServeStdio()
		},
	}
}
