package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/codeshelf/internal/server"
)

func serveCmd(envFile *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Environment variables:
  PORT                  Port to listen on (default: 8080)
  DB_PATH               SQLite database file (default: data/codeshelf.db)
  LOG_LEVEL             DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT            text, json (default: text)
  JWT_SECRET            Session signing key, at least 16 characters (required)
  JWT_TTL               Session lifetime (default: 24h)
  COOKIE_SECURE         Mark the session cookie Secure (default: false)
  GITHUB_CLIENT_ID      GitHub OAuth app; login is off unless both are set
  GITHUB_CLIENT_SECRET
  GITHUB_CALLBACK_URL   (default: http://localhost:PORT/auth/github/callback)
  CORS_ORIGINS          Comma-separated browser origins (default: any)
  EXPLAIN_API_KEY       OpenAI-compatible API key for /api/explain
  EXPLAIN_BASE_URL      Provider base URL (default: api.openai.com)
  EXPLAIN_MODEL         Chat model (default: gpt-4o-mini)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}
			if err := cfg.ValidateServer(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger := cfg.NewLogger(os.Stdout)

			srv, err := server.New(cfg, logger, version, nil)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides PORT)")
	return cmd
}
