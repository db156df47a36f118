package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/codereader/internal/api"
	"github.com/codereader/internal/config"
	"github.com/codereader/internal/store"
)

// APICommand returns the api command
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Run the HTTP API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (overrides config)",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if port := c.Int("port"); port > 0 {
		cfg.API.Port = port
	}

	var sessions *store.SessionStore
	if cfg.Database.URL != "" {
		sessions, err = store.NewSessionStore(c.Context, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to session store: %w", err)
		}
		defer sessions.Close()
	} else {
		log.Warn().Msg("database.url not configured, sessions will not survive a restart")
	}

	return api.NewServer(cfg, sessions).Start()
}
