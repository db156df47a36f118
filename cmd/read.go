package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/codereader/internal/config"
	"github.com/codereader/internal/service"
)

// ReadCommand returns the read command
func ReadCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Print one file from a repository",
		ArgsUsage: "REPO_URL FILE_PATH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "ref",
				Aliases: []string{"r"},
				Usage:   "Revision to read from",
				Value:   "main",
			},
		},
		Action: runRead,
	}
}

func runRead(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: read REPO_URL FILE_PATH")
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reader, err := service.NewReader(cfg, c.Args().Get(0), c.String("ref"))
	if err != nil {
		return err
	}
	defer reader.Close()

	content, err := reader.Client.ReadFile(c.Context, c.Args().Get(1), "")
	if err != nil {
		return err
	}

	fmt.Print(content)
	return nil
}
