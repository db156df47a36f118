package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/codereader/internal/config"
	"github.com/codereader/internal/service"
	"github.com/codereader/internal/storage"
)

// TreeCommand returns the tree command
func TreeCommand() *cli.Command {
	return &cli.Command{
		Name:      "tree",
		Usage:     "List a directory in a repository",
		ArgsUsage: "REPO_URL [PATH]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "ref",
				Aliases: []string{"r"},
				Usage:   "Revision to list",
				Value:   "main",
			},
		},
		Action: runTree,
	}
}

func runTree(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: tree REPO_URL [PATH]")
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

	entries, err := reader.Client.GetDirectoryStructure(c.Context, c.Args().Get(1), "")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		marker := " "
		if entry.Kind == storage.KindDirectory {
			marker = "/"
		}
		fmt.Printf("%s%s\n", entry.Path, marker)
	}
	return nil
}
