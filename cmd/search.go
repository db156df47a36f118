package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/codereader/internal/config"
	"github.com/codereader/internal/service"
	"github.com/codereader/internal/storage"
)

// SearchCommand returns the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search files in a repository",
		ArgsUsage: "REPO_URL QUERY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "extension",
				Aliases: []string{"e"},
				Usage:   "Filter by file extension, with leading dot (e.g. .go)",
			},
			&cli.IntFlag{
				Name:    "max-results",
				Aliases: []string{"n"},
				Usage:   "Maximum number of results",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "in-content",
				Usage: "Search file contents instead of names",
			},
			&cli.BoolFlag{
				Name:  "with-content",
				Usage: "Fetch and show each result's content",
			},
			&cli.StringFlag{
				Name:    "ref",
				Aliases: []string{"r"},
				Usage:   "Revision to search",
				Value:   "main",
			},
		},
		Action: runSearch,
	}
}

func runSearch(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: search REPO_URL QUERY")
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

	opts := storage.SearchOptions{
		Extension:       c.String("extension"),
		MaxResults:      c.Int("max-results"),
		IncludeContent:  c.Bool("with-content"),
		SearchInContent: c.Bool("in-content"),
	}

	results, err := reader.Client.SearchFiles(c.Context, c.Args().Get(1), opts)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for _, result := range results {
		fmt.Printf("%8.1f  %s\n", result.Score, result.Path)
		if opts.IncludeContent && result.Content != "" {
			fmt.Println(result.Content)
			fmt.Println("---")
		}
	}
	return nil
}
