package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/codereader/internal/ai"
	"github.com/codereader/internal/ai/langchain"
	"github.com/codereader/internal/config"
	"github.com/codereader/internal/errs"
	"github.com/codereader/internal/service"
	"github.com/codereader/internal/session"
	"github.com/codereader/internal/store"
)

// ExploreCommand returns the explore command
func ExploreCommand() *cli.Command {
	return &cli.Command{
		Name:      "explore",
		Usage:     "Guided file-by-file exploration of a repository",
		ArgsUsage: "REPO_URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "goal",
				Aliases:  []string{"g"},
				Usage:    "What you want to understand about the repository",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "scope",
				Aliases: []string{"s"},
				Usage:   "Optional hint narrowing the exploration to part of the tree",
			},
			&cli.StringFlag{
				Name:    "ref",
				Aliases: []string{"r"},
				Usage:   "Revision to explore",
				Value:   "main",
			},
			&cli.StringFlag{
				Name:  "resume",
				Usage: "Resume a stored session by ID (requires database.url)",
			},
		},
		Action: runExplore,
	}
}

func runExplore(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: explore REPO_URL --goal GOAL")
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

	picker, err := langchain.New(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize model: %w", err)
	}

	var sessions *store.SessionStore
	if cfg.Database.URL != "" {
		sessions, err = store.NewSessionStore(c.Context, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to session store: %w", err)
		}
		defer sessions.Close()
	}

	var machine *session.Machine
	if id := c.String("resume"); id != "" {
		if sessions == nil {
			return fmt.Errorf("--resume requires database.url to be configured")
		}
		sess, err := sessions.Load(c.Context, id)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", id, err)
		}
		machine = reader.ResumeSession(cfg, sess)
		fmt.Printf("Resuming session %s (%d files tracked)\n", id, len(sess.Files))
	} else {
		machine = reader.OpenSession(cfg, c.String("goal"), c.String("scope"))
		fmt.Printf("Session %s started for %s/%s\n", machine.Session().ID, reader.Owner, reader.Repo)
	}

	return exploreLoop(c.Context, machine, picker, reader, sessions, bufio.NewReader(os.Stdin))
}

// exploreLoop drives the session until it finishes or an unrecoverable
// error stops it. Each iteration handles exactly one state.
func exploreLoop(ctx context.Context, machine *session.Machine, picker ai.Picker, reader *service.Reader, sessions *store.SessionStore, input *bufio.Reader) error {
	for {
		snap := machine.Snapshot()

		switch snap.State {
		case session.StateFinished:
			printSummary(snap)
			persist(ctx, sessions, machine)
			return nil

		case session.StateAwaitingNextFile:
			var next session.NextFile
			if snap.Suggested != nil {
				// A refine override beats asking the model.
				next = *snap.Suggested
			} else {
				decision, err := picker.PickNextFile(ctx, snap)
				if err != nil {
					return fmt.Errorf("failed to pick next file: %w", err)
				}
				if decision.Kind == ai.DecisionNeedInfo {
					if _, err := machine.AskUser(decision.Question); err != nil {
						return err
					}
					break
				}
				next = decision.NextFile
			}
			if _, err := machine.ProposeNextFile(ctx, next); err != nil {
				if errors.Is(err, errs.ErrProviderUnavailable) {
					return err
				}
				// Bad path suggestions are recorded on the session and fed
				// back into the next pick.
				log.Warn().Err(err).Str("path", next.Path).Msg("suggested path rejected, retrying")
				break
			}
			fmt.Printf("\nReading %s\n  %s\n", next.Path, next.Reason)

		case session.StateAnalyzing:
			content, err := reader.Client.ReadFile(ctx, snap.Current.Path, "")
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", snap.Current.Path, err)
			}
			understanding, err := picker.Analyze(ctx, snap, snap.Current.Path, content)
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %w", snap.Current.Path, err)
			}
			if _, err := machine.RecordUnderstanding(understanding); err != nil {
				return err
			}

		case session.StateAwaitingFeedback:
			feedback, err := promptFeedback(snap, input)
			if err != nil {
				return err
			}
			if _, err := machine.ApplyFeedback(feedback); err != nil {
				return err
			}

		case session.StateBlockedNeedInfo:
			fmt.Printf("\nQuestion: %s\n> ", snap.PendingQuestion)
			answer, err := readLine(input)
			if err != nil {
				return err
			}
			if _, err := machine.AnswerQuestion(answer); err != nil {
				return err
			}
		}

		persist(ctx, sessions, machine)
	}
}

// promptFeedback shows the current understanding and collects the user's
// decision about it.
func promptFeedback(snap session.Snapshot, input *bufio.Reader) (session.Feedback, error) {
	fmt.Printf("\n=== %s ===\n%s\n\n", snap.Current.Path, snap.Current.Understanding)
	for {
		fmt.Print("[a]ccept, [r]eject, re[f]ine, [d]one exploring? ")
		choice, err := readLine(input)
		if err != nil {
			return session.Feedback{}, err
		}

		switch strings.ToLower(choice) {
		case "a", "accept":
			fmt.Print("Optional note: ")
			note, err := readLine(input)
			if err != nil {
				return session.Feedback{}, err
			}
			return session.NewAccept(note), nil

		case "r", "reject":
			fmt.Print("Why is this file not relevant? ")
			reason, err := readLine(input)
			if err != nil {
				return session.Feedback{}, err
			}
			feedback, err := session.NewReject(reason)
			if err != nil {
				fmt.Println(err)
				continue
			}
			return feedback, nil

		case "f", "refine":
			fmt.Print("Corrected understanding: ")
			understanding, err := readLine(input)
			if err != nil {
				return session.Feedback{}, err
			}
			fmt.Print("What was wrong? ")
			reason, err := readLine(input)
			if err != nil {
				return session.Feedback{}, err
			}
			fmt.Print("Different file to look at instead (blank to let the model choose): ")
			nextPath, err := readLine(input)
			if err != nil {
				return session.Feedback{}, err
			}
			feedback, err := session.NewRefine(understanding, reason, nextPath)
			if err != nil {
				fmt.Println(err)
				continue
			}
			return feedback, nil

		case "d", "done", "finish":
			return session.NewFinish(), nil

		default:
			fmt.Println("Please answer a, r, f, or d.")
		}
	}
}

func printSummary(snap session.Snapshot) {
	done := snap.DoneFiles()
	fmt.Printf("\nSession %s finished: %d files understood, %d decisions recorded\n", snap.ID, len(done), len(snap.History))
	for _, f := range done {
		fmt.Printf("\n%s\n  %s\n", f.Path, f.Understanding)
	}
}

// persist saves the session when a store is configured. A failed save is
// logged, not fatal: the in-memory session keeps going.
func persist(ctx context.Context, sessions *store.SessionStore, machine *session.Machine) {
	if sessions == nil {
		return
	}
	if err := sessions.Save(ctx, machine.Session()); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
}

func readLine(input *bufio.Reader) (string, error) {
	line, err := input.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
