// Package cmd wires the reposync CLI. Commands are thin wrappers over
// internal/git; they parse arguments, call one operation, and render
// the result.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/reposync/reposync/internal/buildinfo"
	"github.com/reposync/reposync/internal/config"
	"github.com/reposync/reposync/internal/git"
	"github.com/reposync/reposync/internal/watch"
)

func Run() error {
	return run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) error {
	var cfg config.Config

	app := &cli.Command{
		Name:    "reposync",
		Usage:   "synchronize a local repository: branches, remotes, upstream rebase",
		Version: buildinfo.VersionWithTags(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "repo", Aliases: []string{"C"}, Value: ".", Usage: "path to the repository"},
			&cli.StringFlag{Name: "log-level", Value: "", Usage: "debug, info, warn, or error"},
			&cli.StringFlag{Name: "config", Value: "", Usage: "path to the config file"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			path := cmd.String("config")
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return ctx, err
				}
			}
			var err error
			if cfg, err = config.Load(path); err != nil {
				return ctx, err
			}

			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			levelName := cmd.String("log-level")
			if levelName == "" {
				levelName = cfg.LogLevel
			}
			if levelName == "" {
				levelName = zerolog.LevelWarnValue
			}
			level, err := zerolog.ParseLevel(levelName)
			if err != nil {
				return ctx, fmt.Errorf("parse log level: %w", err)
			}
			zerolog.SetGlobalLevel(level)
			return ctx, nil
		},
		Commands: []*cli.Command{
			branchesCommand(),
			branchCommand(),
			checkoutCommand(),
			remotesCommand(),
			fetchCommand(&cfg),
			compareCommand(),
			rebaseCommand(),
			watchCommand(),
		},
	}
	return app.Run(ctx, args)
}

func branchesCommand() *cli.Command {
	return &cli.Command{
		Name:  "branches",
		Usage: "list branches",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remote", Usage: "list remote-tracking branches"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			branches, err := git.ListBranches(cmd.String("repo"), !cmd.Bool("remote"))
			if err != nil {
				return err
			}
			for _, b := range branches {
				printBranch(b)
			}
			return nil
		},
	}
}

func printBranch(b git.BranchInfo) {
	marker := " "
	suffix := ""
	if b.Local != nil {
		if b.Local.IsHead {
			marker = "*"
		}
		if b.Local.HasUpstream {
			suffix = fmt.Sprintf("  [%s]", b.Local.Remote)
		}
	}
	fmt.Printf("%s %-30s %s  %s%s\n", marker, b.Name, b.TopCommit.String()[:7], b.TopCommitMessage, suffix)
}

func branchCommand() *cli.Command {
	return &cli.Command{
		Name:  "branch",
		Usage: "manage branches",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "create a branch at HEAD and switch to it",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return git.CreateBranch(cmd.String("repo"), cmd.Args().First())
				},
			},
			{
				Name:      "delete",
				Usage:     "delete a branch by its full reference",
				ArgsUsage: "<ref>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return git.DeleteBranch(cmd.String("repo"), cmd.Args().First())
				},
			},
			{
				Name:      "rename",
				Usage:     "rename a branch",
				ArgsUsage: "<ref> <new-name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return git.RenameBranch(cmd.String("repo"), cmd.Args().Get(0), cmd.Args().Get(1))
				},
			},
			{
				Name:      "set-upstream",
				Usage:     "track <default remote>/<branch>",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return git.SetUpstream(cmd.String("repo"), cmd.Args().First())
				},
			},
			{
				Name:  "current",
				Usage: "print the checked out branch",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name, err := git.CurrentBranchName(cmd.String("repo"))
					if err != nil {
						return err
					}
					fmt.Println(name)
					return nil
				},
			},
		},
	}
}

func checkoutCommand() *cli.Command {
	return &cli.Command{
		Name:      "checkout",
		Usage:     "switch to a branch (clean working tree required)",
		ArgsUsage: "<ref | remote-branch>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remote", Usage: "check out a remote-tracking branch as a new local branch"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repoPath := cmd.String("repo")
			name := cmd.Args().First()
			if !cmd.Bool("remote") {
				return git.CheckoutBranch(repoPath, name)
			}
			branches, err := git.ListBranches(repoPath, false)
			if err != nil {
				return err
			}
			for _, b := range branches {
				if b.Name == name {
					return git.CheckoutRemoteBranch(repoPath, b)
				}
			}
			return fmt.Errorf("remote branch %q not found", name)
		},
	}
}

func remotesCommand() *cli.Command {
	return &cli.Command{
		Name:  "remotes",
		Usage: "list remotes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "default", Usage: "print only the default remote"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repoPath := cmd.String("repo")
			if cmd.Bool("default") {
				name, err := git.DefaultRemote(repoPath)
				if err != nil {
					return err
				}
				fmt.Println(name)
				return nil
			}
			remotes, err := git.ListRemotes(repoPath)
			if err != nil {
				return err
			}
			for _, r := range remotes {
				fmt.Println(r)
			}
			return nil
		},
	}
}

func fetchCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "fetch a branch from the default remote",
		ArgsUsage: "<branch>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var creds *git.Credentials
			if cfg.Auth.Username != "" {
				creds = &git.Credentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password}
			}

			progress := make(chan git.FetchProgress, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for p := range progress {
					log.Debug().Int("bytes", p.ReceivedBytes).Str("status", p.Message).Msg("fetch progress")
				}
			}()

			received, err := git.Fetch(cmd.String("repo"), cmd.Args().First(), creds, progress)
			close(progress)
			<-done
			if err != nil {
				return err
			}
			log.Info().Int("bytes", received).Msg("fetch complete")
			return nil
		},
	}
}

func compareCommand() *cli.Command {
	return &cli.Command{
		Name:      "compare",
		Usage:     "show how far a branch is ahead of and behind its upstream",
		ArgsUsage: "<branch>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cmp, err := git.CompareUpstream(cmd.String("repo"), cmd.Args().First())
			if err != nil {
				return err
			}
			fmt.Printf("ahead %d, behind %d\n", cmp.Ahead, cmp.Behind)
			return nil
		},
	}
}

func rebaseCommand() *cli.Command {
	return &cli.Command{
		Name:      "rebase",
		Usage:     "merge the upstream into the checked out branch via rebase",
		ArgsUsage: "[branch]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repoPath := cmd.String("repo")
			branch := cmd.Args().First()
			if branch == "" {
				var err error
				if branch, err = git.CurrentBranchName(repoPath); err != nil {
					return err
				}
			}
			if enabled, err := git.ConfigIsPullRebase(repoPath); err == nil && !enabled {
				log.Debug().Msg("pull.rebase is not enabled; rebasing explicitly")
			}
			if err := git.MergeUpstreamRebase(repoPath, branch); err != nil {
				return err
			}
			log.Info().Str("branch", branch).Msg("rebased onto upstream")
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "re-list branches whenever the repository changes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			repoPath := cmd.String("repo")
			watcher, err := watch.New(repoPath, 0)
			if err != nil {
				return err
			}
			defer watcher.Close()

			list := func() error {
				branches, err := git.ListBranches(repoPath, true)
				if err != nil {
					return err
				}
				for _, b := range branches {
					printBranch(b)
				}
				return nil
			}
			if err := list(); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-watcher.Events():
					log.Debug().Msg("repository changed")
					if err := list(); err != nil {
						return err
					}
				}
			}
		},
	}
}
