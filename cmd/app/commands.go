package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/kodebase/internal"
	"github.com/starford/kodebase/internal/artifact"
	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/contextgen"
	"github.com/starford/kodebase/internal/finding"
	"github.com/starford/kodebase/internal/mcpserver"
	"github.com/starford/kodebase/internal/telemetry"
	"github.com/starford/kodebase/internal/validation"
)

var stdout io.Writer = os.Stdout

var errValidationFailed = errors.New("validation failed")

var actorFlag = &cli.StringFlag{
	Name:     "actor",
	Usage:    `Actor recorded on the event, "Name (email)"`,
	Sources:  cli.EnvVars("KODEBASE_ACTOR"),
	Required: true,
}

// withEngine opens the engine described by the config flags and runs fn.
// Logs go to stderr at warn level unless --verbose is set.
func withEngine(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.Engine) error, opts ...internal.EngineOption) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Bool("verbose") {
		cfg.App.LogLevel = slog.LevelWarn
	}
	logger := cfg.App.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, "kodebase", version)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	e, err := internal.OpenEngine(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func idArg(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if !artifact.ValidID(id) {
		return "", fmt.Errorf("expected an artifact ID, got %q", id)
	}
	return id, nil
}

func commands() []*cli.Command {
	cmds := []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the HTTP API and the file watcher",
			Action: serve,
		},
		{
			Name:  "mcp",
			Usage: "Serve MCP tools over stdio",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withEngine(ctx, cmd, func(_ context.Context, e *internal.Engine) error {
					return mcpserver.New(e.Service).ServeStdio()
				}, internal.WithIndex())
			},
		},
		{
			Name:  "list",
			Usage: "List artifacts",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "state", Usage: "Only artifacts in this state"},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					items, err := e.Service.List(ctx, cmd.String("state"))
					if err != nil {
						return err
					}
					renderSummaries(stdout, items)
					return nil
				})
			},
		},
		{
			Name:      "create",
			Usage:     "Store a new artifact from a YAML file",
			ArgsUsage: "<file.yml>",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				data, err := os.ReadFile(cmd.Args().First())
				if err != nil {
					return err
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					d, err := e.Service.Create(ctx, data)
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "created %s at %s\n", d.Artifact.ID, d.Path)
					return nil
				})
			},
		},
		{
			Name:      "deps",
			Usage:     "Show blockers, the blocker chain and dependents of an artifact",
			ArgsUsage: "<id>",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				id, err := idArg(cmd)
				if err != nil {
					return err
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					return deps(ctx, e.Service, id)
				})
			},
		},
		{
			Name:      "context",
			Usage:     "Print the Markdown brief of a milestone or initiative",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "dev-process", Usage: "Include issue event history"},
				&cli.BoolFlag{Name: "completion", Usage: "Include completion analysis"},
				&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write the brief to this file instead of stdout"},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				id, err := idArg(cmd)
				if err != nil {
					return err
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					c, err := e.Service.Context(ctx, id, contextgen.Options{
						IncludeDevProcess:         cmd.Bool("dev-process"),
						IncludeCompletionAnalysis: cmd.Bool("completion"),
					})
					if err != nil {
						return err
					}
					if out := cmd.String("output"); out != "" {
						if err := os.WriteFile(out, []byte(c.Content), 0o644); err != nil {
							return fmt.Errorf("write context: %w", err)
						}
						fmt.Fprintf(stdout, "wrote %s context to %s\n", id, out)
						return nil
					}
					fmt.Fprint(stdout, c.Content)
					return nil
				})
			},
		},
		{
			Name:      "validate",
			Usage:     "Validate one artifact, or all of them",
			ArgsUsage: "[id]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "no-deps", Usage: "Skip dependency existence checks"},
				&cli.BoolFlag{Name: "no-relationships", Usage: "Skip relationship and cycle checks"},
				&cli.BoolFlag{Name: "no-cross-level", Usage: "Skip cross-level checks"},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				opts := validation.Options{
					CheckDependencies:  !cmd.Bool("no-deps"),
					CheckRelationships: !cmd.Bool("no-relationships"),
					CheckCrossLevel:    !cmd.Bool("no-cross-level"),
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					return validate(ctx, e.Service, cmd.Args().First(), opts)
				})
			},
		},
		{
			Name:      "fix",
			Usage:     "Rewrite an artifact to fix its formatting findings",
			ArgsUsage: "<id>",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				id, err := idArg(cmd)
				if err != nil {
					return err
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					applied, err := e.Service.Fix(ctx, id)
					if err != nil {
						return err
					}
					codes := make([]string, len(applied))
					for i, c := range applied {
						codes[i] = string(c)
					}
					fmt.Fprintf(stdout, "fixed %s: %s\n", id, strings.Join(codes, ", "))
					return nil
				})
			},
		},
		{
			Name:      "cascade",
			Usage:     "Run the cascades implied by an event on an artifact",
			ArgsUsage: "<id>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "trigger", Usage: "Event trigger (branch_created, pr_merged, ...)", Required: true},
				&cli.StringFlag{Name: "actor", Usage: "Actor recorded on cascade events", Sources: cli.EnvVars("KODEBASE_ACTOR")},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				id, err := idArg(cmd)
				if err != nil {
					return err
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					res, err := e.Service.ExecuteCascade(ctx, cascade.Request{
						ArtifactID: id,
						Trigger:    artifact.Trigger(cmd.String("trigger")),
						Actor:      cmd.String("actor"),
					})
					if err != nil {
						return err
					}
					renderCascade(stdout, res)
					return nil
				})
			},
		},
		{
			Name:      "link",
			Usage:     "Record that one artifact blocks another",
			ArgsUsage: "<blocker> <blocked>",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				blocker, blocked := cmd.Args().Get(0), cmd.Args().Get(1)
				if blocker == "" || blocked == "" {
					return errors.New("usage: link <blocker> <blocked>")
				}
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					if err := e.Service.Link(ctx, blocker, blocked); err != nil {
						return err
					}
					fmt.Fprintf(stdout, "%s now blocks %s\n", blocker, blocked)
					return nil
				})
			},
		},
		{
			Name:  "check",
			Usage: "Report dependency cycles, cross-level edges and one-sided relationships",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
					return check(ctx, e.Service)
				})
			},
		},
	}
	for _, a := range artifactservice.Actions {
		cmds = append(cmds, actionCommand(a))
	}
	return cmds
}

var actionUsage = map[artifactservice.Action]string{
	artifactservice.ActionPromote:  "Move a draft to ready, or to blocked while blockers are open",
	artifactservice.ActionStart:    "Start work on a ready artifact",
	artifactservice.ActionSubmit:   "Move an in-progress artifact to review",
	artifactservice.ActionComplete: "Complete an artifact and ready its dependents",
	artifactservice.ActionCancel:   "Cancel an artifact",
	artifactservice.ActionArchive:  "Archive a completed artifact",
}

func actionCommand(a artifactservice.Action) *cli.Command {
	return &cli.Command{
		Name:      string(a),
		Usage:     actionUsage[a],
		ArgsUsage: "<id>",
		Flags:     []cli.Flag{actorFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := idArg(cmd)
			if err != nil {
				return err
			}
			return withEngine(ctx, cmd, func(ctx context.Context, e *internal.Engine) error {
				out, err := e.Service.Do(ctx, a, id, cmd.String("actor"))
				if err != nil {
					return err
				}
				if out.NoOp {
					fmt.Fprintf(stdout, "%s is already %s\n", id, out.Artifact.CurrentState())
				} else {
					fmt.Fprintf(stdout, "%s: %s\n", id, out.Artifact.CurrentState())
				}
				renderCascade(stdout, out.Cascade)
				return nil
			})
		},
	}
}

func deps(ctx context.Context, svc *artifactservice.Service, id string) error {
	blockers, err := svc.Dependencies(ctx, id)
	if err != nil {
		return err
	}
	chain, err := svc.Chain(ctx, id)
	if err != nil {
		return err
	}
	dependents, err := svc.Dependents(ctx, id)
	if err != nil {
		return err
	}
	blocked, err := svc.IsBlocked(ctx, id)
	if err != nil {
		return err
	}
	status := "not blocked"
	if blocked {
		status = "blocked"
	}
	fmt.Fprintf(stdout, "%s is %s\n", id, status)
	renderArtifacts(stdout, "Blocked by", blockers)
	if len(chain) > len(blockers) {
		fmt.Fprintf(stdout, "Full chain: %s\n", strings.Join(chain, ", "))
	}
	renderArtifacts(stdout, "Blocks", dependents)
	return nil
}

func validate(ctx context.Context, svc *artifactservice.Service, id string, opts validation.Options) error {
	var findings []finding.Finding
	if id != "" {
		res, err := svc.Validate(ctx, id, opts)
		if err != nil {
			return err
		}
		findings = res.Findings
	} else {
		report, err := svc.ValidateAll(ctx, opts)
		if err != nil {
			return err
		}
		for _, r := range report.Results {
			findings = append(findings, r.Findings...)
		}
		findings = append(findings, report.System...)
	}
	renderFindings(stdout, findings)
	if finding.HasErrors(findings) {
		return errValidationFailed
	}
	return nil
}

func check(ctx context.Context, svc *artifactservice.Service) error {
	cycles, err := svc.Cycles(ctx)
	if err != nil {
		return err
	}
	cross, err := svc.CrossLevel(ctx)
	if err != nil {
		return err
	}
	inc, err := svc.Consistency(ctx)
	if err != nil {
		return err
	}
	renderGraphChecks(stdout, cycles, cross, inc)
	if len(cycles)+len(cross)+len(inc) > 0 {
		return errValidationFailed
	}
	return nil
}
