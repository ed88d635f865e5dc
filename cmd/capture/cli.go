package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/logging"
	"github.com/hpungsan/capture/internal/mcp"
	"github.com/hpungsan/capture/internal/ops"
)

// maxStdinBytes bounds content read from stdin.
const maxStdinBytes = 10 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "capture",
		Usage:   "Crash-safe capture staging and vault export",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|yaml"},
		},
		Commands: []*cli.Command{
			ingestCmd(env),
			finalizeCmd(env),
			exportCmd(env),
			recoverCmd(env),
			listCmd(env),
			fetchCmd(env),
			errorsCmd(env),
			statsCmd(env),
			historyCmd(env),
			reportErrorCmd(env),
			cursorCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// ingestCmd creates the ingest command.
func ingestCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Stage a new capture (content from args or stdin)",
		ArgsUsage: "[content]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Capture source: voice|email"},
			&cli.StringFlag{Name: "id", Usage: "Capture id (generated when omitted)"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: "text", Usage: "Content kind: text|reference"},
			&cli.StringSliceFlag{Name: "meta", Aliases: []string{"m"}, Usage: "Metadata entry key=value (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			content, err := contentFromArgsOrStdin(c)
			if err != nil {
				return outputError(err)
			}
			metadata, err := parseMetadata(c.StringSlice("meta"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			out, err := env.svc.Ingest(c.Context, ops.IngestInput{
				ID:          c.String("id"),
				Source:      c.String("source"),
				Content:     content,
				ContentKind: c.String("kind"),
				Metadata:    metadata,
			})
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// finalizeCmd creates the finalize command.
func finalizeCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "finalize",
		Usage:     "Bind the final text or hash of a pending capture (text from --text or stdin)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Final text, e.g. a transcript"},
			&cli.StringFlag{Name: "hash", Usage: "BLAKE3 hex digest of the final text"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			input := ops.FinalizeInput{
				ID:   c.Args().First(),
				Hash: c.String("hash"),
			}

			switch {
			case c.IsSet("text"):
				text := c.String("text")
				input.Text = &text
			case stdinHasData():
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				if text != "" {
					input.Text = &text
				}
			}

			out, err := env.svc.Finalize(c.Context, input)
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export staged captures into the vault inbox",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Export a single staged capture"},
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "Keep draining the queue until interrupted"},
		},
		Action: func(c *cli.Context) error {
			lock, err := acquireLock(env.baseDir)
			if err != nil {
				return outputError(err)
			}
			defer func() { _ = lock.Unlock() }()

			orch, exporter, err := env.newOrchestrator()
			if err != nil {
				return outputError(err)
			}

			// Run cleans orphans itself on startup.
			if c.String("id") != "" || !c.Bool("watch") {
				if _, err := exporter.CleanOrphans(c.Context); err != nil {
					env.logger.Warn("orphan temp cleanup failed", logging.Error(err))
				}
			}

			if id := c.String("id"); id != "" {
				out, err := orch.ExportOne(c.Context, capture.NormalizeID(id))
				if err != nil {
					return outputError(err)
				}
				return output(c, out)
			}

			if c.Bool("watch") {
				env.logger.Info("watching staged captures",
					logging.String(logging.FieldPath, exporter.VaultRoot()),
				)
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := orch.Run(ctx); err != nil {
					return outputError(err)
				}
				return nil
			}

			summary, err := orch.RunOnce(c.Context)
			if err != nil {
				return outputError(err)
			}
			return output(c, summary)
		},
	}
}

// RecoverOutput reports what a recover run cleaned up.
type RecoverOutput struct {
	Requeued       []string `json:"requeued"`
	OrphansRemoved []string `json:"orphans_removed"`
}

// recoverCmd creates the recover command.
func recoverCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Requeue captures stuck in exporting and remove orphan temp files",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Usage: "Stuck threshold (default from stuck_export_threshold_seconds)"},
		},
		Action: func(c *cli.Context) error {
			lock, err := acquireLock(env.baseDir)
			if err != nil {
				return outputError(err)
			}
			defer func() { _ = lock.Unlock() }()

			exporter, err := env.newExporter()
			if err != nil {
				return outputError(err)
			}

			threshold := env.cfg.StuckExportThreshold()
			if c.IsSet("older-than") {
				threshold = c.Duration("older-than")
			}
			if threshold < 0 {
				return outputError(errors.NewInvalidRequest("older-than must not be negative"))
			}

			requeued, err := env.svc.Store().RecoverStuck(c.Context, threshold)
			if err != nil {
				return outputError(err)
			}
			removed, err := exporter.CleanOrphans(c.Context)
			if err != nil {
				return outputError(err)
			}

			return output(c, RecoverOutput{
				Requeued:       nonNil(requeued),
				OrphansRemoved: nonNil(removed),
			})
		},
	}
}

// listCmd creates the list command.
func listCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List captures in ingest order",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status (repeatable or comma-separated)"},
			&cli.StringFlag{Name: "since", Usage: "Created at or after (RFC3339 or YYYY-MM-DD)"},
			&cli.StringFlag{Name: "until", Usage: "Created before (RFC3339 or YYYY-MM-DD)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			out, err := env.svc.List(c.Context, ops.ListInput{
				Statuses: c.StringSlice("status"),
				Since:    c.String("since"),
				Until:    c.String("until"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Show a capture with its audit history and error log",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-text", Usage: "Exclude content from output"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			input := ops.FetchInput{ID: c.Args().First()}
			if c.Bool("no-text") {
				includeText := false
				input.IncludeText = &includeText
			}

			out, err := env.svc.Fetch(c.Context, input)
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// errorsCmd creates the errors command.
func errorsCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "errors",
		Usage:     "Show failed and quarantined captures and recent export errors",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultErrorsLimit, Usage: "Maximum entries"},
		},
		Action: func(c *cli.Context) error {
			out, err := env.svc.Errors(c.Context, ops.ErrorsInput{
				ID:    c.Args().First(),
				Limit: c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count captures per status",
		Action: func(c *cli.Context) error {
			out, err := env.svc.Stats(c.Context)
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the export audit trail, oldest first",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultErrorsLimit, Usage: "Maximum entries when no id is given"},
		},
		Action: func(c *cli.Context) error {
			out, err := env.svc.History(c.Context, ops.HistoryInput{
				ID:    c.Args().First(),
				Limit: c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// reportErrorCmd creates the report-error command.
func reportErrorCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "report-error",
		Usage:     "Record a collaborator failure (e.g. transcription) on a capture without changing its status",
		ArgsUsage: "<id> <message>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("capture id and message are required"))
			}
			out, err := env.svc.ReportError(c.Context, ops.ReportErrorInput{
				ID:      c.Args().First(),
				Message: strings.Join(c.Args().Tail(), " "),
			})
			if err != nil {
				return outputError(err)
			}

			return output(c, out)
		},
	}
}

// cursorCmd creates the cursor command with get and set subcommands.
func cursorCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Read or store an ingest collaborator's sync cursor",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the stored cursor for a source",
				ArgsUsage: "<source>",
				Action: func(c *cli.Context) error {
					out, err := env.svc.GetCursor(c.Context, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return output(c, out)
				},
			},
			{
				Name:      "set",
				Usage:     "Store the cursor for a source",
				ArgsUsage: "<source> <cursor>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("source and cursor are required"))
					}
					out, err := env.svc.PutCursor(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return outputError(err)
					}
					return output(c, out)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the read-only MCP server on stdio",
		Action: func(c *cli.Context) error {
			env.warnUnknownTools()
			if err := mcp.Run(env.svc, env.cfg, Version); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// Helper functions

// contentFromArgsOrStdin joins positional args, or reads stdin when none
// are given.
func contentFromArgsOrStdin(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	if !stdinHasData() {
		return "", errors.NewInvalidRequest("content must be given as arguments or piped via stdin")
	}
	content, err := readStdin(maxStdinBytes)
	if err != nil {
		return "", errors.NewInvalidRequest(err.Error())
	}
	return content, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin, failing if it exceeds limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseMetadata turns key=value pairs into a map. Later keys win.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("metadata must be key=value, got %q", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
