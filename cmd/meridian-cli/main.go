package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian-books/cmd/meridian/cli"
	"github.com/meridian-books/meridian-books/internal/app"
	"github.com/meridian-books/meridian-books/internal/fx"
)

const usage = `Usage:
  meridian-cli jobs enqueue <task-type>
  meridian-cli jobs inspect
  meridian-cli fx import-rates -source <file.csv> [-mode dry|apply] [-json]
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	switch args[0] {
	case "jobs":
		return runJobs(ctx, cfg, args[1:], stdout, stderr)
	case "fx":
		return runFX(ctx, cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return 1
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			slog.Default().Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "enqueue":
		if len(args) != 2 {
			fmt.Fprint(stderr, usage)
			return 1
		}
		info, err := jobsCLI.Enqueue(ctx, args[1])
		if err != nil {
			fmt.Fprintf(stderr, "enqueue: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return 0
	case "inspect":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "inspect: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	default:
		fmt.Fprint(stderr, usage)
		return 1
	}
}

func runFX(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if args[0] != "import-rates" {
		fmt.Fprint(stderr, usage)
		return 1
	}

	flags := flag.NewFlagSet("import-rates", flag.ContinueOnError)
	flags.SetOutput(stderr)
	source := flags.String("source", "", "path to the CSV file")
	mode := flags.String("mode", string(cli.ImportModeDry), "dry or apply")
	jsonOutput := flags.Bool("json", false, "emit a JSON summary")
	if err := flags.Parse(args[1:]); err != nil {
		return 1
	}
	if *source == "" {
		fmt.Fprintln(stderr, "import-rates: -source is required")
		return 1
	}

	file, err := os.Open(*source)
	if err != nil {
		fmt.Fprintf(stderr, "import-rates: %v\n", err)
		return 1
	}
	defer file.Close()

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(stderr, "connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()

	fxCLI, err := cli.NewFXOpsCLI(fx.NewRepository(pool))
	if err != nil {
		fmt.Fprintf(stderr, "fx: %v\n", err)
		return 1
	}
	return fxCLI.ImportRatesCommand(ctx, cli.ImportRatesOptions{
		Source:       *source,
		SourceReader: file,
		Mode:         cli.ImportMode(*mode),
		JSONOutput:   *jsonOutput,
		Stdout:       stdout,
		Stderr:       stderr,
	})
}
