package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine, flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Error loading .env file", "error", err)
	}

	root := newRootCommand()

	if err := root.cmd.Parse(os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_EXTRACTOR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.cmd))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := root.setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.cmd.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.cmd))
			os.Exit(1)
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

type rootCommand struct {
	cmd       *ff.Command
	logLevel  *string
	logFormat *string
}

func newRootCommand() *rootCommand {
	fs := ff.NewFlagSet("receipt-extractor")
	r := &rootCommand{
		logLevel:  fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat: fs.StringLong("log-format", "text", "Log format: text or json"),
	}
	fs.StringLong("config", "", "Config file with one 'flag value' pair per line (optional)")
	fs.BoolLong("version", "Show version information")

	pipeline := newPipelineFlags(fs)

	r.cmd = &ff.Command{
		Name:      "receipt-extractor",
		Usage:     "receipt-extractor [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "turn photographed receipts into a structured dataset",
		Flags:     fs,
		Subcommands: []*ff.Command{
			newRunCommand(fs, pipeline),
			newServeCommand(fs, pipeline),
		},
	}
	return r
}

// setupLogging installs the default slog handler selected by the logging flags
func (r *rootCommand) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(*r.logLevel)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch *r.logFormat {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q, valid: text or json", *r.logFormat)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
