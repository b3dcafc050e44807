package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hermit-os/wasmserve/config"
	"github.com/hermit-os/wasmserve/server"
)

var rootCmd = &cobra.Command{
	Use:   "wasmserve [flags] COMPONENT",
	Short: "Serve HTTP from a sandboxed WebAssembly handler component",
	Long: `wasmserve hosts a precompiled WebAssembly handler component behind an
HTTP server. Every inbound request runs in a fresh, resource-limited
sandbox: its own capability surface, captured stdout/stderr tagged with
the request id, an optional epoch deadline and an optional fuel budget.

The component implements the http_handler ABI: it reads its request
through request_head/request_body_read and must signal exactly one
response through response_start, streaming the body with response_write.`,
	Args:          cobra.ExactArgs(1),
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Startup validation failures exit non-zero before
// the listening socket ever opens.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()
	f.String("addr", "0.0.0.0:8080", "Socket address to bind")
	f.Duration("timeout", 0, "Wall-clock deadline per request (0 = none)")
	f.Uint64("fuel", 0, "Fuel budget per request, charged at ABI calls (0 = unmetered)")
	f.String("max-memory", "", "Memory ceiling per sandbox: 16mb, 256mb, 1gb (default 4gb)")
	f.StringArrayP("wasi", "S", nil, "Toggle a WASI capability: cli, common, http, nn, threads (repeatable, name[=bool])")
	f.StringArray("env", nil, "Expose KEY=VALUE to every sandbox (repeatable)")
	f.StringArray("dir", nil, "Preopen a directory, host or host::guest (repeatable)")
	f.String("cache-dir", "", "Compilation cache directory")
	f.Bool("no-cache", false, "Disable the on-disk compilation cache")
	f.String("config", "", "YAML config file; flags override it")
	f.BoolP("verbose", "v", false, "Verbose (development) logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())

	return srv.Run(ctx)
}

// buildConfig overlays defaults, the optional YAML file and any changed
// flags, in that order.
func buildConfig(cmd *cobra.Command, component string) (config.Server, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.Component = component

	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.Addr, _ = fl.GetString("addr")
	}
	if fl.Changed("timeout") {
		d, _ := fl.GetDuration("timeout")
		cfg.Timeout = config.Duration(d)
	}
	if fl.Changed("fuel") {
		cfg.Fuel, _ = fl.GetUint64("fuel")
	}
	if fl.Changed("max-memory") {
		cfg.MemoryLimit, _ = fl.GetString("max-memory")
	}
	if fl.Changed("cache-dir") {
		cfg.CacheDir, _ = fl.GetString("cache-dir")
	}
	if fl.Changed("no-cache") {
		cfg.NoCache, _ = fl.GetBool("no-cache")
	}

	wasi, _ := fl.GetStringArray("wasi")
	cfg.Wasi = append(cfg.Wasi, wasi...)

	env, _ := fl.GetStringArray("env")
	cfg.Env = append(cfg.Env, env...)

	dirs, _ := fl.GetStringArray("dir")
	for _, spec := range dirs {
		d, err := config.ParseDir(spec)
		if err != nil {
			return cfg, err
		}
		cfg.Dirs = append(cfg.Dirs, d)
	}

	return cfg, nil
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
