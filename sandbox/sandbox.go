// Package sandbox builds one isolated execution context per request: a
// fresh module configuration with captured stdio, a scoped capability
// surface, and an armed epoch deadline. A sandbox is owned by exactly one
// invocation and discarded with it; nothing is shared across requests.
package sandbox

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/hermit-os/wasmserve/config"
	"github.com/hermit-os/wasmserve/engine"
)

// Config fixes the per-request surface every sandbox gets.
type Config struct {
	// FullWASI grants the full host capability surface (real clocks,
	// random, nanosleep). Off means the minimal deny-by-default surface:
	// the handler ABI plus deterministic WASI stubs.
	FullWASI bool

	// Env lists additional KEY=VALUE pairs exposed to the guest.
	Env []string

	// Dirs are host directories preopened inside the guest filesystem.
	Dirs []config.Preopen
}

// Factory builds sandboxes. One per server; safe for concurrent use.
type Factory struct {
	cfg    Config
	env    [][2]string
	ticker *engine.EpochTicker // nil when no deadline is configured

	stdout   io.Writer
	stderr   io.Writer
	stdoutMu sync.Mutex
	stderrMu sync.Mutex
}

// NewFactory validates the static sandbox surface once, at startup.
// ticker may be nil; stdout and stderr are the host streams captured guest
// output is forwarded to.
func NewFactory(cfg Config, ticker *engine.EpochTicker, stdout, stderr io.Writer) (*Factory, error) {
	f := &Factory{cfg: cfg, ticker: ticker, stdout: stdout, stderr: stderr}
	for _, kv := range cfg.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env entry %q", kv)
		}
		f.env = append(f.env, [2]string{k, v})
	}
	return f, nil
}

// Sandbox is the execution context for a single request.
type Sandbox struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelCauseFunc
	modCfg wazero.ModuleConfig
	disarm func()
}

// New builds the sandbox for request id. The returned context is the one
// the invocation must run under: cancelling it (deadline, fuel, request
// teardown) aborts the guest at the engine's next checkpoint.
func (f *Factory) New(ctx context.Context, id uint64) (*Sandbox, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	tag := strconv.FormatUint(id, 10)
	modCfg := wazero.NewModuleConfig().
		// Anonymous instances: many copies of the handler coexist.
		WithName("").
		WithArgs("handler").
		WithStdout(NewLineWriter(f.stdout, &f.stdoutMu, "stdout ["+tag+"] :: ")).
		WithStderr(NewLineWriter(f.stderr, &f.stderrMu, "stderr ["+tag+"] :: ")).
		WithEnv("REQUEST_ID", tag)

	for _, kv := range f.env {
		modCfg = modCfg.WithEnv(kv[0], kv[1])
	}

	if f.cfg.FullWASI {
		modCfg = modCfg.
			WithSysWalltime().
			WithSysNanotime().
			WithSysNanosleep().
			WithRandSource(rand.Reader)
	}

	if len(f.cfg.Dirs) > 0 {
		fsCfg := wazero.NewFSConfig()
		for _, d := range f.cfg.Dirs {
			fsCfg = fsCfg.WithDirMount(d.Host, d.Guest)
		}
		modCfg = modCfg.WithFSConfig(fsCfg)
	}

	sb := &Sandbox{id: id, ctx: ctx, cancel: cancel, modCfg: modCfg}
	if f.ticker != nil {
		sb.disarm = f.ticker.Arm(id, engine.EpochPrecision+1, cancel)
	}
	return sb, nil
}

// ID returns the request identity this sandbox serves.
func (sb *Sandbox) ID() uint64 { return sb.id }

// Context is the invocation context; it is cancelled when the sandbox
// must abort.
func (sb *Sandbox) Context() context.Context { return sb.ctx }

// ModuleConfig returns the per-request module configuration.
func (sb *Sandbox) ModuleConfig() wazero.ModuleConfig { return sb.modCfg }

// Fail aborts the sandbox with the given cause. Used by the ABI layer for
// cooperative failures such as fuel exhaustion.
func (sb *Sandbox) Fail(cause error) { sb.cancel(cause) }

// Close tears the sandbox down: the deadline is disarmed and the context
// cancelled. Always called when the request completes, successfully or not.
func (sb *Sandbox) Close() {
	if sb.disarm != nil {
		sb.disarm()
	}
	sb.cancel(context.Canceled)
}
