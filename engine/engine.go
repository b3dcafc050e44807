// Package engine owns the process-wide execution engine: the wazero
// runtime, the compilation cache, the compiled handler component, the
// allocator viability probe and the epoch ticker. Everything except the
// ticker is immutable after startup and safely shared by every in-flight
// sandbox.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/hermit-os/wasmserve/hostfunc"
)

// Config fixes the engine's global behavior at construction time.
type Config struct {
	// Strategy is the memory-allocation strategy chosen by ProbeAllocator.
	Strategy AllocatorStrategy

	// MemoryLimitPages caps each sandbox's linear memory in 64KB pages.
	// Zero keeps the wazero default (4GB). Growth past the ceiling fails
	// the guest's memory.grow, never the host.
	MemoryLimitPages uint32

	// CacheDir is the on-disk compilation cache location. Empty keeps
	// compilation results in memory only.
	CacheDir string
}

// Engine wraps the shared wazero runtime and the precompiled handler.
type Engine struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	handler wazero.CompiledModule
}

// New builds the engine: runtime configuration from the probed strategy,
// the WASI surface, and the handler ABI host module. The runtime always
// inserts termination checkpoints so epoch- and fuel-based cancellation
// can abort a guest that never calls back into the host.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	rtCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.Strategy == AllocatorPooling {
		rtCfg = rtCfg.WithMemoryCapacityFromMax(true)
	}

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("create compilation cache: %w", err)
		}
		rtCfg = rtCfg.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		closeAll(ctx, rt, cache)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	if err := hostfunc.Instantiate(ctx, rt); err != nil {
		closeAll(ctx, rt, cache)
		return nil, fmt.Errorf("instantiate handler ABI: %w", err)
	}

	return &Engine{runtime: rt, cache: cache}, nil
}

// Load compiles the handler component at path and retains it for repeated
// instantiation. Must be called once before the first request.
func (e *Engine) Load(ctx context.Context, path string) error {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read component: %w", err)
	}
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile component %s: %w", filepath.Base(path), err)
	}
	e.handler = compiled
	return nil
}

// Instantiate runs the precompiled handler once against a sandbox's module
// config and returns when the guest's entry point does. A clean proc_exit(0)
// is success. A cancellation-driven abort is reported as the cancellation
// cause, so deadline and fuel failures surface as themselves rather than as
// a generic exit error.
func (e *Engine) Instantiate(ctx context.Context, modCfg wazero.ModuleConfig) error {
	mod, err := e.runtime.InstantiateModule(ctx, e.handler, modCfg)
	if err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			switch exit.ExitCode() {
			case 0:
				return nil
			case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
				if cause := context.Cause(ctx); cause != nil {
					return cause
				}
			}
			return fmt.Errorf("handler exited with code %d", exit.ExitCode())
		}
		return err
	}
	return mod.Close(ctx)
}

// Close releases the runtime and cache. In-flight instantiations must have
// completed.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

func closeAll(ctx context.Context, rt wazero.Runtime, cache wazero.CompilationCache) {
	_ = rt.Close(ctx)
	if cache != nil {
		_ = cache.Close(ctx)
	}
}

// DefaultCacheDir is where compiled components are cached between runs.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "wasmserve")
	}
	return filepath.Join(os.TempDir(), "wasmserve-cache")
}
