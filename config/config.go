// Package config holds the immutable server configuration assembled at
// startup from flags and an optional YAML file. All validation happens
// before the listening socket opens; nothing here changes afterwards.
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// wasmPageSize is the WebAssembly linear-memory page size.
const wasmPageSize = 64 * 1024

// Duration decodes from YAML as either a duration string ("2s", "500ms")
// or a plain integer nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Preopen maps a host directory into the sandbox filesystem.
type Preopen struct {
	Host  string `yaml:"host"`
	Guest string `yaml:"guest"`
}

// Server is the process-lifetime configuration. Created once at startup,
// validated once, never mutated.
type Server struct {
	// Addr is the socket address the acceptor binds.
	Addr string `yaml:"addr"`

	// Component is the path to the precompiled handler component. Required,
	// positional on the command line.
	Component string `yaml:"-"`

	// Timeout is the optional wall-clock deadline per request. Zero disables
	// epoch interruption entirely.
	Timeout Duration `yaml:"timeout"`

	// Fuel is the optional per-request fuel budget, charged at handler ABI
	// checkpoints. Zero disables metering.
	Fuel uint64 `yaml:"fuel"`

	// MemoryLimit caps each sandbox's linear memory, e.g. "16mb", "1gb".
	// Empty keeps the engine default (4GB).
	MemoryLimit string `yaml:"memory_limit"`

	// Wasi holds raw -S/--wasi capability specs, e.g. "cli", "http=false".
	Wasi []string `yaml:"wasi"`

	// Env lists KEY=VALUE pairs exposed to every sandbox, in addition to
	// the per-request REQUEST_ID variable.
	Env []string `yaml:"env"`

	// Dirs lists host directories preopened inside the sandbox.
	Dirs []Preopen `yaml:"dirs"`

	// CacheDir overrides the on-disk compilation cache location.
	CacheDir string `yaml:"cache_dir"`

	// NoCache disables the on-disk compilation cache.
	NoCache bool `yaml:"no_cache"`

	caps  Capabilities
	pages uint32
}

// Default returns the configuration used when no file and no flags are
// given.
func Default() Server {
	return Server{
		Addr: "0.0.0.0:8080",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path means no file was requested and yields the plain defaults; a
// non-empty path was asked for explicitly, so a missing file is an error,
// not something to ignore. Flags are applied by the caller on top.
func Load(path string) (Server, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the whole configuration and computes the derived fields.
// Every error returned here is a startup error: the caller must report it
// and exit before binding the socket.
func (s *Server) Validate() error {
	if s.Component == "" {
		return fmt.Errorf("a handler component is required")
	}
	if _, err := os.Stat(s.Component); err != nil {
		return fmt.Errorf("component %q: %w", s.Component, err)
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return fmt.Errorf("invalid bind address %q: %w", s.Addr, err)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	caps, err := ParseCapabilities(s.Wasi)
	if err != nil {
		return err
	}
	if err := caps.Validate(); err != nil {
		return err
	}
	s.caps = caps

	if s.MemoryLimit != "" {
		pages, err := parseMemorySize(s.MemoryLimit)
		if err != nil {
			return err
		}
		s.pages = pages
	}

	for _, kv := range s.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("invalid env entry %q (expected KEY=VALUE)", kv)
		}
	}
	for _, d := range s.Dirs {
		if d.Host == "" || d.Guest == "" {
			return fmt.Errorf("invalid preopen (empty host or guest path)")
		}
		if _, err := os.Stat(d.Host); err != nil {
			return fmt.Errorf("preopen %q: %w", d.Host, err)
		}
	}
	return nil
}

// Capabilities returns the validated capability set. Only meaningful after
// Validate succeeded.
func (s *Server) Capabilities() Capabilities { return s.caps }

// MemoryLimitPages returns the sandbox memory ceiling in 64KB pages, or 0
// for the engine default. Only meaningful after Validate succeeded.
func (s *Server) MemoryLimitPages() uint32 { return s.pages }

// ParseDir parses a --dir flag value of the form "host" or "host::guest".
func ParseDir(spec string) (Preopen, error) {
	host, guest, ok := strings.Cut(spec, "::")
	if !ok {
		guest = host
	}
	if host == "" || guest == "" {
		return Preopen{}, fmt.Errorf("invalid dir spec %q (expected host or host::guest)", spec)
	}
	return Preopen{Host: host, Guest: guest}, nil
}

// parseMemorySize converts a human size string (e.g. "64kb", "256mb",
// "1gb") into wasm pages, rounding up to a whole page.
func parseMemorySize(s string) (uint32, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(v, "kb"):
		mult, v = 1024, strings.TrimSuffix(v, "kb")
	case strings.HasSuffix(v, "mb"):
		mult, v = 1024*1024, strings.TrimSuffix(v, "mb")
	case strings.HasSuffix(v, "gb"):
		mult, v = 1024*1024*1024, strings.TrimSuffix(v, "gb")
	case strings.HasSuffix(v, "b"):
		v = strings.TrimSuffix(v, "b")
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	if n > math.MaxUint64/mult {
		return 0, fmt.Errorf("memory size %q exceeds the 4GB wasm maximum", s)
	}
	bytes := n * mult
	if bytes == 0 {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	pages := bytes / wasmPageSize
	if bytes%wasmPageSize != 0 {
		pages++
	}
	if pages > 65536 {
		return 0, fmt.Errorf("memory size %q exceeds the 4GB wasm maximum", s)
	}
	return uint32(pages), nil
}
