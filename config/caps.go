package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Capability names accepted by -S/--wasi. The set is closed: anything else
// is a startup error.
const (
	CapCLI     = "cli"     // full WASI surface (clocks, random, host env)
	CapCommon  = "common"  // deprecated alias for cli
	CapHTTP    = "http"    // the request/response handler ABI itself
	CapNN      = "nn"      // not compiled into this build
	CapThreads = "threads" // unsupported with components
)

// Capabilities is the validated, closed set of optional host capabilities
// toggled by configuration. A nil entry means "not mentioned".
type Capabilities struct {
	cli     *bool
	common  *bool
	http    *bool
	nn      *bool
	threads *bool
}

// ParseCapabilities parses repeated "name" or "name=bool" specs.
func ParseCapabilities(specs []string) (Capabilities, error) {
	var caps Capabilities
	for _, spec := range specs {
		name, val, has := strings.Cut(spec, "=")
		name = strings.TrimSpace(name)
		enabled := true
		if has {
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return caps, fmt.Errorf("invalid capability value %q", spec)
			}
			enabled = b
		}
		var slot **bool
		switch name {
		case CapCLI:
			slot = &caps.cli
		case CapCommon:
			slot = &caps.common
		case CapHTTP:
			slot = &caps.http
		case CapNN:
			slot = &caps.nn
		case CapThreads:
			slot = &caps.threads
		default:
			return caps, fmt.Errorf("unknown capability %q", name)
		}
		if *slot != nil {
			return caps, fmt.Errorf("capability %q specified more than once", name)
		}
		v := enabled
		*slot = &v
	}
	return caps, nil
}

// Validate rejects the illegal combinations once, at startup, so the
// request path never branches on them.
func (c Capabilities) Validate() error {
	if c.common != nil && c.cli != nil {
		return fmt.Errorf("the 'common' capability is a deprecated alias for 'cli' and must not be combined with it")
	}
	if c.http != nil && !*c.http {
		return fmt.Errorf("the 'http' capability is required for serving and must not be disabled")
	}
	if c.nn != nil && *c.nn {
		return fmt.Errorf("the 'nn' capability is not compiled into this build")
	}
	if c.threads != nil && *c.threads {
		return fmt.Errorf("the 'threads' capability is not supported with handler components")
	}
	return nil
}

// FullWASI reports whether the sandbox gets the full host capability
// surface instead of the minimal request/response one.
func (c Capabilities) FullWASI() bool {
	if c.cli != nil {
		return *c.cli
	}
	if c.common != nil {
		return *c.common
	}
	return false
}
