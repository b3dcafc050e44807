package sandbox

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hermit-os/wasmserve/engine"
)

func TestNewFactoryRejectsBadEnv(t *testing.T) {
	_, err := NewFactory(Config{Env: []string{"NOEQUALS"}}, nil, io.Discard, io.Discard)
	if err == nil {
		t.Error("malformed env entry must fail factory construction")
	}
	_, err = NewFactory(Config{Env: []string{"=value"}}, nil, io.Discard, io.Discard)
	if err == nil {
		t.Error("empty env key must fail factory construction")
	}
}

func TestSandboxLifecycle(t *testing.T) {
	f, err := NewFactory(Config{Env: []string{"A=1"}}, nil, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	sb, err := f.New(context.Background(), 7)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	if sb.ID() != 7 {
		t.Errorf("ID = %d", sb.ID())
	}
	if sb.ModuleConfig() == nil {
		t.Fatal("nil module config")
	}
	select {
	case <-sb.Context().Done():
		t.Fatal("fresh sandbox context already cancelled")
	default:
	}

	sb.Close()
	select {
	case <-sb.Context().Done():
	default:
		t.Error("Close must cancel the sandbox context")
	}
}

func TestSandboxFail(t *testing.T) {
	f, err := NewFactory(Config{}, nil, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sb, err := f.New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	defer sb.Close()

	cause := errors.New("abort")
	sb.Fail(cause)
	<-sb.Context().Done()
	if got := context.Cause(sb.Context()); !errors.Is(got, cause) {
		t.Errorf("cause = %v, want the Fail cause", got)
	}
}

func TestSandboxDeadline(t *testing.T) {
	ticker := engine.NewEpochTicker(time.Millisecond)
	defer ticker.Stop()

	f, err := NewFactory(Config{}, ticker, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sb, err := f.New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	defer sb.Close()

	select {
	case <-sb.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("deadline never fired")
	}
	if got := context.Cause(sb.Context()); !errors.Is(got, engine.ErrDeadlineExceeded) {
		t.Errorf("cause = %v, want ErrDeadlineExceeded", got)
	}
}

func TestSandboxCloseDisarms(t *testing.T) {
	ticker := engine.NewEpochTicker(time.Millisecond)
	defer ticker.Stop()

	f, err := NewFactory(Config{}, ticker, io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	sb, err := f.New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new sandbox: %v", err)
	}
	sb.Close()

	// Wait well past the armed target; the cause must stay the teardown
	// cancellation, not the deadline.
	start := ticker.Current()
	waitFor(t, func() bool { return ticker.Current() > start+engine.EpochPrecision+2 })
	if got := context.Cause(sb.Context()); !errors.Is(got, context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
