package sandbox

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestLineWriterPrefixes(t *testing.T) {
	var out bytes.Buffer
	var mu sync.Mutex
	w := NewLineWriter(&out, &mu, "stdout [7] :: ")

	if _, err := w.Write([]byte("hello\nworld\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "stdout [7] :: hello\nstdout [7] :: world\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestLineWriterBuffersPartialLines(t *testing.T) {
	var out bytes.Buffer
	var mu sync.Mutex
	w := NewLineWriter(&out, &mu, "p :: ")

	w.Write([]byte("hel"))
	w.Write([]byte("lo"))
	if out.Len() != 0 {
		t.Fatalf("partial line flushed early: %q", out.String())
	}
	w.Write([]byte("!\ntrailing"))
	if out.String() != "p :: hello!\n" {
		t.Errorf("output = %q", out.String())
	}
	// The trailing fragment stays buffered; a writer abandoned mid-line
	// emits nothing more.
	if strings.Contains(out.String(), "trailing") {
		t.Error("unterminated bytes were flushed")
	}
}

func TestLineWriterSuppressesEmptyLines(t *testing.T) {
	var out bytes.Buffer
	var mu sync.Mutex
	w := NewLineWriter(&out, &mu, "p :: ")

	w.Write([]byte("\n\na\n\nb\n"))
	if out.String() != "p :: a\np :: b\n" {
		t.Errorf("output = %q", out.String())
	}
}

// chunkRecorder records each Write call separately so interleaving is
// observable.
type chunkRecorder struct {
	mu     sync.Mutex
	chunks []string
}

func (r *chunkRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.chunks = append(r.chunks, string(p))
	r.mu.Unlock()
	return len(p), nil
}

func TestLineWriterConcurrentLineAtomicity(t *testing.T) {
	rec := &chunkRecorder{}
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		prefix := "w" + string(rune('0'+i)) + " :: "
		w := NewLineWriter(rec, &mu, prefix)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.Write([]byte("line"))
				w.Write([]byte("\n"))
			}
		}()
	}
	wg.Wait()

	if len(rec.chunks) != 8*50 {
		t.Fatalf("got %d chunks, want %d", len(rec.chunks), 8*50)
	}
	for _, c := range rec.chunks {
		if !strings.HasSuffix(c, " :: line\n") {
			t.Fatalf("torn line %q", c)
		}
	}
}
