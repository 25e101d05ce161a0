package shorten

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeContainer emulates a live message container: writes from any side
// update the markup, and while the observer is connected every write
// notifies the handler asynchronously (as a real MutationObserver would).
type fakeContainer struct {
	mu        sync.Mutex
	html      string
	handler   func()
	connected bool
	events    []string // ordered "write" / "disconnect" entries
}

func (c *fakeContainer) HTML(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.html, nil
}

func (c *fakeContainer) SetHTML(_ context.Context, html string) error {
	c.mu.Lock()
	c.html = html
	c.events = append(c.events, "write")
	h := c.handler
	notify := c.connected
	c.mu.Unlock()
	if notify && h != nil {
		go h()
	}
	return nil
}

// pageWrite is the host page mutating its own subtree.
func (c *fakeContainer) pageWrite(html string) {
	c.mu.Lock()
	c.html = html
	h := c.handler
	notify := c.connected
	c.mu.Unlock()
	if notify && h != nil {
		h()
	}
}

func (c *fakeContainer) subscribe(h func()) func() {
	c.mu.Lock()
	c.handler = h
	c.connected = true
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.connected = false
		c.events = append(c.events, "disconnect")
		c.mu.Unlock()
	}
}

func (c *fakeContainer) eventLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *fakeContainer) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.html
}

func wire(t *testing.T, c *fakeContainer, delay time.Duration) *Shortener {
	t.Helper()
	s := New(context.Background(), c, Config{FinalizeDelay: delay})
	s.Bind(c.subscribe(s.OnMutation))
	// Immediate check for content present before observation began.
	s.OnMutation()
	return s
}

func waitPhase(t *testing.T, s *Shortener, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Phase() != want {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %v, want %v", s.Phase(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitialToStreamingCapturesPrefix(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 50*time.Millisecond)

	c.pageWrite("<p>A</p>" + DefaultStartMarker + "partial stream")

	waitPhase(t, s, PhaseStreaming)
	want := "<p>A</p>" + DefaultPlaceholder
	if got := c.current(); got != want {
		t.Fatalf("markup = %q, want %q", got, want)
	}
}

// Prefix preservation: finalization must yield exactly
// prefix + placeholder + everything after the end marker.
func TestPrefixPreservation(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 30*time.Millisecond)

	c.pageWrite("<p>A</p>" + DefaultStartMarker + "BIGBLOB" + DefaultEndMarker + "<p>Z</p>")
	waitPhase(t, s, PhaseStreaming)

	// The page keeps streaming below the placeholder; the end marker
	// arrives in live markup.
	c.pageWrite(c.current() + "BIGBLOB" + DefaultEndMarker + "<p>Z</p>")
	waitPhase(t, s, PhaseFinal)

	want := "<p>A</p>" + DefaultPlaceholder + "<p>Z</p>"
	if got := c.current(); got != want {
		t.Fatalf("final markup = %q, want %q", got, want)
	}
}

// Idempotent transition: repeated end-marker sightings before the
// debounce fires produce exactly one FINAL transition.
func TestRepeatedSightingsOneFinalize(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 60*time.Millisecond)

	c.pageWrite(DefaultStartMarker + "x")
	waitPhase(t, s, PhaseStreaming)

	c.pageWrite(c.current() + "tail" + DefaultEndMarker)
	for i := 0; i < 5; i++ {
		s.OnMutation() // each sighting supersedes the pending timer
		time.Sleep(5 * time.Millisecond)
	}
	waitPhase(t, s, PhaseFinal)
	time.Sleep(100 * time.Millisecond)

	// One placeholder write plus one final write, no more.
	writes := 0
	for _, e := range c.eventLog() {
		if e == "write" {
			writes++
		}
	}
	if writes != 2 {
		t.Fatalf("writes = %d, want 2 (placeholder + final)", writes)
	}
}

// No feedback loop: the observer is disconnected strictly before the
// final write, so the final mutation is never observed.
func TestDisconnectBeforeFinalWrite(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 30*time.Millisecond)

	c.pageWrite(DefaultStartMarker + "x")
	waitPhase(t, s, PhaseStreaming)
	c.pageWrite(c.current() + DefaultEndMarker + "tail")
	waitPhase(t, s, PhaseFinal)

	events := c.eventLog()
	disconnectAt, lastWriteAt := -1, -1
	for i, e := range events {
		switch e {
		case "disconnect":
			disconnectAt = i
		case "write":
			lastWriteAt = i
		}
	}
	if disconnectAt == -1 {
		t.Fatal("observer never disconnected")
	}
	if disconnectAt > lastWriteAt {
		t.Fatalf("disconnect after final write: %v", events)
	}
}

// Marker vanish reversion: an end marker that disappears before the
// debounce elapses must not finalize.
func TestEndMarkerVanishStaysStreaming(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 40*time.Millisecond)

	c.pageWrite(DefaultStartMarker + "x")
	waitPhase(t, s, PhaseStreaming)

	placeholderOnly := c.current()
	c.pageWrite(placeholderOnly + "&lt;/fil") // partial-looking growth
	c.pageWrite(placeholderOnly + DefaultEndMarker)
	// Marker vanishes before the debounce fires.
	c.pageWrite(placeholderOnly + "&lt;/fil")

	time.Sleep(120 * time.Millisecond)
	if got := s.Phase(); got != PhaseStreaming {
		t.Fatalf("phase = %v, want streaming after marker vanished", got)
	}

	// When the marker truly arrives, finalization still works.
	c.pageWrite(placeholderOnly + DefaultEndMarker + "<p>tail</p>")
	waitPhase(t, s, PhaseFinal)
	if got := c.current(); !strings.HasSuffix(got, "<p>tail</p>") {
		t.Fatalf("final markup lost the tail: %q", got)
	}
}

// Disjoint containers: finalizing A leaves B's machine and observer alone.
func TestContainersIndependent(t *testing.T) {
	ca, cb := &fakeContainer{}, &fakeContainer{}
	sa := wire(t, ca, 30*time.Millisecond)
	sb := wire(t, cb, 30*time.Millisecond)

	cb.pageWrite(DefaultStartMarker + "b content")
	waitPhase(t, sb, PhaseStreaming)
	bMarkup := cb.current()

	ca.pageWrite(DefaultStartMarker + "a")
	waitPhase(t, sa, PhaseStreaming)
	ca.pageWrite(ca.current() + DefaultEndMarker)
	waitPhase(t, sa, PhaseFinal)

	if got := sb.Phase(); got != PhaseStreaming {
		t.Fatalf("container B phase = %v, want streaming", got)
	}
	if got := cb.current(); got != bMarkup {
		t.Fatalf("container B markup changed: %q", got)
	}
	for _, e := range cb.eventLog() {
		if e == "disconnect" {
			t.Fatal("container B observer was disconnected")
		}
	}
}

func TestFinalIsAbsorbing(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 20*time.Millisecond)

	c.pageWrite(DefaultStartMarker + "x")
	waitPhase(t, s, PhaseStreaming)
	c.pageWrite(c.current() + DefaultEndMarker + "tail")
	waitPhase(t, s, PhaseFinal)

	final := c.current()
	// Residual notifications must be ignored even though the observer is
	// already disconnected.
	for i := 0; i < 3; i++ {
		s.OnMutation()
	}
	time.Sleep(50 * time.Millisecond)
	if got := c.current(); got != final {
		t.Fatalf("FINAL markup mutated: %q", got)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	c := &fakeContainer{}
	s := wire(t, c, 20*time.Millisecond)

	c.pageWrite(DefaultStartMarker + "x")
	waitPhase(t, s, PhaseStreaming)
	c.pageWrite(c.current() + DefaultEndMarker)

	s.Teardown()
	s.Teardown() // second call must be safe

	time.Sleep(60 * time.Millisecond)
	if got := s.Phase(); got == PhaseFinal {
		t.Fatal("pending finalize survived teardown")
	}

	// Teardown on a fresh shortener with no subscription.
	New(context.Background(), &fakeContainer{}, Config{}).Teardown()
}

func TestRegistryTeardownAll(t *testing.T) {
	reg := NewRegistry(nil)
	var containers []*fakeContainer
	for i := 0; i < 3; i++ {
		c := &fakeContainer{}
		s := wire(t, c, 20*time.Millisecond)
		containers = append(containers, c)
		reg.Put(string(rune('a'+i)), s)
	}
	if reg.Len() != 3 {
		t.Fatalf("len = %d, want 3", reg.Len())
	}

	reg.TeardownAll()
	if reg.Len() != 0 {
		t.Fatalf("len = %d after TeardownAll, want 0", reg.Len())
	}
	for i, c := range containers {
		found := false
		for _, e := range c.eventLog() {
			if e == "disconnect" {
				found = true
			}
		}
		if !found {
			t.Fatalf("container %d observer not disconnected", i)
		}
	}
}

func TestThrottleCoalescesBursts(t *testing.T) {
	var calls atomic.Int32
	h := Throttle(50*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 10; i++ {
		h()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("burst produced %d invocations, want 1", got)
	}

	h()
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("second burst produced %d total invocations, want 2", got)
	}
}
