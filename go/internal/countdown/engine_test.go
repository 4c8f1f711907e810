package countdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/zaclabs/spawnsync/go/internal/schedule"
)

// recorder captures renders and alerts and signals each one on a channel so
// tests can wait for the evaluator goroutine deterministically.
type recorder struct {
	mu        sync.Mutex
	displays  []string
	warns     []string
	expiries  []string
	displayCh chan string
	warnCh    chan string
	expireCh  chan string
}

func newRecorder() *recorder {
	return &recorder{
		displayCh: make(chan string, 256),
		warnCh:    make(chan string, 16),
		expireCh:  make(chan string, 16),
	}
}

func (r *recorder) Display(slot, text string) {
	r.mu.Lock()
	r.displays = append(r.displays, text)
	r.mu.Unlock()
	r.displayCh <- text
}

func (r *recorder) Warn(slot, name string) {
	r.mu.Lock()
	r.warns = append(r.warns, name)
	r.mu.Unlock()
	r.warnCh <- name
}

func (r *recorder) Expired(slot, name string) {
	r.mu.Lock()
	r.expiries = append(r.expiries, name)
	r.mu.Unlock()
	r.expireCh <- name
}

func (r *recorder) warnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warns)
}

func (r *recorder) expiryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expiries)
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func drain[T any](ch chan T) (last T, n int) {
	for {
		select {
		case v := <-ch:
			last = v
			n++
		default:
			return last, n
		}
	}
}

func newTestEngine(fc *clockwork.FakeClock, rec *recorder) *Engine {
	return New(Config{
		Clock:    fc,
		Renderer: rec,
		Alerts:   rec,
	})
}

func TestEngine_CountdownWarnsOnceThenExpires(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	eng := newTestEngine(fc, rec)
	defer eng.Stop()

	expired := make(chan struct{}, 1)
	eng.Arm(context.Background(), Arming{
		Slot:     "chobos",
		Name:     "Chobos",
		Target:   fc.Now().Add(200 * time.Second),
		Format:   schedule.FormatClock,
		Terminal: "SPAWNED!",
		OnExpire: func(context.Context) { expired <- struct{}{} },
	})

	// Arm renders the starting display synchronously.
	if got := waitFor(t, rec.displayCh, "initial display"); got != "03:20" {
		t.Fatalf("initial display = %q, want 03:20", got)
	}
	if st := eng.State("chobos"); st != StateArmed {
		t.Fatalf("state after arm = %v, want armed", st)
	}

	fc.BlockUntil(1)
	// Step second by second for the first 19 ticks, consuming each render so
	// no tick is ever dropped by the fake ticker's buffer.
	for i := 1; i <= 19; i++ {
		fc.Advance(time.Second)
		want := schedule.FormatClock(int64(200 - i))
		if got := waitFor(t, rec.displayCh, "tick display"); got != want {
			t.Fatalf("display at tick %d = %q, want %q", i, got, want)
		}
	}
	if n := rec.warnCount(); n != 0 {
		t.Fatalf("warning fired %d times before threshold, want 0", n)
	}

	fc.Advance(time.Second)
	waitFor(t, rec.warnCh, "warning alert")
	if got := waitFor(t, rec.displayCh, "display at threshold"); got != "03:00" {
		t.Fatalf("display at 180s = %q, want 03:00", got)
	}
	if st := eng.State("chobos"); st != StateWarned {
		t.Fatalf("state after warning = %v, want warned", st)
	}

	// One more tick: the warning must not repeat.
	fc.Advance(time.Second)
	if got := waitFor(t, rec.displayCh, "display after threshold"); got != "02:59" {
		t.Fatalf("display at 179s = %q, want 02:59", got)
	}
	if n := rec.warnCount(); n != 1 {
		t.Fatalf("warning fired %d times, want 1", n)
	}

	fc.Advance(200 * time.Second)
	waitFor(t, rec.expireCh, "expiry alert")
	waitFor(t, expired, "onExpire")
	if got, _ := drain(rec.displayCh); got != "SPAWNED!" {
		t.Fatalf("terminal display = %q, want SPAWNED!", got)
	}
	if n := rec.expiryCount(); n != 1 {
		t.Fatalf("expiry fired %d times, want 1", n)
	}
	if st := eng.State("chobos"); st != StateExpired {
		t.Fatalf("state after expiry = %v, want expired", st)
	}
}

func TestEngine_ArmInsideWarningWindowNeverWarns(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	eng := newTestEngine(fc, rec)
	defer eng.Stop()

	eng.Arm(context.Background(), Arming{
		Slot:   "chainos",
		Name:   "Chainos",
		Target: fc.Now().Add(100 * time.Second),
		Format: schedule.FormatClock,
	})
	waitFor(t, rec.displayCh, "initial display")

	fc.BlockUntil(1)
	fc.Advance(50 * time.Second)
	waitFor(t, rec.displayCh, "mid countdown display")

	if n := rec.warnCount(); n != 0 {
		t.Fatalf("warning fired %d times for a sub-threshold arming, want 0", n)
	}
}

func TestEngine_RearmDiscardsInFlightArming(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	eng := newTestEngine(fc, rec)
	defer eng.Stop()

	staleExpired := make(chan struct{}, 1)
	eng.Arm(context.Background(), Arming{
		Slot:     "chobos",
		Name:     "Chobos",
		Target:   fc.Now().Add(30 * time.Second),
		Format:   schedule.FormatClock,
		OnExpire: func(context.Context) { staleExpired <- struct{}{} },
	})
	waitFor(t, rec.displayCh, "initial display")

	// New record arrives mid-countdown; the old evaluator must die without
	// firing anything even when time later passes its old target.
	eng.Arm(context.Background(), Arming{
		Slot:   "chobos",
		Name:   "Chobos",
		Target: fc.Now().Add(600 * time.Second),
		Format: schedule.FormatClock,
	})
	waitFor(t, rec.displayCh, "re-arm display")

	fc.BlockUntil(1)
	fc.Advance(60 * time.Second)
	waitFor(t, rec.displayCh, "post re-arm display")

	select {
	case <-staleExpired:
		t.Fatal("stale arming fired its onExpire")
	default:
	}
	if n := rec.expiryCount(); n != 0 {
		t.Fatalf("expiry fired %d times after re-arm, want 0", n)
	}
	if n := rec.warnCount(); n != 0 {
		t.Fatalf("warning fired %d times after re-arm, want 0", n)
	}
	if st := eng.State("chobos"); st != StateArmed {
		t.Fatalf("state = %v, want armed", st)
	}
}

func TestEngine_IdenticalRecordRedeliveryIsNoop(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	eng := newTestEngine(fc, rec)
	defer eng.Stop()

	target := fc.Now().Add(300 * time.Second)
	arming := Arming{
		Slot:   "skrab",
		Name:   "Skrab",
		Target: target,
		Format: schedule.FormatLong,
	}
	eng.Arm(context.Background(), arming)
	waitFor(t, rec.displayCh, "initial display")

	// Same value delivered again: no duplicate evaluator, no extra render.
	eng.Arm(context.Background(), arming)

	select {
	case got := <-rec.displayCh:
		t.Fatalf("unexpected render %q after redelivery", got)
	case <-time.After(20 * time.Millisecond):
	}

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	waitFor(t, rec.displayCh, "tick display")
	// A duplicate evaluator would produce a second render for the same tick.
	select {
	case got := <-rec.displayCh:
		t.Fatalf("duplicate evaluator rendered %q", got)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestEngine_DisarmStopsEvaluator(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	eng := newTestEngine(fc, rec)

	eng.Arm(context.Background(), Arming{
		Slot:   "chobos",
		Name:   "Chobos",
		Target: fc.Now().Add(10 * time.Second),
		Format: schedule.FormatClock,
	})
	waitFor(t, rec.displayCh, "initial display")
	eng.Disarm("chobos")

	if st := eng.State("chobos"); st != StateIdle {
		t.Fatalf("state after disarm = %v, want idle", st)
	}
	// Disarming again is safe.
	eng.Disarm("chobos")
}

func TestEngine_WeeklyFormatRendering(t *testing.T) {
	fc := clockwork.NewFakeClock()
	rec := newRecorder()
	eng := newTestEngine(fc, rec)
	defer eng.Stop()

	eng.Arm(context.Background(), Arming{
		Slot:   "skrab",
		Name:   "Skrab",
		Target: fc.Now().Add(3*24*time.Hour + 5*time.Second),
		Format: schedule.FormatLong,
	})
	if got := waitFor(t, rec.displayCh, "initial display"); got != "3d 0h 0m 5s" {
		t.Fatalf("initial display = %q, want 3d 0h 0m 5s", got)
	}
}
