package presence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/zaclabs/spawnsync/go/internal/identity"
	"github.com/zaclabs/spawnsync/go/internal/store"
)

func waitRoster(t *testing.T, ch chan Roster, want func(Roster) bool, what string) Roster {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-ch:
			if want(r) {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func startTracker(t *testing.T, st *store.Memory, sess *identity.Session) (chan Roster, func()) {
	t.Helper()
	rosterCh := make(chan Roster, 64)
	tr := New(st, clockwork.NewFakeClockAt(time.Unix(1700000000, 0)), sess, func(r Roster) {
		rosterCh <- r
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return rosterCh, stop
}

func TestTracker_RegistersOnConnect(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	sess := identity.NewSession("uid-1", "zac", true)

	rosterCh, _ := startTracker(t, st, sess)

	r := waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 1 }, "self in roster")
	if r.Admins[0] != "zac" {
		t.Errorf("roster = %v", r.Admins)
	}
	if got := r.String(); got != "Online Admins (1): zac" {
		t.Errorf("roster string = %q", got)
	}
}

func TestTracker_HardDisconnectSelfHeals(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	sess := identity.NewSession("uid-1", "zac", true)

	rosterCh, _ := startTracker(t, st, sess)
	waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 1 }, "registration")

	// Hard disconnect: no deregister call, the lease alone must clean up.
	st.DropConnection()
	waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 0 }, "self-heal after drop")

	// Reconnect: delete-then-recreate yields exactly one record again.
	st.Reconnect()
	r := waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 1 }, "re-registration")
	if r.Admins[0] != "zac" {
		t.Errorf("roster after reconnect = %v", r.Admins)
	}
}

func TestTracker_NonPrivilegedWatchesButNeverRegisters(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	ctx := context.Background()

	sess := identity.NewSession("uid-2", "lurker", false)
	rosterCh, _ := startTracker(t, st, sess)

	// Initial empty roster is still delivered to non-admins.
	r := waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 0 }, "initial roster")
	if got := r.String(); got != "No admins online" {
		t.Errorf("empty roster string = %q", got)
	}

	// Someone else comes online; the watcher sees it.
	if _, err := st.Append(ctx, Collection, map[string]any{
		"timestamp": 1, "isAdmin": true, "nickname": "admin-a",
	}); err != nil {
		t.Fatal(err)
	}
	waitRoster(t, rosterCh, func(r Roster) bool {
		return len(r.Admins) == 1 && r.Admins[0] == "admin-a"
	}, "other admin visible")

	// And this session never wrote a record of its own.
	snap := waitRoster(t, rosterCh, func(r Roster) bool { return true }, "final roster")
	for _, name := range snap.Admins {
		if name == "lurker" {
			t.Error("non-privileged session registered a presence record")
		}
	}
}

func TestTracker_RosterIgnoresNonAdminRecords(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	ctx := context.Background()

	if _, err := st.Append(ctx, Collection, map[string]any{
		"timestamp": 5, "isAdmin": false, "nickname": "mortal",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Append(ctx, Collection, map[string]any{
		"timestamp": 3, "isAdmin": true, "nickname": "beta",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Append(ctx, Collection, map[string]any{
		"timestamp": 1, "isAdmin": true, "nickname": "alpha",
	}); err != nil {
		t.Fatal(err)
	}

	sess := identity.NewSession("uid-3", "viewer", false)
	rosterCh, _ := startTracker(t, st, sess)

	r := waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 2 }, "filtered roster")
	if r.Admins[0] != "alpha" || r.Admins[1] != "beta" {
		t.Errorf("roster order = %v, want [alpha beta]", r.Admins)
	}
	if got := r.String(); !strings.HasPrefix(got, "Online Admins (2): ") {
		t.Errorf("roster string = %q", got)
	}
}

func TestTracker_LeaveDeletesOwnRecord(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	sess := identity.NewSession("uid-1", "zac", true)

	rosterCh := make(chan Roster, 64)
	tr := New(st, clockwork.NewFakeClock(), sess, func(r Roster) { rosterCh <- r })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 1 }, "registration")

	if err := tr.Leave(context.Background()); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	waitRoster(t, rosterCh, func(r Roster) bool { return len(r.Admins) == 0 }, "roster empty after leave")

	// Leave again is a no-op.
	if err := tr.Leave(context.Background()); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
}
