package ranging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ranging-core/rangingd/internal/ranging"
	"github.com/ranging-core/rangingd/internal/simadapter"
)

func rssiRawPref(peer ranging.PeerId) ranging.SessionPreference {
	return ranging.SessionPreference{
		Role: ranging.RoleInitiator,
		Raw: &ranging.RawBundle{
			Configs: []ranging.TechnologyConfig{
				{Peers: []ranging.PeerId{peer}, Config: ranging.PerTechnologyConfig{
					Tech: ranging.TechRSSI,
					Rssi: &ranging.RssiParams{IntervalMs: 20},
				}},
			},
		},
	}
}

func TestCreateSessionEnforcesPerClientQuota(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory(), ranging.WithMaxSessionsPerClient(1))
	defer reg.Close()

	ctx := context.Background()
	if _, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), nil); err != nil {
		t.Fatalf("first CreateSession failed: %v", err)
	}
	_, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(2)), nil)
	if !errors.Is(err, ranging.ErrClientQuotaExceeded) {
		t.Fatalf("got error %v, want ErrClientQuotaExceeded", err)
	}

	// A different client is unaffected by client-a's quota.
	if _, err := reg.CreateSession(ctx, "client-b", rssiRawPref(onePeer(3)), nil); err != nil {
		t.Fatalf("CreateSession for a different client failed: %v", err)
	}
}

func TestCreateSessionEnforcesTotalQuota(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory(), ranging.WithMaxTotalSessions(1), ranging.WithMaxSessionsPerClient(0))
	defer reg.Close()

	ctx := context.Background()
	if _, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), nil); err != nil {
		t.Fatalf("first CreateSession failed: %v", err)
	}
	_, err := reg.CreateSession(ctx, "client-b", rssiRawPref(onePeer(2)), nil)
	if !errors.Is(err, ranging.ErrTotalQuotaExceeded) {
		t.Fatalf("got error %v, want ErrTotalQuotaExceeded", err)
	}
}

func TestLookupAndSessionsForClient(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory())
	defer reg.Close()

	ctx := context.Background()
	sess, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, ok := reg.Lookup(sess.Handle())
	if !ok || got != sess {
		t.Fatalf("Lookup(%v) = (%v, %v), want (%v, true)", sess.Handle(), got, ok, sess)
	}

	handles := reg.SessionsForClient("client-a")
	if len(handles) != 1 || handles[0] != sess.Handle() {
		t.Fatalf("SessionsForClient = %v, want [%v]", handles, sess.Handle())
	}

	if reg.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", reg.Count())
	}

	if _, ok := reg.Lookup(ranging.SessionHandle(999999)); ok {
		t.Fatal("Lookup of an unknown handle returned ok=true")
	}
}

func TestDestroySessionRemovesEntryAndReturnsErrorForUnknownHandle(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory())
	defer reg.Close()

	ctx := context.Background()
	sess, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := reg.DestroySession(sess.Handle()); err != nil {
		t.Fatalf("DestroySession returned error: %v", err)
	}
	if reg.Count() != 0 {
		t.Fatalf("Count() = %d after DestroySession, want 0", reg.Count())
	}

	err = reg.DestroySession(sess.Handle())
	if !errors.Is(err, ranging.ErrSessionNotFound) {
		t.Fatalf("got error %v, want ErrSessionNotFound for a repeated destroy", err)
	}
}

func TestCloseAllForClientStopsOwnedSessions(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory())
	defer reg.Close()

	ctx := context.Background()
	sess, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	sess.Start()

	reg.CloseAllForClient("client-a")

	waitForState(t, sess, ranging.StateClosed)
}

func TestWatchDeathStopsSessionWhenDeathChannelCloses(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory())
	defer reg.Close()

	death := make(chan struct{})
	ctx := context.Background()
	sess, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), death)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	sess.Start()

	close(death)

	waitForState(t, sess, ranging.StateClosed)
}

func TestDrainAllStopsEverySession(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory())
	defer reg.Close()

	ctx := context.Background()
	var sessions []*ranging.Session
	for i := byte(1); i <= 3; i++ {
		sess, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(i)), nil)
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		sess.Start()
		sessions = append(sessions, sess)
	}

	reg.DrainAll()

	for _, sess := range sessions {
		waitForState(t, sess, ranging.StateClosed)
	}
}

func TestRunDispatchForwardsRegistryEvents(t *testing.T) {
	t.Parallel()
	reg := ranging.NewSessionRegistry(simadapter.Factory())
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.RunDispatch(ctx)

	sess, err := reg.CreateSession(ctx, "client-a", rssiRawPref(onePeer(1)), nil)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	sess.Start()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-reg.Events():
			if ev.Handle == sess.Handle() && ev.Event.Kind == ranging.EventSessionStarted {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for a SessionStarted RegistryEvent")
		}
	}
}
