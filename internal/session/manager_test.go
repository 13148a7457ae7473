package session

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
)

type fakePurger struct {
	calls int
	err   error
}

func (f *fakePurger) PurgeLocalData(context.Context) error {
	f.calls++
	return f.err
}

func TestManagerStartsSignedOut(t *testing.T) {
	m := NewManager(&fakePurger{}, zerolog.New(io.Discard))
	if _, ok := m.Current(); ok {
		t.Fatal("fresh manager should have no identity")
	}
}

func TestSignInEstablishesIdentity(t *testing.T) {
	m := NewManager(&fakePurger{}, zerolog.New(io.Discard))
	if err := m.SignIn("user-1"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	identity, ok := m.Current()
	if !ok || identity != "user-1" {
		t.Fatalf("expected user-1 established, got %q (%v)", identity, ok)
	}
}

func TestSignInRejectsEmptyIdentity(t *testing.T) {
	m := NewManager(&fakePurger{}, zerolog.New(io.Discard))
	if err := m.SignIn(""); err == nil {
		t.Fatal("empty identity must be rejected")
	}
}

func TestSignOutDropsIdentityAndPurges(t *testing.T) {
	purger := &fakePurger{}
	m := NewManager(purger, zerolog.New(io.Discard))

	if err := m.SignIn("user-1"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("sign-out failed: %v", err)
	}

	if _, ok := m.Current(); ok {
		t.Fatal("identity should be dropped after sign-out")
	}
	if purger.calls != 1 {
		t.Fatalf("expected one purge, got %d", purger.calls)
	}
}

func TestSignOutSurfacesPurgeFailureButDropsIdentity(t *testing.T) {
	purger := &fakePurger{err: errors.New("disk full")}
	m := NewManager(purger, zerolog.New(io.Discard))

	if err := m.SignIn("user-1"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	if err := m.SignOut(context.Background()); err == nil {
		t.Fatal("purge failure must be surfaced")
	}
	if _, ok := m.Current(); ok {
		t.Fatal("identity must be dropped even when the purge fails")
	}
}

func TestSignOutWithoutSessionIsNoOp(t *testing.T) {
	purger := &fakePurger{}
	m := NewManager(purger, zerolog.New(io.Discard))

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("sign-out without a session should be a no-op, got %v", err)
	}
	if purger.calls != 0 {
		t.Fatalf("purge should not run without a session, ran %d times", purger.calls)
	}
}
