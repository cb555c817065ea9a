package services

import (
	"context"
	"errors"
	"testing"

	"otcdesk/internal/snapshot"
)

func TestFirstRegisteredUserIsModerator(t *testing.T) {
	users := NewUserService(snapshot.NewState(), &stubStore{})
	ctx := context.Background()
	first, err := users.Register(ctx, "alice", "hash-a")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !first.IsModerator {
		t.Fatal("first user should be a moderator")
	}
	second, err := users.Register(ctx, "bob", "hash-b")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if second.IsModerator {
		t.Fatal("second user should not be a moderator")
	}
}

func TestRegisterDuplicateUsernameCaseInsensitive(t *testing.T) {
	users := NewUserService(snapshot.NewState(), &stubStore{})
	ctx := context.Background()
	if _, err := users.Register(ctx, "Alice", "hash"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := users.Register(ctx, "alice", "hash"); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGetByUsernameCaseInsensitive(t *testing.T) {
	users := NewUserService(snapshot.NewState(), &stubStore{})
	created, err := users.Register(context.Background(), "Alice", "hash")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	found, err := users.GetByUsername("ALICE")
	if err != nil || found.ID != created.ID {
		t.Fatalf("lookup: %v %+v", err, found)
	}
}

func TestPromoteRequiresModerator(t *testing.T) {
	users := NewUserService(snapshot.NewState(), &stubStore{})
	ctx := context.Background()
	mod, _ := users.Register(ctx, "alice", "hash")
	plain, _ := users.Register(ctx, "bob", "hash")
	other, _ := users.Register(ctx, "carol", "hash")

	if err := users.Promote(ctx, plain.ID, other.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if err := users.Promote(ctx, mod.ID, plain.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !users.IsModerator(plain.ID) {
		t.Fatal("promotion did not stick")
	}
	// promoting an existing moderator is a no-op
	if err := users.Promote(ctx, mod.ID, plain.ID); err != nil {
		t.Fatalf("repeat promote: %v", err)
	}
}

func TestRegisterRollsBackOnPersistFailure(t *testing.T) {
	store := &stubStore{persistFn: func(context.Context, snapshot.Patch) error { return errors.New("down") }}
	users := NewUserService(snapshot.NewState(), store)
	if _, err := users.Register(context.Background(), "alice", "hash"); err == nil {
		t.Fatal("expected persist failure")
	}
	store.persistFn = nil
	// the failed registration left no residue, the name is free again
	if _, err := users.Register(context.Background(), "alice", "hash"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}
