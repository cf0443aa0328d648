package dialmobile

import (
	"sync"
	"testing"
)

func TestRegistry_UnknownUserNotRegistered(t *testing.T) {
	r := NewRegistry()
	if r.IsRegistered("nobody") {
		t.Error("expected unknown user to be unregistered")
	}
	// Deleting for an unknown user must not go negative.
	if n := r.SessionDeleted("nobody"); n != 0 {
		t.Errorf("SessionDeleted() = %d, want 0", n)
	}
	r.SessionCreated("nobody")
	if !r.IsRegistered("nobody") {
		t.Error("expected user to be registered after one session")
	}
}

func TestRegistry_CountsSessions(t *testing.T) {
	r := NewRegistry()

	r.SessionCreated("u1")
	r.SessionCreated("u1")
	if n := r.SessionDeleted("u1"); n != 1 {
		t.Errorf("SessionDeleted() = %d, want 1", n)
	}
	if !r.IsRegistered("u1") {
		t.Error("expected u1 to still be registered with one session left")
	}
	r.SessionDeleted("u1")
	if r.IsRegistered("u1") {
		t.Error("expected u1 to be unregistered once every session is deleted")
	}
	r.SessionDeleted("u1")
	if r.IsRegistered("u1") {
		t.Error("extra deletes must not leave a negative count behind")
	}
	if r.Users() != 0 {
		t.Errorf("Users() = %d, want 0", r.Users())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.SessionCreated("u1")
		}()
	}
	wg.Wait()

	for i := 0; i < n-1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.SessionDeleted("u1")
		}()
	}
	wg.Wait()

	if !r.IsRegistered("u1") {
		t.Fatal("expected one session left")
	}
	r.SessionDeleted("u1")
	if r.IsRegistered("u1") {
		t.Error("expected no session left")
	}
}
