package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/accountd/accountd/internal/db/models"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []*models.ActivityLog
	err     error
	written chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{written: make(chan struct{}, 8)}
}

func (s *fakeStore) Record(ctx context.Context, entry *models.ActivityLog) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	s.written <- struct{}{}
	return s.err
}

func TestSubmitWritesInBackground(t *testing.T) {
	store := newFakeStore()
	rec := NewRecorder(store)

	rec.Submit(&models.ActivityLog{
		Action:      models.ActionLogin,
		Description: "User logged in",
		IPAddress:   "10.0.0.1",
		Success:     true,
	})

	select {
	case <-store.written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background write")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(store.entries))
	}
	if store.entries[0].Action != models.ActionLogin {
		t.Errorf("Action = %s, want login", store.entries[0].Action)
	}
}

func TestSubmitSwallowsStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("db down")
	rec := NewRecorder(store)

	// Must not panic or block the caller.
	rec.Submit(&models.ActivityLog{
		Action:      models.ActionLogout,
		Description: "User logged out",
		IPAddress:   "10.0.0.1",
		Success:     true,
	})

	select {
	case <-store.written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background write")
	}
}

func TestSubmitOnNilRecorderIsNoOp(t *testing.T) {
	var rec *Recorder
	rec.Submit(&models.ActivityLog{Action: models.ActionLogin})
}

func TestRecordSynchronous(t *testing.T) {
	store := newFakeStore()
	rec := NewRecorder(store)

	err := rec.Record(context.Background(), &models.ActivityLog{
		Action:      models.ActionSignup,
		Description: "New account",
		IPAddress:   "10.0.0.1",
		Success:     true,
	})
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.entries) != 1 {
		t.Errorf("len(entries) = %d, want 1", len(store.entries))
	}
}
