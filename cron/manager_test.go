package cron

import (
	"context"
	"testing"

	"github.com/saiset-co/sai-translation-cache/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func TestAddValidation(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("", "* * * * * *", func() {}); !types.IsError(err, types.ErrCronJobNameIsEmpty) {
		t.Fatalf("expected ErrCronJobNameIsEmpty, got %v", err)
	}
	if err := manager.Add("sweep", "", func() {}); !types.IsError(err, types.ErrCronExpressionInvalid) {
		t.Fatalf("expected ErrCronExpressionInvalid for empty spec, got %v", err)
	}
	if err := manager.Add("sweep", "* * * * * *", nil); !types.IsError(err, types.ErrCronJobIsNil) {
		t.Fatalf("expected ErrCronJobIsNil, got %v", err)
	}
	if err := manager.Add("sweep", "not a cron spec", func() {}); !types.IsError(err, types.ErrCronExpressionInvalid) {
		t.Fatalf("expected ErrCronExpressionInvalid for bad spec, got %v", err)
	}
}

func TestAddDuplicate(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("sweep", "0 * * * * *", func() {}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := manager.Add("sweep", "0 * * * * *", func() {}); !types.IsError(err, types.ErrCronJobExists) {
		t.Fatalf("expected ErrCronJobExists, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Add("sweep", "0 * * * * *", func() {}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := manager.Remove("sweep"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := manager.Remove("sweep"); err == nil {
		t.Fatal("removing an unknown job must fail")
	}

	// The name is free again after removal.
	if err := manager.Add("sweep", "0 * * * * *", func() {}); err != nil {
		t.Fatalf("re-adding after removal failed: %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	manager := newTestManager(t)

	if manager.IsRunning() {
		t.Fatal("manager must not run before Start")
	}
	if err := manager.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := manager.Start(); !types.IsError(err, types.ErrServerAlreadyRunning) {
		t.Fatalf("expected ErrServerAlreadyRunning, got %v", err)
	}
	if !manager.IsRunning() {
		t.Fatal("manager must run after Start")
	}
	if err := manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := manager.Stop(); !types.IsError(err, types.ErrServerNotRunning) {
		t.Fatalf("expected ErrServerNotRunning, got %v", err)
	}
}

func TestAddAfterShutdown(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := manager.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := manager.Add("late", "0 * * * * *", func() {}); !types.IsError(err, types.ErrServerNotRunning) {
		t.Fatalf("expected ErrServerNotRunning after shutdown, got %v", err)
	}
}
