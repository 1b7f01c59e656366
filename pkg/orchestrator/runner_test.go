package orchestrator_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openstratus/stratus/pkg/orchestrator"
)

func TestRunnerExecutesSubmittedTasks(t *testing.T) {
	r := orchestrator.NewRunner(2)
	defer r.Shutdown()

	var ran atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		err := r.Submit(func() {
			if ran.Add(1) == 8 {
				close(done)
			}
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d of 8 tasks ran", ran.Load())
	}
}

func TestRunnerRejectsTasksAfterShutdown(t *testing.T) {
	r := orchestrator.NewRunner(1)
	r.Shutdown()

	if err := r.Submit(func() {}); !errors.Is(err, orchestrator.ErrRunnerStopped) {
		t.Fatalf("submit after shutdown = %v, want ErrRunnerStopped", err)
	}
}

func TestRunnerShutdownWithBlockedSubmitter(t *testing.T) {
	r := orchestrator.NewRunner(1)

	// Park the single worker and fill the queue behind it so the next
	// Submit blocks on the full channel.
	gate := make(chan struct{})
	if err := r.Submit(func() { <-gate }); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := r.Submit(func() {}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	submitted := make(chan error, 1)
	go func() {
		submitted <- r.Submit(func() {})
	}()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Shutdown()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	// The blocked submission either lands before shutdown takes effect
	// or is turned away; a send on a closed channel would panic here.
	if err := <-submitted; err != nil && !errors.Is(err, orchestrator.ErrRunnerStopped) {
		t.Fatalf("blocked submit returned %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}
