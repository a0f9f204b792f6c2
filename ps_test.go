package ps

// Full multi-node Start/Finalize (multiple processes, one per role) is
// not covered by the tests in this module, for the same reason
// internal/van's tests give: PostOffice is a true process-wide
// singleton, so one test binary cannot host two independently
// configured nodes. This file covers the single-node wiring between
// PostOffice and Van that ps.go itself adds on top of internal/van,
// internal/postoffice's own already-tested machinery.

import (
	"testing"

	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
)

func schedulerOnlyConfig() *config.Config {
	return &config.Config{
		SchedulerURI:  "127.0.0.1",
		SchedulerPort: 0,
		Role:          message.RoleScheduler,
		NumWorker:     0,
		NumServer:     0,
		Port:          0,
	}
}

// TestStartFinalizeSingleScheduler exercises Start's stage0/1 wiring
// and Finalize's Stop+RunExitCallback path for a cluster of exactly one
// node (the scheduler), sidestepping the barrier's scheduler-as-member
// behavior by passing needBarrier=false throughout.
func TestStartFinalizeSingleScheduler(t *testing.T) {
	cfg := schedulerOnlyConfig()

	if err := Start(cfg, 0, false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !IsScheduler() {
		t.Error("expected IsScheduler() true")
	}
	if IsWorker() || IsServer() {
		t.Error("expected IsWorker/IsServer false for a scheduler")
	}
	if NumWorkers() != 0 || NumServers() != 0 {
		t.Errorf("expected 0 workers/servers, got %d/%d", NumWorkers(), NumServers())
	}
	if MyRank() != 0 {
		t.Errorf("expected scheduler rank 0, got %d", MyRank())
	}
	if Van() == nil {
		t.Fatal("expected Van() to be non-nil once Start has returned")
	}

	exited := make(chan struct{}, 1)
	RegisterExitCallback(func() { exited <- struct{}{} })

	if err := Finalize(0, false); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	select {
	case <-exited:
	default:
		t.Error("expected the registered exit callback to run during Finalize")
	}
}
