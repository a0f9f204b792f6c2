package postoffice

import (
	"testing"
	"time"

	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
)

func freshPostOffice(t *testing.T, cfg *config.Config) *PostOffice {
	t.Cleanup(resetForTest)
	resetForTest()
	p := Get()
	if err := p.InitEnv(cfg); err != nil {
		t.Fatalf("InitEnv: %v", err)
	}
	return p
}

// TestInitEnvBuildsGroupTable tests that stage-0 init populates the
// scheduler, server, worker and all-nodes groups.
func TestInitEnvBuildsGroupTable(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleWorker, NumServer: 2, NumWorker: 3})

	if ids := p.GetNodeIDs(message.IDScheduler); len(ids) != 1 || ids[0] != message.IDScheduler {
		t.Errorf("expected scheduler group {1}, got %v", ids)
	}
	servers := p.GetNodeIDs(message.GroupServer)
	if len(servers) != 2 || servers[0] != 8 || servers[1] != 10 {
		t.Errorf("expected server group {8,10}, got %v", servers)
	}
	workers := p.GetNodeIDs(message.GroupWorker)
	if len(workers) != 3 || workers[0] != 9 || workers[1] != 11 || workers[2] != 13 {
		t.Errorf("expected worker group {9,11,13}, got %v", workers)
	}
	all := p.GetNodeIDs(message.GroupAll)
	if len(all) != 6 {
		t.Errorf("expected 6 nodes in all-group, got %d: %v", len(all), all)
	}
}

// TestGetNodeIDsFallsBackToSingleton tests that an unknown group id
// resolves to itself.
func TestGetNodeIDsFallsBackToSingleton(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleServer, NumServer: 1, NumWorker: 1})
	ids := p.GetNodeIDs(999)
	if len(ids) != 1 || ids[0] != 999 {
		t.Errorf("expected {999}, got %v", ids)
	}
}

// TestServerRangesPartitionKeySpace tests that ranges are contiguous,
// disjoint, and that the last range closes at the maximum key.
func TestServerRangesPartitionKeySpace(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleServer, NumServer: 3, NumWorker: 1})
	ranges := p.GetServerRanges()
	if len(ranges) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(ranges))
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Begin != ranges[i-1].End {
			t.Errorf("range %d not contiguous with %d: %+v vs %+v", i, i-1, ranges[i], ranges[i-1])
		}
	}
	if ranges[len(ranges)-1].End != ^uint64(0) {
		t.Errorf("expected last range to close at max key, got %d", ranges[len(ranges)-1].End)
	}
	if ranges[0].Begin != 0 {
		t.Errorf("expected first range to start at 0, got %d", ranges[0].Begin)
	}
}

// fakeCustomer is a minimal postoffice.Customer for registry tests.
type fakeCustomer struct {
	appID, customerID int
}

func (f *fakeCustomer) AppID() int      { return f.appID }
func (f *fakeCustomer) CustomerID() int { return f.customerID }
func (f *fakeCustomer) OnReceive(message.Message) {}

// TestAddGetRemoveCustomer tests the customer registry round trip.
func TestAddGetRemoveCustomer(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleWorker, NumServer: 1, NumWorker: 1})
	c := &fakeCustomer{appID: 1, customerID: 0}
	p.AddCustomer(c)

	got := p.GetCustomer(1, 0, 0)
	if got == nil {
		t.Fatal("expected customer to be found")
	}

	p.RemoveCustomer(1, 0)
	if got := p.GetCustomer(1, 0, 10*time.Millisecond); got != nil {
		t.Error("expected customer to be gone after RemoveCustomer")
	}
}

// TestGetCustomerTimesOut tests that GetCustomer gives up after timeout
// when the customer never registers.
func TestGetCustomerTimesOut(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleWorker, NumServer: 1, NumWorker: 1})
	start := time.Now()
	got := p.GetCustomer(5, 5, 30*time.Millisecond)
	if got != nil {
		t.Error("expected nil")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected GetCustomer to actually wait out the timeout")
	}
}

// TestDeadNodesReportsStaleAndUnknown tests that a node never heard
// from, and one heard from too long ago, are both reported dead.
func TestDeadNodesReportsStaleAndUnknown(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleScheduler, NumServer: 1, NumWorker: 1})
	p.UpdateHeartbeat(8, time.Now().Add(-time.Hour))
	p.UpdateHeartbeat(9, time.Now())

	dead := p.DeadNodes([]int{8, 9, 10}, time.Second)
	if len(dead) != 2 {
		t.Fatalf("expected 2 dead nodes, got %v", dead)
	}
}

// TestBarrierDoneWakesWaiter tests that WaitBarrier blocks until
// BarrierDone is called for the same app/customer.
func TestBarrierDoneWakesWaiter(t *testing.T) {
	p := freshPostOffice(t, &config.Config{Role: message.RoleWorker, NumServer: 1, NumWorker: 1})
	done := make(chan struct{})
	go func() {
		p.WaitBarrier(1, 0)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	p.BarrierDone(1, 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitBarrier did not wake after BarrierDone")
	}
}
