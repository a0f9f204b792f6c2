package kv_test

import (
	"math"
	"testing"

	"github.com/psgo/ps/internal/config"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/postoffice"
	"github.com/psgo/ps/kv"
)

// TestPushPullPushPullAccumulate mirrors
// original_source/tests/test_kv_app_multi_workers.cpp's single-worker
// scenario: repeated pushes accumulate at the default handler, a pull
// reads back repeat*vals, and a push_pull both accumulates once more
// and reads back (repeat+1)*vals in the same round trip.
func TestPushPullPushPullAccumulate(t *testing.T) {
	po := postoffice.Get()
	if err := po.InitEnv(&config.Config{Role: message.RoleWorker, NumServer: 2, NumWorker: 1}); err != nil {
		t.Fatalf("InitEnv: %v", err)
	}

	r := newRouter()

	server0 := kv.NewServer[float64](0, &nodeVan{id: message.ServerRankToID(0), r: r}, po, nil)
	server1 := kv.NewServer[float64](0, &nodeVan{id: message.ServerRankToID(1), r: r}, po, nil)
	r.register(message.ServerRankToID(0), server0.Customer().OnReceive)
	r.register(message.ServerRankToID(1), server1.Customer().OnReceive)

	worker := kv.NewWorker[float64](0, 0, &nodeVan{id: message.WorkerRankToID(0), r: r}, po)
	r.register(message.WorkerRankToID(0), worker.Customer().OnReceive)

	half := uint64(1) << 63
	keys := []uint64{100, 200, half + 100, half + 200}
	vals := []float64{1, 2, 3, 4}

	repeat := 5
	ts := make([]int, 0, repeat)
	for i := 0; i < repeat; i++ {
		ts = append(ts, worker.Push(keys, vals, 0, nil))
	}
	for _, id := range ts {
		worker.Wait(id)
	}

	var out []float64
	worker.Wait(worker.Pull(keys, &out, nil, 0, nil))
	if len(out) != len(keys) {
		t.Fatalf("pull: got %d values, want %d", len(out), len(keys))
	}
	for i, v := range vals {
		want := v * float64(repeat)
		if math.Abs(out[i]-want) > 1e-9 {
			t.Errorf("pull key %d: got %v want %v", keys[i], out[i], want)
		}
	}

	var out2 []float64
	worker.Wait(worker.PushPull(keys, vals, &out2, nil, 0, nil))
	if len(out2) != len(keys) {
		t.Fatalf("push_pull: got %d values, want %d", len(out2), len(keys))
	}
	for i, v := range vals {
		want := v * float64(repeat+1)
		if math.Abs(out2[i]-want) > 1e-9 {
			t.Errorf("push_pull key %d: got %v want %v", keys[i], out2[i], want)
		}
	}
}

// TestPushAllSkippedRunsCallbackImmediately exercises the Send-time
// early return when every shard is empty -- no message should cross
// the router at all.
func TestPushAllSkippedRunsCallbackImmediately(t *testing.T) {
	po := postoffice.Get()
	// Reuses the process-wide singleton initialized by the previous
	// test (NumServers() == 2); run alone there are no server ranges, and
	// the push is skipped just the same.
	r := newRouter()
	worker := kv.NewWorker[float64](1, 0, &nodeVan{id: message.WorkerRankToID(0), r: r}, po)
	r.register(message.WorkerRankToID(0), worker.Customer().OnReceive)

	done := make(chan struct{}, 1)
	ts := worker.Push(nil, nil, 0, func() { done <- struct{}{} })
	select {
	case <-done:
	default:
		t.Fatal("expected callback to run synchronously for an empty push")
	}
	worker.Wait(ts)
}
