package generation

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestService_ProcessesInFIFOOrderSkippingRemoved(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.gate = make(chan struct{})
	h.backend.started = make(chan string, 8)

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		if err := h.svc.Enqueue(sdRequest(id, "a cat", 1)); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	if got := <-h.backend.started; got != "r1" {
		t.Fatalf("first started = %q, want r1", got)
	}
	h.svc.RemoveQueued("r3")
	h.svc.RemoveQueued("missing")
	close(h.backend.gate)
	h.notifier.wait(t)

	want := []string{"r1", "r2", "r4"}
	if got := h.backend.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("processed = %v, want %v", got, want)
	}
	if n := h.notifier.calls.Load(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	if n := h.notifier.nonEmpty.Load(); n != 0 {
		t.Errorf("notifications while queue non-empty = %d, want 0", n)
	}
}

func TestService_RemoveQueuedCurrentIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.gate = make(chan struct{})
	h.backend.started = make(chan string, 1)

	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 2)); err != nil {
		t.Fatal(err)
	}
	<-h.backend.started
	h.svc.RemoveQueued("r1")

	snap := h.svc.Snapshot()
	if snap.Current == nil || snap.Current.ID != "r1" {
		t.Fatalf("current = %+v, want r1", snap.Current)
	}
	close(h.backend.gate)
	h.notifier.wait(t)

	if got := len(h.store.Stems()); got != 2 {
		t.Errorf("saved images = %d, want 2", got)
	}
}

func TestService_StopDuringMultiImageRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.afterResult = func(_ Request, i int) {
		if i == 1 {
			h.svc.StopCurrentGeneration()
			h.svc.StopCurrentGeneration()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := h.svc.Results(ctx)

	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 5)); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)

	var got int
	timeout := time.After(2 * time.Second)
	for got < 2 {
		select {
		case <-results:
			got++
		case <-timeout:
			t.Fatalf("received %d results, want 2", got)
		}
	}
	select {
	case r := <-results:
		t.Fatalf("unexpected result after stop: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if status := h.svc.State().Status(); status.Kind != StatusReady {
		t.Errorf("status = %v, want ready", status)
	}
	// Stopping with nothing running is harmless.
	h.svc.StopCurrentGeneration()
}

func TestService_StopWhilePreparingOutputDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.store.onEnsure = h.svc.StopCurrentGeneration

	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 3)); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)

	if got := len(h.store.Stems()); got != 0 {
		t.Errorf("saved images = %d, want 0", got)
	}
	if got := h.backend.Calls(); len(got) != 0 {
		t.Errorf("backend calls = %v, want none", got)
	}
	if status := h.svc.State().Status(); status.Kind != StatusReady {
		t.Errorf("status = %v, want ready", status)
	}

	// The stop does not carry over to the next request.
	h.store.onEnsure = nil
	if err := h.svc.Enqueue(sdRequest("r2", "a dog", 2)); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)
	if got := len(h.store.Stems()); got != 2 {
		t.Errorf("saved images after stop = %d, want 2", got)
	}
}

func TestService_StartingImageNeedsEncoder(t *testing.T) {
	h := newHarness(t, nil)
	req := sdRequest("r1", "a cat", 1)
	model := *req.Pipeline.SD
	model.Model.EncoderMissing = true
	req.Pipeline.SD = &model
	req.StartingImage = []byte("png")

	if err := h.svc.Enqueue(req); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)

	outcomes := h.observer.Outcomes()
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, ErrStartingImageWithoutEncoder) {
		t.Fatalf("outcomes = %+v, want ErrStartingImageWithoutEncoder", outcomes)
	}
	want := Ready("The selected model does not support setting a starting image.")
	if status := h.svc.State().Status(); status != want {
		t.Errorf("status = %v, want %v", status, want)
	}
	if got := h.backend.Calls(); len(got) != 0 {
		t.Errorf("backend calls = %v, want none", got)
	}
}

func TestService_FilenamesAndResultPaths(t *testing.T) {
	h := newHarness(t, nil)
	h.gallery.count = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := h.svc.Results(ctx)

	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 2)); err != nil {
		t.Fatal(err)
	}
	empty := sdRequest("r2", "", 1)
	empty.Seed = 7
	if err := h.svc.Enqueue(empty); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)

	wantStems := []string{"a cat.4.42", "a cat.5.43", "6.7"}
	if got := h.store.Stems(); !reflect.DeepEqual(got, wantStems) {
		t.Errorf("stems = %v, want %v", got, wantStems)
	}

	for i, stem := range wantStems {
		select {
		case r := <-results:
			if want := "/images/" + stem + ".png"; r.ImagePath != want {
				t.Errorf("result %d path = %q, want %q", i, r.ImagePath, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing result %d", i)
		}
	}
	if h.gallery.Preview() != nil {
		t.Error("preview should be cleared after the request")
	}
}

func TestService_ErrorsMapToStatusAndQueueContinues(t *testing.T) {
	tests := []struct {
		name      string
		models    ModelChecker
		setup     func(h *testHarness)
		wantKind  StatusKind
		wantMsg   string
		wantCalls int
		wantStems int
	}{
		{
			name:      "missing model",
			models:    fakeModels{missing: map[string]bool{"sd-v1-5": true}},
			wantKind:  StatusReady,
			wantMsg:   "Couldn't load sd-v1-5 because it doesn't exist.",
			wantCalls: 0,
		},
		{
			name:      "directory not accessible",
			setup:     func(h *testHarness) { h.store.dirErrFrom = 1 },
			wantKind:  StatusError,
			wantMsg:   "Couldn't access images folder at: /images",
			wantCalls: 0,
		},
		{
			name:      "pipeline not available",
			setup:     func(h *testHarness) { h.backend.err = ErrPipelineNotAvailable },
			wantKind:  StatusReady,
			wantMsg:   "There was a problem loading pipeline.",
			wantCalls: 1,
		},
		{
			name:      "engine failure",
			setup:     func(h *testHarness) { h.backend.err = errors.New("boom") },
			wantKind:  StatusError,
			wantMsg:   "There was a problem generating images: boom",
			wantCalls: 1,
		},
		{
			name: "single write failure is skipped",
			setup: func(h *testHarness) {
				h.store.failWrite = func(n int) bool { return n == 1 }
			},
			wantKind:  StatusError,
			wantMsg:   "Couldn't save 1 image to the images folder.",
			wantCalls: 1,
			wantStems: 2,
		},
		{
			name: "directory lost mid-request aborts",
			setup: func(h *testHarness) {
				h.store.failWrite = func(n int) bool { return n >= 1 }
				h.store.dirErrFrom = 2
			},
			wantKind:  StatusError,
			wantMsg:   "Couldn't save image to the images folder.",
			wantCalls: 1,
			wantStems: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.models)
			if tt.setup != nil {
				tt.setup(h)
			}

			if err := h.svc.Enqueue(sdRequest("r1", "a cat", 3)); err != nil {
				t.Fatal(err)
			}
			h.notifier.wait(t)

			status := h.svc.State().Status()
			if status.Kind != tt.wantKind || status.Message != tt.wantMsg {
				t.Errorf("status = %v, want %v(%s)", status, tt.wantKind, tt.wantMsg)
			}
			if got := len(h.backend.Calls()); got != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", got, tt.wantCalls)
			}
			if got := len(h.store.Stems()); got != tt.wantStems && tt.wantStems > 0 {
				t.Errorf("saved = %d, want %d", got, tt.wantStems)
			}

			// The service stays usable after any per-request failure.
			h.backend.err = nil
			h.store.failWrite = nil
			h.store.dirErrFrom = 0
			if err := h.svc.Enqueue(Request{
				ID:             "flux",
				Pipeline:       NewFluxPipeline("/models/flux"),
				Prompt:         "next",
				NumberOfImages: 1,
				ImageDir:       "/images",
				ImageType:      ImageTypePNG,
			}); err != nil {
				t.Fatal(err)
			}
			h.notifier.wait(t)
			if calls := h.flux.Calls(); len(calls) != 1 {
				t.Errorf("flux calls = %v, want one", calls)
			}
		})
	}
}

func TestService_UpdatesDeliverInitialAndOrderedSnapshots(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.gate = make(chan struct{})
	h.backend.started = make(chan string, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.svc.Enqueue(sdRequest("r1", "one", 1)); err != nil {
		t.Fatal(err)
	}
	<-h.backend.started

	first := h.svc.Updates(ctx)
	second := h.svc.Updates(ctx)

	for _, ch := range []<-chan Snapshot{first, second} {
		snap := <-ch
		if snap.Current == nil || snap.Current.ID != "r1" || len(snap.Queue) != 0 {
			t.Fatalf("initial snapshot = %+v, want current r1 and empty queue", snap)
		}
	}

	if err := h.svc.Enqueue(sdRequest("r2", "two", 1)); err != nil {
		t.Fatal(err)
	}
	h.svc.RemoveQueued("r2")
	close(h.backend.gate)
	h.notifier.wait(t)

	wantQueues := [][]string{{"r2"}, {}, {}}
	wantCurrent := []string{"r1", "r1", ""}
	for _, ch := range []<-chan Snapshot{first, second} {
		for i := range wantQueues {
			var snap Snapshot
			select {
			case snap = <-ch:
			case <-time.After(2 * time.Second):
				t.Fatalf("snapshot %d not delivered", i)
			}
			ids := make([]string, 0, len(snap.Queue))
			for _, r := range snap.Queue {
				ids = append(ids, r.ID)
			}
			if !reflect.DeepEqual(ids, wantQueues[i]) {
				t.Errorf("snapshot %d queue = %v, want %v", i, ids, wantQueues[i])
			}
			cur := ""
			if snap.Current != nil {
				cur = snap.Current.ID
			}
			if cur != wantCurrent[i] {
				t.Errorf("snapshot %d current = %q, want %q", i, cur, wantCurrent[i])
			}
		}
	}
}

func TestService_DefersWhileStateBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.State().SetStatus(Loading())

	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 1)); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.svc.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.svc.Running() {
		t.Fatal("worker should exit while state is busy")
	}
	if got := len(h.svc.Snapshot().Queue); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}

	h.svc.State().SetStatus(Ready(""))
	if err := h.svc.Enqueue(sdRequest("r2", "a dog", 1)); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)
	if got := h.backend.Calls(); !reflect.DeepEqual(got, []string{"r1", "r2"}) {
		t.Errorf("processed = %v, want [r1 r2]", got)
	}
}

func TestService_ObserversSeeOutcomes(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 2)); err != nil {
		t.Fatal(err)
	}
	h.notifier.wait(t)

	outcomes := h.observer.Outcomes()
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if outcomes[0].Saved != 2 || outcomes[0].Err != nil {
		t.Errorf("outcome = %+v, want 2 saved without error", outcomes[0])
	}
}

func TestService_EnqueueAfterShutdown(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := h.svc.Enqueue(sdRequest("r1", "a cat", 1)); !errors.Is(err, ErrServiceClosed) {
		t.Errorf("Enqueue() error = %v, want ErrServiceClosed", err)
	}
}
