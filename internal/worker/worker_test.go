package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/forge/internal/proto"
	"github.com/seantiz/forge/internal/worker"
)

// echoServe answers every envelope with the same type and id.
func echoServe(_ context.Context, in <-chan proto.Envelope, out chan<- proto.Envelope) {
	for env := range in {
		out <- env
	}
}

// testHandshake is the descriptor used by worker-level tests.
var testHandshake = proto.Handshake{
	Ready:        "ready",
	InitRequest:  "init",
	InitResponse: "init_ok",
	Error:        "error",
}

// handshakeServe announces readiness and answers the init round-trip, then
// echoes everything else.
func handshakeServe(_ context.Context, in <-chan proto.Envelope, out chan<- proto.Envelope) {
	out <- proto.Envelope{Type: testHandshake.Ready}
	for env := range in {
		if env.Type == testHandshake.InitRequest {
			out <- proto.Envelope{Type: testHandshake.InitResponse, ID: env.ID}
			continue
		}
		out <- env
	}
}

func TestAwaitValue(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 42
	v, err := worker.Await(context.Background(), ch, time.Second, "test")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}
}

func TestAwaitTimeout(t *testing.T) {
	ch := make(chan int)
	start := time.Now()
	_, err := worker.Await(context.Background(), ch, 20*time.Millisecond, "probe")
	if !errors.Is(err, worker.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Await took %v, expected prompt timeout", elapsed)
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := worker.Await(ctx, make(chan int), time.Second, "test")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestInProcEcho(t *testing.T) {
	w := worker.NewInProc(echoServe)
	t.Cleanup(w.Terminate)

	if err := w.Send(proto.Envelope{Type: "job", ID: "j1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	env, err := worker.Await(context.Background(), w.Messages(), time.Second, "echo")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if env.ID != "j1" {
		t.Errorf("echoed id = %q, want j1", env.ID)
	}
}

func TestInProcTerminateIdempotent(t *testing.T) {
	w := worker.NewInProc(echoServe)
	w.Terminate()
	w.Terminate()

	if err := w.Send(proto.Envelope{Type: "job", ID: "j1"}); !errors.Is(err, worker.ErrTerminated) {
		t.Errorf("Send after Terminate = %v, want ErrTerminated", err)
	}

	// Output channel closes once serve observes the closed inbox.
	select {
	case _, ok := <-w.Messages():
		if ok {
			t.Error("unexpected message after terminate")
		}
	case <-time.After(time.Second):
		t.Error("message channel did not close after terminate")
	}
}

func TestMuxFanOutAndDetach(t *testing.T) {
	w := worker.NewInProc(echoServe)
	t.Cleanup(w.Terminate)
	m := worker.NewMux(w)
	t.Cleanup(m.Stop)

	var first, second atomic.Int32
	seen := make(chan struct{}, 2)
	h1 := &worker.Handler{OnMessage: func(proto.Envelope) { first.Add(1); seen <- struct{}{} }}
	h2 := &worker.Handler{OnMessage: func(proto.Envelope) { second.Add(1); seen <- struct{}{} }}

	m.Attach(h1)
	m.Attach(h1) // idempotent
	m.Attach(h2)

	if err := w.Send(proto.Envelope{Type: "job", ID: "a"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for range 2 {
		select {
		case <-seen:
		case <-time.After(time.Second):
			t.Fatal("handler did not receive message")
		}
	}
	if first.Load() != 1 || second.Load() != 1 {
		t.Errorf("counts = %d,%d, want 1,1", first.Load(), second.Load())
	}

	m.Detach(h2)
	m.Detach(h2) // safe even when already detached
	m.Detach(&worker.Handler{}) // and when never attached

	if err := w.Send(proto.Envelope{Type: "job", ID: "b"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("remaining handler did not receive message")
	}
	if first.Load() != 2 {
		t.Errorf("first handler count = %d, want 2", first.Load())
	}
	if second.Load() != 1 {
		t.Errorf("detached handler count = %d, want 1", second.Load())
	}
}

func TestMuxInitialHandlerSeesFirstMessage(t *testing.T) {
	w := worker.NewInProc(func(_ context.Context, in <-chan proto.Envelope, out chan<- proto.Envelope) {
		out <- proto.Envelope{Type: "hello"}
		for range in {
		}
	})
	t.Cleanup(w.Terminate)

	got := make(chan proto.Envelope, 1)
	h := &worker.Handler{OnMessage: func(env proto.Envelope) { got <- env }}
	m := worker.NewMux(w, h)
	t.Cleanup(m.Stop)

	env, err := worker.Await(context.Background(), got, time.Second, "first message")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if env.Type != "hello" {
		t.Errorf("type = %q, want hello", env.Type)
	}
}

func TestPerformHandshake(t *testing.T) {
	w := worker.NewInProc(handshakeServe)
	t.Cleanup(w.Terminate)

	m, err := worker.PerformHandshake(context.Background(), w, testHandshake, json.RawMessage(`{}`), time.Second)
	if err != nil {
		t.Fatalf("PerformHandshake: %v", err)
	}
	t.Cleanup(m.Stop)
}

func TestPerformHandshakeAfterEarlyReady(t *testing.T) {
	// The ready-signal lands in the worker's outbox well before the
	// handshake begins. It must still be observed, not dropped by a pump
	// running with no handler attached.
	w := worker.NewInProc(handshakeServe)
	t.Cleanup(w.Terminate)
	time.Sleep(50 * time.Millisecond)

	m, err := worker.PerformHandshake(context.Background(), w, testHandshake, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("PerformHandshake: %v", err)
	}
	t.Cleanup(m.Stop)
}

func TestPerformHandshakeTimeout(t *testing.T) {
	// A worker that never announces readiness.
	w := worker.NewInProc(func(ctx context.Context, in <-chan proto.Envelope, _ chan<- proto.Envelope) {
		for range in {
		}
	})
	t.Cleanup(w.Terminate)

	_, err := worker.PerformHandshake(context.Background(), w, testHandshake, nil, 30*time.Millisecond)
	if !errors.Is(err, worker.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestPerformHandshakeWorkerError(t *testing.T) {
	w := worker.NewInProc(func(_ context.Context, in <-chan proto.Envelope, out chan<- proto.Envelope) {
		out <- proto.Envelope{Type: testHandshake.Error, Payload: json.RawMessage(`{"message":"bad init"}`)}
		for range in {
		}
	})
	t.Cleanup(w.Terminate)

	if _, err := worker.PerformHandshake(context.Background(), w, testHandshake, nil, time.Second); err == nil {
		t.Fatal("PerformHandshake succeeded despite worker error")
	}
}
