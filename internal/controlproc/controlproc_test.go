package controlproc

import (
	"errors"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	cases := map[string]Command{"q": CommandQuit, "quit": CommandQuit, "c": CommandCheck, "check": CommandCheck}
	for input, want := range cases {
		got, ok := ParseCommand(input)
		if !ok || got != want {
			t.Fatalf("ParseCommand(%q) = (%v, %v), want (%v, true)", input, got, ok, want)
		}
	}
	if _, ok := ParseCommand("nonsense"); ok {
		t.Fatal("expected ParseCommand to reject unknown input")
	}
}

func TestSingleThreadProcessRunsUntilDone(t *testing.T) {
	count := 0
	stopped := false
	proc := NewSingleThreadProcess(func() (bool, error) {
		count++
		return count >= 3, nil
	}, Hooks{OnStop: func() { stopped = true }}, 0)

	if err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 iterations, got %d", count)
	}
	if !stopped {
		t.Fatal("expected OnStop to have run")
	}
	if proc.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", proc.State())
	}
}

func TestSingleThreadProcessQuitCommand(t *testing.T) {
	proc := NewSingleThreadProcess(func() (bool, error) {
		time.Sleep(time.Millisecond)
		return false, nil
	}, Hooks{}, 0)

	go func() {
		time.Sleep(5 * time.Millisecond)
		proc.Send(CommandQuit)
	}()

	if err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proc.State() != Stopped {
		t.Fatalf("expected Stopped after quit, got %s", proc.State())
	}
}

func TestSingleThreadProcessPropagatesIterationError(t *testing.T) {
	wantErr := errors.New("boom")
	proc := NewSingleThreadProcess(func() (bool, error) {
		return false, wantErr
	}, Hooks{}, 0)

	if err := proc.Run(); !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
}

func TestMultiThreadProcessRunsWorkersToCompletion(t *testing.T) {
	const n = 4
	done := make([]bool, n)
	proc := NewMultiThreadProcess(func(idx int, stop <-chan struct{}) error {
		done[idx] = true
		return nil
	}, n, Hooks{}, 0)

	if err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, d := range done {
		if !d {
			t.Fatalf("worker %d never ran", i)
		}
	}
}

func TestMultiThreadProcessQuitStopsAllWorkers(t *testing.T) {
	const n = 3
	proc := NewMultiThreadProcess(func(idx int, stop <-chan struct{}) error {
		<-stop
		return nil
	}, n, Hooks{}, 0)

	go func() {
		time.Sleep(5 * time.Millisecond)
		proc.Send(CommandQuit)
	}()

	if err := proc.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proc.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", proc.State())
	}
}

func TestAliveIsOneWay(t *testing.T) {
	proc := NewSingleThreadProcess(func() (bool, error) { return true, nil }, Hooks{}, 0)
	if !proc.Alive() {
		t.Fatal("expected process to be alive before Run")
	}
	proc.Run()
	if proc.Alive() {
		t.Fatal("expected process to no longer be alive after Run completes")
	}
}
