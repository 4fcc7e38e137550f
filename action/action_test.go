package action

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/engineerrors"
)

func TestRequirementsEval(t *testing.T) {
	env := Environment{"os": "linux", "arch": "amd64"}

	req := And{
		Equality{Left: Path("os"), Right: Const("linux")},
		Not{Inner: Equality{Left: Path("arch"), Right: Const("arm64")}},
	}
	if !req.Eval(env) {
		t.Fatal("expected requirements to hold for linux/amd64")
	}

	if (Equality{Left: Path("os"), Right: Const("darwin")}).Eval(env) {
		t.Fatal("expected os mismatch to fail")
	}

	if !(Or{Constant(false), Constant(true)}).Eval(env) {
		t.Fatal("expected Or with one true operand to hold")
	}
}

type stubExecutor struct {
	name    string
	kind    string
	calls   int
	result  Result
	err     error
}

func (s *stubExecutor) Name() string { return s.name }
func (s *stubExecutor) Satisfies(env Environment) bool {
	k, _ := env["kind"].(string)
	return k == s.kind
}
func (s *stubExecutor) Perform(context.Context, Action) (Result, error) {
	s.calls++
	return s.result, s.err
}

func TestRegistryDispatchesToSatisfyingExecutor(t *testing.T) {
	r := NewRegistry()
	remote := &stubExecutor{name: "remote", kind: "remote", result: Result{ExitCode: 0}}
	local := &stubExecutor{name: "local", kind: "local-process", result: Result{ExitCode: 0, TreeID: "tree-1"}}
	r.Register(remote, Environment{"kind": "remote"})
	r.Register(local, Environment{"kind": "local-process"})

	act := Action{
		Name:         "build",
		Requirements: Equality{Left: Path("kind"), Right: Const("local-process")},
	}
	res, err := r.Perform(context.Background(), act)
	if err != nil {
		t.Fatal(err)
	}
	if res.TreeID != "tree-1" {
		t.Fatalf("expected dispatch to local executor, got tree %q", res.TreeID)
	}
	if remote.calls != 0 || local.calls != 1 {
		t.Fatalf("expected exactly the local executor invoked once, got remote=%d local=%d", remote.calls, local.calls)
	}
}

func TestRegistryNoSatisfyingExecutor(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExecutor{name: "remote", kind: "remote"}, Environment{"kind": "remote"})

	_, err := r.Perform(context.Background(), Action{
		Name:         "build",
		Requirements: Equality{Left: Path("kind"), Right: Const("gpu")},
	})
	var target *engineerrors.ExecutorCannotSatisfyRequirements
	if err == nil {
		t.Fatal("expected error")
	}
	if e, ok := err.(*engineerrors.ExecutorCannotSatisfyRequirements); ok {
		target = e
	}
	if target == nil {
		t.Fatalf("expected ExecutorCannotSatisfyRequirements, got %T: %v", err, err)
	}
}

func TestLocalExecutorRunsProcessAndImportsOutput(t *testing.T) {
	store := cas.NewMemoryStore()
	exe := NewLocalExecutor(store)

	spec := ProcessSpec{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo hi > out.txt"},
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := exe.Perform(ctx, Action{Name: "write-file", Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	if res.TreeID == "" {
		t.Fatal("expected a non-empty output tree id")
	}
}

func TestLocalExecutorCancellationKillsProcess(t *testing.T) {
	store := cas.NewMemoryStore()
	exe := NewLocalExecutor(store)
	// Skip straight to the aggressive end of the escalation so the test
	// does not sit through multi-second grace intervals.
	exe.Teardown = []TeardownStep{{Signal: syscall.SIGTERM, Grace: 100 * time.Millisecond}}

	spec := ProcessSpec{Executable: "/bin/sh", Args: []string{"-c", "sleep 30"}}
	payload, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = exe.Perform(ctx, Action{Name: "sleep", Payload: payload})
	if err == nil {
		t.Fatal("expected the torn-down process to report failure")
	}
	var failure *engineerrors.Failure
	if !errors.As(err, &failure) {
		t.Fatalf("expected Failure with preserved output tree, got %T: %v", err, err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("teardown took %v, expected well under the sleep duration", elapsed)
	}
}

func TestTaskCancellationRegistryCancelAll(t *testing.T) {
	r := NewTaskCancellationRegistry()

	var fired int32
	r.Register(func() { atomic.AddInt32(&fired, 1) })
	r.Register(func() { atomic.AddInt32(&fired, 1) })

	r.CancelAll()
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Fatalf("expected both callbacks fired, got %d", got)
	}

	// Registry is drained; a second CancelAll is a no-op.
	r.CancelAll()
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Fatalf("expected no further callbacks, got %d", got)
	}
}

func TestLocalExecutorReportsNoExecutable(t *testing.T) {
	store := cas.NewMemoryStore()
	exe := NewLocalExecutor(store)

	spec := ProcessSpec{Executable: "forgecache-definitely-not-a-real-binary"}
	payload, _ := json.Marshal(spec)

	_, err := exe.Perform(context.Background(), Action{Name: "missing", Payload: payload})
	if _, ok := err.(*engineerrors.NoExecutable); !ok {
		t.Fatalf("expected NoExecutable, got %T: %v", err, err)
	}
}
