package action

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/engineerrors"
)

// ProcessSpec is the declarative shape a local action's payload
// decodes into: how to resolve and launch an OS process against a
// materialized input tree, per §4.8.
type ProcessSpec struct {
	Executable        string            `json:"executable"`
	Args              []string          `json:"args"`
	Env               map[string]string `json:"env"`
	WorkingDir        string            `json:"working_dir"`
	Stdin             string            `json:"stdin,omitempty"`
	Stdout            string            `json:"stdout,omitempty"`
	Stderr            string            `json:"stderr,omitempty"`
	InitialOutputTree cas.DataID        `json:"initial_output_tree,omitempty"`
}

// TeardownStep is one signal and its grace interval in a teardown
// sequence: the executor sends the signal, waits up to Grace for the
// process to exit, then moves to the next step.
type TeardownStep struct {
	Signal syscall.Signal
	Grace  time.Duration
}

// DefaultTeardownSequence is the escalating signal sequence from §5:
// SIGQUIT, SIGTERM, SIGINT, then an unconditional SIGKILL.
var DefaultTeardownSequence = []TeardownStep{
	{Signal: syscall.SIGQUIT, Grace: 2 * time.Second},
	{Signal: syscall.SIGTERM, Grace: 2 * time.Second},
	{Signal: syscall.SIGINT, Grace: 1 * time.Second},
}

// LocalExecutor spawns actions as OS processes in-process, materializing
// the action's input refs into a temp directory and importing whatever
// the process produced back into the CAS on exit.
type LocalExecutor struct {
	Store        cas.Store
	Cancellation *TaskCancellationRegistry
	Teardown     []TeardownStep
	// Diagnostics, when set, is invoked with the live PID immediately
	// before the teardown sequence begins, e.g. to capture a stack dump.
	Diagnostics func(pid int)
	Logger      *logrus.Entry
}

// NewLocalExecutor returns a LocalExecutor with the default teardown
// sequence and a discarding logger.
func NewLocalExecutor(store cas.Store) *LocalExecutor {
	return &LocalExecutor{
		Store:        store,
		Cancellation: NewTaskCancellationRegistry(),
		Teardown:     DefaultTeardownSequence,
		Logger:       logrus.NewEntry(logrus.New()),
	}
}

func (e *LocalExecutor) Name() string { return "local-process" }

// Satisfies reports whether env advertises "kind": "local-process",
// the convention act.Requirements checks against to pick this executor.
func (e *LocalExecutor) Satisfies(env Environment) bool {
	kind, _ := env["kind"].(string)
	return kind == "local-process"
}

// Perform materializes act.Refs as input trees, runs the decoded
// ProcessSpec to completion (or until ctx's deadline tears it down),
// and imports the working directory's resulting contents into CAS.
func (e *LocalExecutor) Perform(ctx context.Context, act Action) (Result, error) {
	var spec ProcessSpec
	if err := json.Unmarshal(act.Payload, &spec); err != nil {
		return Result{}, fmt.Errorf("decoding process spec for action %q: %w", act.Name, err)
	}

	workDir, err := os.MkdirTemp("", "forgecache-action-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	for _, ref := range act.Refs {
		if err := materializeTree(ctx, e.Store, ref, workDir); err != nil {
			return Result{}, fmt.Errorf("materializing input ref %s: %w", ref, err)
		}
	}
	if spec.InitialOutputTree != "" {
		if err := materializeTree(ctx, e.Store, spec.InitialOutputTree, workDir); err != nil {
			return Result{}, fmt.Errorf("materializing initial output tree: %w", err)
		}
	}

	executable := spec.Executable
	if _, lookErr := exec.LookPath(executable); lookErr != nil {
		if _, statErr := os.Stat(executable); statErr != nil {
			return Result{}, &engineerrors.NoExecutable{Name: executable}
		}
	}

	cmd := exec.Command(executable, spec.Args...)
	cmd.Dir = workDir
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if spec.Stdin != "" {
		if f, err := os.Open(spec.Stdin); err == nil {
			defer f.Close()
			cmd.Stdin = f
		}
	}
	if spec.Stdout != "" {
		if f, err := os.Create(spec.Stdout); err == nil {
			defer f.Close()
			cmd.Stdout = f
		}
	}
	if spec.Stderr != "" {
		if f, err := os.Create(spec.Stderr); err == nil {
			defer f.Close()
			cmd.Stderr = f
		}
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting action %q: %w", act.Name, err)
	}

	processDone := make(chan struct{})

	// All teardown triggers (explicit cancellation, the armed deadline,
	// and parent context cancellation) funnel through one Once so the
	// signal escalation never runs twice against the same process.
	var tearOnce sync.Once
	kill := func() { tearOnce.Do(func() { e.teardown(cmd, processDone) }) }

	cancelID := e.Cancellation.Register(kill)
	defer e.Cancellation.Deregister(cancelID)

	_, stopDeadline := e.armDeadline(ctx, kill)
	defer stopDeadline()

	go func() {
		select {
		case <-ctx.Done():
			kill()
		case <-processDone:
		}
	}()

	runErr := cmd.Wait()
	close(processDone)

	treeID, importErr := importTree(ctx, e.Store, workDir)
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		if importErr != nil {
			return Result{}, &engineerrors.RecoveryUploadFailure{UploadErr: importErr, OriginalErr: runErr}
		}
		return Result{TreeID: treeID, ExitCode: exitCode}, &engineerrors.Failure{TreeID: string(treeID), Underlying: runErr}
	}
	if importErr != nil {
		return Result{}, importErr
	}
	return Result{TreeID: treeID, ExitCode: exitCode}, nil
}

// armDeadline schedules kill to fire when ctx's deadline elapses. It
// returns immediately if ctx carries no deadline.
func (e *LocalExecutor) armDeadline(ctx context.Context, kill func()) (*time.Timer, func()) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil, func() {}
	}
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.AfterFunc(wait, kill)
	return timer, func() { timer.Stop() }
}

// teardown runs the configured signal escalation against cmd's
// process, gathering diagnostics first, and unconditionally finishes
// with SIGKILL. It watches processDone (closed once the owning Wait
// call in Perform returns) rather than calling Wait itself, since only
// one goroutine may ever wait on a given *exec.Cmd.
func (e *LocalExecutor) teardown(cmd *exec.Cmd, processDone <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid

	if e.Diagnostics != nil {
		e.Diagnostics(pid)
	}

	for _, step := range e.Teardown {
		if err := cmd.Process.Signal(step.Signal); err != nil {
			e.Logger.WithError(err).WithField("pid", pid).Debug("teardown signal failed, process likely already gone")
			return
		}
		select {
		case <-processDone:
			return
		case <-time.After(step.Grace):
		}
	}
	_ = cmd.Process.Kill()
}
