// Package worker implements the per-session instrumentation worker: a
// single goroutine that owns all native/agent state for one debuggee so
// that every command touching it is trivially serialized, and a process
// can never be stepped by one request while another concurrently
// resumes it.
package worker

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/strobehq/strobe/internal/agent"
	"github.com/strobehq/strobe/internal/strobeerr"
	"github.com/strobehq/strobe/internal/telemetry"
	"github.com/strobehq/strobe/internal/types"
)

// memoryReplyTimeout bounds how long ReadWriteMemory waits for the
// agent's memory_result before failing the request; the agent processes
// memory targets synchronously on its own hooked thread so an
// unresponsive reply means the target thread is stuck, not merely slow.
const memoryReplyTimeout = 5 * time.Second

// StepMode selects continuation semantics for Resume (§4.5).
type StepMode int

const (
	Continue StepMode = iota
	StepOver
	StepInto
	StepOut
)

type command struct {
	kind  string
	reply chan error

	// Spawn
	binaryPath string
	args       []string
	pidOut     *int

	// InstallHooks
	functions []string

	// SetBreakpoint
	breakpoint *types.Breakpoint

	// ResumeThread
	threadID int64
	mode     StepMode
	oneShot  bool

	// ReadWriteMemory
	memTargets []types.MemoryTarget
	memOut     *[]types.MemoryResult
}

// Worker drives one debuggee: a spawned process plus its attached
// agent connection. All state is only ever touched from run's
// goroutine.
type Worker struct {
	cmds chan command

	pid     int
	proc    *exec.Cmd
	conn    *agent.Conn
	onEvent func([]*types.Event)
	onPause func(*agent.Envelope)

	memResultCh chan []types.MemoryResult

	doneCh chan struct{}
}

// New starts a Worker's goroutine. onEvent and onPause are invoked from
// the worker's own goroutine as agent frames arrive; callers must not
// block in them.
func New(onEvent func([]*types.Event), onPause func(*agent.Envelope)) *Worker {
	w := &Worker{
		cmds:        make(chan command, 16),
		onEvent:     onEvent,
		onPause:     onPause,
		memResultCh: make(chan []types.MemoryResult, 1),
		doneCh:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.doneCh)
	for cmd := range w.cmds {
		switch cmd.kind {
		case "spawn":
			cmd.reply <- w.doSpawn(cmd.binaryPath, cmd.args, cmd.pidOut)
		case "installHooks":
			cmd.reply <- w.doInstallHooks(cmd.functions)
		case "setBreakpoint":
			cmd.reply <- w.doSetBreakpoint(cmd.breakpoint)
		case "resume":
			cmd.reply <- w.doResume(cmd.threadID, cmd.mode, cmd.oneShot)
		case "memory":
			cmd.reply <- w.doReadWriteMemory(cmd.memTargets, cmd.memOut)
		case "stop":
			cmd.reply <- w.doStop()
			return
		}
	}
}

func (w *Worker) submit(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case w.cmds <- cmd:
	case <-w.doneCh:
		return fmt.Errorf("worker already stopped")
	}
	return <-cmd.reply
}

// Spawn launches binaryPath and records its pid. The agent is expected
// to attach and send MsgAgentLoaded/MsgInitialized on its own
// connection, handed to the worker via AttachAgent once accepted.
func (w *Worker) Spawn(ctx context.Context, binaryPath string, args []string) (int, error) {
	var pid int
	err := w.submit(command{kind: "spawn", binaryPath: binaryPath, args: args, pidOut: &pid})
	return pid, err
}

func (w *Worker) doSpawn(binaryPath string, args []string, pidOut *int) error {
	cmd := exec.Command(binaryPath, args...)
	if err := cmd.Start(); err != nil {
		return strobeerr.Wrap(strobeerr.AttachFailed, err, "spawn %s", binaryPath)
	}
	w.proc = cmd
	w.pid = cmd.Process.Pid
	*pidOut = w.pid
	return nil
}

// AttachAgent hands the worker the now-connected agent socket, and
// starts the goroutine pumping its incoming frames into onEvent/onPause.
func (w *Worker) AttachAgent(conn *agent.Conn) {
	w.conn = conn
	go w.pumpAgent()
}

func (w *Worker) pumpAgent() {
	for {
		env, err := w.conn.Receive()
		if err != nil {
			return
		}
		switch env.Type {
		case agent.MsgEvents:
			if w.onEvent != nil {
				w.onEvent(env.Events)
			}
		case agent.MsgPaused:
			if w.onPause != nil {
				w.onPause(env)
			}
		case agent.MsgMemoryResult:
			select {
			case w.memResultCh <- env.MemoryResults:
			default:
				// No ReadWriteMemory call is currently waiting (it already
				// timed out); drop rather than block the agent pump.
			}
		}
	}
}

// InstallHooks asks the agent to hook the given fully resolved function
// set, replacing whatever was previously hooked.
func (w *Worker) InstallHooks(functions []string) error {
	return w.submit(command{kind: "installHooks", functions: functions})
}

func (w *Worker) doInstallHooks(functions []string) error {
	if w.conn == nil {
		return strobeerr.New(strobeerr.ProcessExited, "no agent attached")
	}
	return w.conn.Send(&agent.Envelope{Type: agent.MsgHooks, Functions: functions})
}

// SetBreakpoint installs a single breakpoint or logpoint.
func (w *Worker) SetBreakpoint(bp *types.Breakpoint) error {
	return w.submit(command{kind: "setBreakpoint", breakpoint: bp})
}

func (w *Worker) doSetBreakpoint(bp *types.Breakpoint) error {
	if w.conn == nil {
		return strobeerr.New(strobeerr.ProcessExited, "no agent attached")
	}
	return w.conn.Send(&agent.Envelope{Type: agent.MsgSetBreakpoint, Breakpoint: bp})
}

// Resume continues a paused thread under the given stepping mode.
func (w *Worker) Resume(threadID int64, mode StepMode, oneShot bool) error {
	return w.submit(command{kind: "resume", threadID: threadID, mode: mode, oneShot: oneShot})
}

func (w *Worker) doResume(threadID int64, mode StepMode, oneShot bool) error {
	if w.conn == nil {
		return strobeerr.New(strobeerr.ProcessExited, "no agent attached")
	}
	// mode is ignored: no stepping target (next-statement address,
	// callee entry, return address) is resolved here or by any caller,
	// so every mode sends the same resume message, carrying only the
	// thread id and the one-shot flag.
	_ = mode
	return w.conn.Send(&agent.Envelope{Type: agent.MsgResume, ThreadID: threadID, OneShot: oneShot})
}

// ReadWriteMemory reads (and, for targets with Write set, writes) the
// given globals. Targets are processed by the agent as one batch; a
// per-target failure is carried in that target's MemoryResult.Error
// rather than failing the whole call, per the propagation policy for
// per-element operations.
func (w *Worker) ReadWriteMemory(targets []types.MemoryTarget) ([]types.MemoryResult, error) {
	var out []types.MemoryResult
	err := w.submit(command{kind: "memory", memTargets: targets, memOut: &out})
	return out, err
}

func (w *Worker) doReadWriteMemory(targets []types.MemoryTarget, out *[]types.MemoryResult) error {
	if w.conn == nil {
		return strobeerr.New(strobeerr.ProcessExited, "no agent attached")
	}
	start := time.Now()
	if err := w.conn.Send(&agent.Envelope{Type: agent.MsgMemoryRequest, MemoryTargets: targets}); err != nil {
		return err
	}
	select {
	case results := <-w.memResultCh:
		*out = results
		telemetry.RecordAgentRoundTrip(context.Background(), "memory", msSince(start), nil)
		return nil
	case <-time.After(memoryReplyTimeout):
		err := strobeerr.New(strobeerr.ReadFailed, "agent did not respond to memory request within %s", memoryReplyTimeout)
		telemetry.RecordAgentRoundTrip(context.Background(), "memory", msSince(start), err)
		return err
	case <-w.doneCh:
		return strobeerr.New(strobeerr.ProcessExited, "worker stopped while waiting for memory result")
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// Stop terminates the worker. It must never block on a dead pid: the
// liveness probe below uses a zero signal, which only tests whether the
// pid is killable without actually signaling it, and EPERM (pid reused
// by a process we don't own) is treated as "not ours to stop," never as
// "still alive."
func (w *Worker) Stop() error {
	err := w.submit(command{kind: "stop"})
	<-w.doneCh
	return err
}

func (w *Worker) doStop() error {
	if w.conn != nil {
		w.conn.Close()
	}
	if w.pid == 0 {
		return nil
	}
	if !w.isAlive() {
		return nil
	}
	return w.proc.Process.Kill()
}

func (w *Worker) isAlive() bool {
	err := unix.Kill(w.pid, 0)
	if err == nil {
		return true
	}
	if err == unix.EPERM {
		return false
	}
	return false
}
