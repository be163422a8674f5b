// Package dispatch spawns workflow child processes and supervises their
// lifecycle. Children run detached in their own process groups so that an
// in-flight workflow survives a daemon restart; the state files under the
// state root are the durable record, the in-memory registry only tracks
// processes spawned by this daemon instance.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/paths"
	"github.com/zjrosen/adwd/internal/pubsub"
)

const (
	// DefaultGracePeriod is how long a stop waits between SIGTERM and
	// SIGKILL when no explicit grace period is given.
	DefaultGracePeriod = 10 * time.Second

	// killWait bounds how long a stop waits for the reaper after SIGKILL.
	killWait = 2 * time.Second
)

// Update is published on the dispatcher's event broker whenever the daemon
// changes a workflow's state. Children mutate their own state files directly;
// those changes surface through the state watcher instead.
type Update struct {
	ADWID    string       `json:"adw_id"`
	Status   adw.Status   `json:"status"`
	Template adw.Template `json:"workflow_template"`
}

// StopOptions control how a workflow is stopped.
type StopOptions struct {
	// Reason is recorded in the daemon log. It is not written into the
	// state file, which belongs to the child.
	Reason string

	// GracePeriod overrides the dispatcher's default SIGTERM grace.
	GracePeriod time.Duration

	// Force skips SIGTERM and kills the process group immediately.
	Force bool
}

// Config configures a Dispatcher.
type Config struct {
	// StateRoot is the directory holding per-workflow state directories.
	StateRoot string

	// BinDir, when set, is prepended to workflow command names. When
	// empty, commands resolve through PATH.
	BinDir string

	// GracePeriod is the default SIGTERM-to-SIGKILL wait for stops.
	GracePeriod time.Duration

	// Registry tracks spawned processes. A fresh in-memory registry is
	// created when nil.
	Registry Registry

	// Events receives Update notifications. A broker is created when nil.
	Events *pubsub.Broker[Update]
}

// child pairs the exec handle with the coordination state the reaper and
// Stop share. Handles are held by pointer; the atomic flag must not be
// copied.
type child struct {
	cmd      *exec.Cmd
	template adw.Template
	done     chan struct{}
	stopping atomic.Bool
}

// Dispatcher spawns and stops workflow child processes.
type Dispatcher struct {
	stateRoot string
	binDir    string
	grace     time.Duration
	registry  Registry
	events    *pubsub.Broker[Update]

	mu       sync.Mutex
	children map[string]*child
}

// NewDispatcher creates a Dispatcher from cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	events := cfg.Events
	if events == nil {
		events = pubsub.NewBroker[Update]()
	}
	return &Dispatcher{
		stateRoot: cfg.StateRoot,
		binDir:    cfg.BinDir,
		grace:     grace,
		registry:  registry,
		events:    events,
		children:  make(map[string]*child),
	}
}

// Registry returns the process registry.
func (d *Dispatcher) Registry() Registry {
	return d.registry
}

// Events returns the broker carrying daemon-side workflow updates.
func (d *Dispatcher) Events() *pubsub.Broker[Update] {
	return d.events
}

// Dispatch writes the queued state file for cmd, spawns the workflow
// executable detached with its output appended to the execution log, and
// returns the queued record. The child owns the state file from the moment
// it starts; the dispatcher only touches it again if the process dies
// without reaching a terminal status.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd adw.Command, issueID string) (*adw.WorkflowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	adwID := cmd.ADWID
	if adwID == "" {
		var err error
		adwID, err = adw.NewADWID()
		if err != nil {
			return nil, fmt.Errorf("minting adw_id: %w", err)
		}
	} else if !adw.ValidADWID(adwID) {
		return nil, fmt.Errorf("invalid adw_id %q", adwID)
	}

	if prev, ok := d.registry.Get(adwID); ok {
		if prev.Alive() {
			return nil, fmt.Errorf("workflow %s is already running (pid %d)", adwID, prev.PID)
		}
		d.registry.Remove(adwID)
	}

	record, err := adw.NewWorkflowRecord(adwID, issueID, cmd.Template, cmd.ModelSet)
	if err != nil {
		return nil, err
	}

	statePath := paths.StateFilePath(d.stateRoot, adwID)
	if err := adw.WriteStateFile(statePath, record); err != nil {
		return nil, fmt.Errorf("writing state file: %w", err)
	}

	if err := os.MkdirAll(paths.LogsDir(d.stateRoot, adwID), 0o750); err != nil {
		return nil, fmt.Errorf("creating logs directory: %w", err)
	}
	logPath := paths.ExecutionLogPath(d.stateRoot, adwID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path is derived from the configured state root
	if err != nil {
		return nil, fmt.Errorf("opening execution log: %w", err)
	}

	exe := cmd.Template.CommandName()
	if d.binDir != "" {
		exe = filepath.Join(d.binDir, exe)
	}

	proc := exec.Command(exe, issueID, adwID, string(record.ModelSet)) //nolint:gosec // the executable name comes from the template catalog, not request input
	proc.Stdout = logFile
	proc.Stderr = logFile
	proc.Env = append(os.Environ(), "ADWD_STATE_ROOT="+d.stateRoot)
	configureDetached(proc)

	if err := proc.Start(); err != nil {
		_ = logFile.Close()
		d.failRecord(record, fmt.Sprintf("failed to start %s: %v", exe, err))
		return nil, fmt.Errorf("starting %s: %w", exe, err)
	}
	// The child holds its own descriptor now.
	_ = logFile.Close()

	pid := proc.Process.Pid
	record.PID = pid
	if err := adw.WriteStateFile(statePath, record); err != nil {
		log.ErrorErr(log.CatDispatch, "failed to record child pid", err, "adw_id", adwID)
	}

	if err := d.registry.Put(Entry{
		ADWID:     adwID,
		PID:       pid,
		Template:  cmd.Template,
		StartTime: time.Now().UTC(),
		LogPath:   logPath,
	}); err != nil {
		log.Warn(log.CatDispatch, "registry rejected entry", "adw_id", adwID, "error", err)
	}

	handle := &child{cmd: proc, template: cmd.Template, done: make(chan struct{})}
	d.mu.Lock()
	d.children[adwID] = handle
	d.mu.Unlock()

	log.SafeGo("workflow-reaper-"+adwID, func() { d.reap(adwID, handle) })

	log.Info(log.CatDispatch, "workflow dispatched",
		"adw_id", adwID,
		"workflow_template", string(cmd.Template),
		"issue_id", issueID,
		"pid", pid)
	d.events.Publish(pubsub.CreatedEvent, Update{ADWID: adwID, Status: record.Status, Template: cmd.Template})
	return record, nil
}

// reap waits for the child to exit, cleans up tracking state, and marks the
// workflow failed when the process died without writing a terminal status.
func (d *Dispatcher) reap(adwID string, handle *child) {
	waitErr := handle.cmd.Wait()
	close(handle.done)

	d.mu.Lock()
	delete(d.children, adwID)
	d.mu.Unlock()
	d.registry.Remove(adwID)

	if handle.stopping.Load() {
		// Stop owns the state file for this workflow.
		return
	}
	if waitErr == nil {
		log.Debug(log.CatDispatch, "workflow process exited cleanly", "adw_id", adwID)
		return
	}

	record, err := adw.ReadStateFile(paths.StateFilePath(d.stateRoot, adwID))
	if err != nil {
		log.ErrorErr(log.CatDispatch, "cannot reconcile exited workflow", err, "adw_id", adwID)
		return
	}
	if record.Status.IsTerminal() {
		// The child reported its own outcome before exiting non-zero.
		return
	}

	msg := "process exited before reaching a terminal status"
	if state := handle.cmd.ProcessState; state != nil {
		if code := state.ExitCode(); code >= 0 {
			msg = fmt.Sprintf("process exited with code %d before reaching a terminal status", code)
		} else {
			msg = "process was terminated by a signal before reaching a terminal status"
		}
	}
	d.failRecord(record, msg)
}

// failRecord marks a workflow failed on behalf of a child that never wrote
// its own terminal status.
func (d *Dispatcher) failRecord(record *adw.WorkflowRecord, msg string) {
	record.Errors = append(record.Errors, adw.WorkflowError{
		Category: adw.ErrorCategoryProcessFailure,
		Message:  msg,
	})
	if err := record.TransitionTo(adw.StatusFailed); err != nil {
		log.Warn(log.CatDispatch, "cannot mark workflow failed", "adw_id", record.ADWID, "error", err)
		return
	}
	if err := adw.WriteStateFile(paths.StateFilePath(d.stateRoot, record.ADWID), record); err != nil {
		log.ErrorErr(log.CatDispatch, "failed to persist workflow failure", err, "adw_id", record.ADWID)
		return
	}
	log.Warn(log.CatDispatch, "workflow failed", "adw_id", record.ADWID, "reason", msg)
	d.events.Publish(pubsub.UpdatedEvent, Update{ADWID: record.ADWID, Status: adw.StatusFailed, Template: record.WorkflowTemplate})
}

// Stop terminates a workflow. Children spawned by this daemon are signalled
// through their exec handle; workflows inherited from a previous daemon run
// are signalled by the pid recorded in their state file. Either way the
// process group gets SIGTERM, then SIGKILL after the grace period, and the
// state file is moved to stopped unless the child already wrote a terminal
// status.
func (d *Dispatcher) Stop(ctx context.Context, adwID string, opts StopOptions) error {
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = d.grace
	}

	d.mu.Lock()
	handle := d.children[adwID]
	d.mu.Unlock()

	if handle != nil {
		return d.stopChild(ctx, adwID, handle, opts.Reason, grace, opts.Force)
	}
	return d.stopOrphan(ctx, adwID, opts.Reason, grace, opts.Force)
}

func (d *Dispatcher) stopChild(ctx context.Context, adwID string, handle *child, reason string, grace time.Duration, force bool) error {
	// Claim the state file before signalling so the reaper does not race us
	// into marking a SIGTERM exit as failed.
	handle.stopping.Store(true)
	pid := handle.cmd.Process.Pid

	if force {
		signalTree(pid, syscall.SIGKILL)
	} else {
		signalTree(pid, syscall.SIGTERM)
		select {
		case <-handle.done:
		case <-time.After(grace):
			log.Warn(log.CatDispatch, "grace period expired, killing",
				"adw_id", adwID, "pid", pid, "grace", grace.String())
			signalTree(pid, syscall.SIGKILL)
		case <-ctx.Done():
			signalTree(pid, syscall.SIGKILL)
		}
	}

	select {
	case <-handle.done:
	case <-time.After(killWait):
		log.Warn(log.CatDispatch, "child not reaped after kill", "adw_id", adwID, "pid", pid)
	}

	return d.markStopped(adwID, handle.template, reason)
}

// stopOrphan stops a workflow this daemon instance did not spawn.
func (d *Dispatcher) stopOrphan(ctx context.Context, adwID, reason string, grace time.Duration, force bool) error {
	record, err := adw.ReadStateFile(paths.StateFilePath(d.stateRoot, adwID))
	if err != nil {
		return fmt.Errorf("unknown workflow %s: %w", adwID, err)
	}

	if record.PID > 0 && processAlive(record.PID) {
		if force {
			signalTree(record.PID, syscall.SIGKILL)
		} else {
			signalTree(record.PID, syscall.SIGTERM)
			if !waitPidExit(ctx, record.PID, grace) {
				log.Warn(log.CatDispatch, "grace period expired, killing", "adw_id", adwID, "pid", record.PID)
				signalTree(record.PID, syscall.SIGKILL)
			}
		}
		waitPidExit(ctx, record.PID, killWait)
	}

	return d.markStopped(adwID, record.WorkflowTemplate, reason)
}

// signalTree signals pid's process group, falling back to the bare
// process when the group lead is already gone.
func signalTree(pid int, sig syscall.Signal) {
	if err := signalGroup(pid, sig); err == nil {
		return
	}
	if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Warn(log.CatDispatch, "signal delivery failed", "pid", pid, "signal", sig.String(), "error", err)
	}
}

// waitPidExit polls until the process disappears or the limit passes,
// reporting whether the process is gone.
func waitPidExit(ctx context.Context, pid int, limit time.Duration) bool {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if !processAlive(pid) {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return !processAlive(pid)
		case <-ctx.Done():
			return !processAlive(pid)
		}
	}
}

// markStopped records the stopped status unless the child already wrote a
// terminal one.
func (d *Dispatcher) markStopped(adwID string, template adw.Template, reason string) error {
	statePath := paths.StateFilePath(d.stateRoot, adwID)
	record, err := adw.ReadStateFile(statePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading state file: %w", err)
		}
		// The child was stopped before it wrote any state. Synthesize the
		// minimal record so the stop is visible in history.
		record = &adw.WorkflowRecord{
			ADWID:            adwID,
			WorkflowTemplate: template,
			Status:           adw.StatusQueued,
		}
	}

	if record.Status.IsTerminal() {
		// The child won the race and reported its own outcome.
		return nil
	}
	if err := record.TransitionTo(adw.StatusStopped); err != nil {
		return err
	}
	if err := adw.WriteStateFile(statePath, record); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}

	log.Info(log.CatDispatch, "workflow stopped", "adw_id", adwID, "reason", reason)
	d.events.Publish(pubsub.UpdatedEvent, Update{ADWID: adwID, Status: adw.StatusStopped, Template: record.WorkflowTemplate})
	return nil
}
