package dispatch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/zjrosen/adwd/internal/log"
)

// ServiceName identifies a supervised sidecar service.
type ServiceName string

const (
	// ServiceWebhook is the webhook forwarder that relays GitHub events to
	// the daemon's local endpoint.
	ServiceWebhook ServiceName = "webhook"

	// ServiceTunnel is the tunnel exposing the daemon to the internet.
	ServiceTunnel ServiceName = "tunnel"
)

var (
	// ErrAlreadyRunning is returned by Start when the service has a live
	// process.
	ErrAlreadyRunning = errors.New("service is already running")

	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("service is not running")

	// ErrUnknownService is returned for names outside the configured set.
	ErrUnknownService = errors.New("unknown service")
)

// ServiceSpec describes how to launch one sidecar service.
type ServiceSpec struct {
	// Command is the executable to run. An empty command means the service
	// is configured off.
	Command string

	// Args are passed to Command.
	Args []string

	// TokenEnv names the environment variable the service needs for
	// authentication. Start warns when it is unset.
	TokenEnv string
}

// ServiceStatus is the externally visible state of one service.
type ServiceStatus struct {
	Name      ServiceName `json:"name"`
	Running   bool        `json:"running"`
	PID       int         `json:"pid,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
}

type serviceProc struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
}

// ServiceSupervisor starts and stops long-running sidecar processes such as
// the webhook forwarder and the tunnel. Unlike workflows, services have no
// state files; the supervisor's in-memory table is the only record.
type ServiceSupervisor struct {
	specs map[ServiceName]ServiceSpec
	grace time.Duration

	mu    sync.Mutex
	procs map[ServiceName]*serviceProc
}

// NewServiceSupervisor creates a supervisor over the given service specs.
func NewServiceSupervisor(specs map[ServiceName]ServiceSpec, grace time.Duration) *ServiceSupervisor {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &ServiceSupervisor{
		specs: specs,
		grace: grace,
		procs: make(map[ServiceName]*serviceProc),
	}
}

// Start launches the named service.
func (s *ServiceSupervisor) Start(name ServiceName) error {
	spec, ok := s.specs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if spec.Command == "" {
		return fmt.Errorf("service %s has no command configured", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.procs[name]; running {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	cmd := exec.Command(spec.Command, spec.Args...) //nolint:gosec // the command comes from the daemon config, not request input
	if spec.TokenEnv != "" {
		if token := os.Getenv(spec.TokenEnv); token != "" {
			cmd.Env = append(os.Environ(), spec.TokenEnv+"="+token)
		} else {
			log.Warn(log.CatService, "service auth token not set", "service", string(name), "env", spec.TokenEnv)
		}
	}
	configureDetached(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting service %s: %w", name, err)
	}

	proc := &serviceProc{cmd: cmd, startedAt: time.Now().UTC(), done: make(chan struct{})}
	s.procs[name] = proc

	log.SafeGo("service-reaper-"+string(name), func() { s.reap(name, proc) })
	log.Info(log.CatService, "service started", "service", string(name), "pid", cmd.Process.Pid)
	return nil
}

// reap waits for the service process and clears its table entry, unless a
// restart already replaced it.
func (s *ServiceSupervisor) reap(name ServiceName, proc *serviceProc) {
	err := proc.cmd.Wait()
	close(proc.done)

	s.mu.Lock()
	if s.procs[name] == proc {
		delete(s.procs, name)
	}
	s.mu.Unlock()

	if err != nil {
		log.Warn(log.CatService, "service exited", "service", string(name), "error", err)
		return
	}
	log.Info(log.CatService, "service exited", "service", string(name))
}

// Stop terminates the named service, SIGTERM first and SIGKILL after the
// grace period.
func (s *ServiceSupervisor) Stop(name ServiceName) error {
	if _, ok := s.specs[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	s.mu.Lock()
	proc := s.procs[name]
	s.mu.Unlock()
	if proc == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	pid := proc.cmd.Process.Pid
	signalTree(pid, syscall.SIGTERM)
	select {
	case <-proc.done:
	case <-time.After(s.grace):
		log.Warn(log.CatService, "service ignored SIGTERM, killing", "service", string(name), "pid", pid)
		signalTree(pid, syscall.SIGKILL)
		select {
		case <-proc.done:
		case <-time.After(killWait):
			log.Warn(log.CatService, "service not reaped after kill", "service", string(name), "pid", pid)
		}
	}

	log.Info(log.CatService, "service stopped", "service", string(name))
	return nil
}

// Restart stops the service if running and starts it again.
func (s *ServiceSupervisor) Restart(name ServiceName) error {
	if err := s.Stop(name); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.Start(name)
}

// Status reports the named service.
func (s *ServiceSupervisor) Status(name ServiceName) (ServiceStatus, error) {
	if _, ok := s.specs[name]; !ok {
		return ServiceStatus{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(name), nil
}

// StatusAll reports every configured service, sorted by name so repeated
// snapshots compare cleanly.
func (s *ServiceSupervisor) StatusAll() []ServiceStatus {
	names := make([]ServiceName, 0, len(s.specs))
	for name := range s.specs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		out = append(out, s.statusLocked(name))
	}
	return out
}

func (s *ServiceSupervisor) statusLocked(name ServiceName) ServiceStatus {
	status := ServiceStatus{Name: name}
	if proc, ok := s.procs[name]; ok {
		status.Running = true
		status.PID = proc.cmd.Process.Pid
		started := proc.startedAt
		status.StartedAt = &started
	}
	return status
}

// StopAll stops every running service. Called during daemon shutdown.
func (s *ServiceSupervisor) StopAll() {
	for _, status := range s.StatusAll() {
		if !status.Running {
			continue
		}
		if err := s.Stop(status.Name); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Warn(log.CatService, "failed to stop service", "service", string(status.Name), "error", err)
		}
	}
}
