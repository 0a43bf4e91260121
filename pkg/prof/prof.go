//go:build profile

package prof

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register handlers at /debug/pprof/
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// Profiling errors.
var (
	// ErrSessionActive indicates a session is already collecting.
	ErrSessionActive = errors.New("profiling session already active")

	// ErrInvalidProfile indicates an unknown profile, or the CPU profile
	// used as a snapshot.
	ErrInvalidProfile = errors.New("invalid profile")
)

var (
	activeMu sync.Mutex
	active   *Session
)

// Session is an active profiling session.
type Session struct {
	cfg    Config
	cpu    *os.File
	server *http.Server
	done   bool
}

// Enabled reports whether profiling is compiled in.
func Enabled() bool { return true }

// Start begins a profiling session. Only one session may be active.
func Start(cfg Config) (*Session, error) {
	for p := range cfg.Snapshots {
		if p == ProfileCPU || pprof.Lookup(string(p)) == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, p)
		}
	}

	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		return nil, ErrSessionActive
	}

	s := &Session{cfg: cfg}
	if cfg.CPU != "" {
		f, err := os.Create(cfg.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		s.cpu = f
	}

	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			s.stopCPU()
			return nil, err
		}
		s.server = &http.Server{Handler: http.DefaultServeMux}
		go s.server.Serve(ln)
	}

	runtime.SetMutexProfileFraction(cfg.MutexFraction)
	runtime.SetBlockProfileRate(cfg.BlockRate)
	active = s
	return s, nil
}

// Stop ends the session: the CPU profile is flushed and every snapshot is
// written. Stopping twice is a no-op.
func (s *Session) Stop() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	active = nil

	errs := []error{s.stopCPU()}
	for p, path := range s.cfg.Snapshots {
		errs = append(errs, writeSnapshot(p, path))
	}
	if s.server != nil {
		errs = append(errs, s.server.Close())
	}

	runtime.SetMutexProfileFraction(0)
	runtime.SetBlockProfileRate(0)
	return errors.Join(errs...)
}

func (s *Session) stopCPU() error {
	if s.cpu == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpu.Close()
	s.cpu = nil
	return err
}

func writeSnapshot(p Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	werr := pprof.Lookup(string(p)).WriteTo(f, 0)
	if err := f.Close(); werr == nil {
		werr = err
	}
	if werr != nil {
		return fmt.Errorf("%s profile: %w", p, werr)
	}
	return nil
}
