//go:build profile

package prof

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStart_CPUAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CPU: filepath.Join(dir, "cpu.prof"),
		Snapshots: map[Profile]string{
			ProfileHeap:  filepath.Join(dir, "heap.prof"),
			ProfileMutex: filepath.Join(dir, "mutex.prof"),
		},
		MutexFraction: 1,
	}

	s, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mu.Lock()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v, want nil", err)
	}
	for _, path := range []string{cfg.CPU, cfg.Snapshots[ProfileHeap], cfg.Snapshots[ProfileMutex]} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("Stat(%s) error = %v", filepath.Base(path), err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", filepath.Base(path))
		}
	}

	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
}

func TestStart_FailFastWhenActive(t *testing.T) {
	s, err := Start(Config{})
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	defer s.Stop()

	if _, err := Start(Config{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Start() error = %v, want %v", err, ErrSessionActive)
	}
}

func TestStart_RestartAfterStop(t *testing.T) {
	s, err := Start(Config{})
	if err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	s.Stop()

	s, err = Start(Config{})
	if err != nil {
		t.Fatalf("Start() after Stop error = %v, want nil", err)
	}
	s.Stop()
}

func TestStart_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"cpu snapshot", Config{Snapshots: map[Profile]string{ProfileCPU: filepath.Join(dir, "x")}}, ErrInvalidProfile},
		{"unknown profile", Config{Snapshots: map[Profile]string{"bogus": filepath.Join(dir, "y")}}, ErrInvalidProfile},
		{"bad cpu path", Config{CPU: "/nonexistent/directory/cpu.prof"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Start(tt.cfg)
			if err == nil {
				s.Stop()
				t.Fatal("Start() error = nil, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Start() error = %v, want %v", err, tt.want)
			}
		})
	}

	// A failed start leaves no session behind.
	s, err := Start(Config{})
	if err != nil {
		t.Fatalf("Start() after failures error = %v", err)
	}
	s.Stop()
}

func TestEnabled(t *testing.T) {
	if !Enabled() {
		t.Error("Enabled() = false with the profile tag")
	}
}
