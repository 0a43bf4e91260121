// Package prof profiles scheduler runs.
//
// A [Session] collects the profiles named in a [Config] between [Start] and
// [Session.Stop]: a CPU profile streamed while the run lasts, and snapshot
// profiles written when it ends. The scheduler serializes everything
// behind one lock, so the mutex and block profiles show how much the
// interrupt path and the submitting goroutines contend for it.
//
// The package is conditionally compiled using the "profile" build tag:
//
//	go build -tags profile ./examples/sim-hal/hcdsim
//
// Without the tag, [Start] returns a session that records nothing and
// [Enabled] reports false, so callers can keep profiling hooks in place.
//
// # Usage
//
//	s, err := prof.Start(prof.Config{
//	    CPU:           "cpu.prof",
//	    Snapshots:     map[prof.Profile]string{prof.ProfileMutex: "mutex.prof"},
//	    MutexFraction: 1,
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// With the tag, [Config.HTTPAddr] also serves the standard /debug/pprof/
// handlers while the session is active.
package prof
