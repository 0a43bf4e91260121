package prof

// Profile names a runtime/pprof profile.
type Profile string

// Profile type constants.
const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

// String returns the string representation of the profile type.
func (p Profile) String() string {
	return string(p)
}

// Config selects what a [Session] collects.
type Config struct {
	// CPU is the file the CPU profile streams to. Empty disables it.
	CPU string

	// Snapshots maps snapshot profiles to the files they are written to
	// when the session stops.
	Snapshots map[Profile]string

	// MutexFraction and BlockRate are passed to
	// runtime.SetMutexProfileFraction and runtime.SetBlockProfileRate
	// while the session is active.
	MutexFraction int
	BlockRate     int

	// HTTPAddr serves /debug/pprof/ while the session is active.
	HTTPAddr string
}

// IsZero reports whether c collects nothing.
func (c Config) IsZero() bool {
	return c.CPU == "" && len(c.Snapshots) == 0 && c.HTTPAddr == ""
}
