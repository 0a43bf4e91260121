//go:build !profile

package prof

// Profiling errors (defined for API compatibility but never returned by stubs).
var (
	// ErrSessionActive indicates a session is already collecting.
	ErrSessionActive error

	// ErrInvalidProfile indicates an unknown profile, or the CPU profile
	// used as a snapshot.
	ErrInvalidProfile error
)

// Session is a profiling session that records nothing.
type Session struct{}

// Enabled reports false when built without the "profile" tag.
func Enabled() bool { return false }

// Start is a no-op when built without the "profile" tag.
func Start(Config) (*Session, error) {
	return &Session{}, nil
}

// Stop is a no-op when built without the "profile" tag.
func (*Session) Stop() error {
	return nil
}
