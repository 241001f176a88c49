package session

import "fmt"

// State is a step in the server-side session lifecycle.
type State int

const (
	Listening State = iota
	Accepted
	RequestParsed
	FileOpened
	DigestSent
	WorkersRunning
	Completed
	Closed
)

var stateNames = [...]string{
	Listening:      "listening",
	Accepted:       "accepted",
	RequestParsed:  "request_parsed",
	FileOpened:     "file_opened",
	DigestSent:     "digest_sent",
	WorkersRunning: "workers_running",
	Completed:      "completed",
	Closed:         "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", string(b))
}

// DataStarted reports whether bytes other than a rejection may already
// have reached the client.
func (s State) DataStarted() bool {
	return s >= DigestSent && s != Closed
}
