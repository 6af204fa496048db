package mcp

import "fmt"

// StateKind is the connection lifecycle phase of one server.
type StateKind string

const (
	StateDisabled                StateKind = "disabled"
	StateConnecting              StateKind = "connecting"
	StateConnected               StateKind = "connected"
	StateFailed                  StateKind = "failed"
	StateNeedsAuth               StateKind = "needs_auth"
	StateNeedsClientRegistration StateKind = "needs_client_registration"
)

// ConnectionState is the point-in-time state of one server. Within a single
// connection attempt, transitions are monotonic: connecting settles into
// exactly one of connected, failed, needs_auth, or needs_client_registration.
type ConnectionState struct {
	Kind StateKind
	// ToolCount is set when Kind is StateConnected.
	ToolCount int
	// Err carries the failure detail for StateFailed and
	// StateNeedsClientRegistration.
	Err string
}

func (s ConnectionState) String() string {
	switch s.Kind {
	case StateConnected:
		return fmt.Sprintf("connected (%d tools)", s.ToolCount)
	case StateFailed, StateNeedsClientRegistration:
		if s.Err != "" {
			return fmt.Sprintf("%s: %s", s.Kind, s.Err)
		}
		return string(s.Kind)
	default:
		return string(s.Kind)
	}
}

func disabledState() ConnectionState {
	return ConnectionState{Kind: StateDisabled}
}

func connectingState() ConnectionState {
	return ConnectionState{Kind: StateConnecting}
}

func connectedState(toolCount int) ConnectionState {
	return ConnectionState{Kind: StateConnected, ToolCount: toolCount}
}

func failedState(err error) ConnectionState {
	s := ConnectionState{Kind: StateFailed}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}

func needsAuthState() ConnectionState {
	return ConnectionState{Kind: StateNeedsAuth}
}

func needsClientRegistrationState(err error) ConnectionState {
	s := ConnectionState{Kind: StateNeedsClientRegistration}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}
