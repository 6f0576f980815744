package agentout

import "errors"

var (
	// ErrNoJSON indicates the agent output contained no JSON payload at
	// all, fenced or raw.
	ErrNoJSON = errors.New("no JSON payload found in agent output")

	// ErrInvalidPayload indicates a JSON payload was found but does not
	// carry the shape the role is expected to emit.
	ErrInvalidPayload = errors.New("agent output JSON has unexpected shape")
)
