package framegraph

import "github.com/cockroachdb/errors"

var (
	// ErrNotCompiled indicates an operation that requires a compiled frame, such as Execute
	ErrNotCompiled = errors.New("frame graph has not been compiled")
	// ErrAlreadyCompiled indicates a change to a frame that has already been compiled. Call Reset
	// to start a new frame.
	ErrAlreadyCompiled = errors.New("frame graph is already compiled")
	// ErrResourceCulled indicates an access to a resource that was culled and never received memory
	ErrResourceCulled = errors.New("resource was culled")
	// ErrInvalidHandle indicates a handle that does not belong to the current frame, or a handle of
	// the wrong kind
	ErrInvalidHandle = errors.New("invalid frame graph handle")
)
