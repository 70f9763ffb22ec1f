package editor

import (
	"errors"
	"fmt"

	"github.com/tastycreative/gifretouch"
	"github.com/tastycreative/gifretouch/compose"
)

var (
	// ErrSuperseded is returned to a load or preview whose result was
	// discarded because a newer request started.
	ErrSuperseded = errors.New("editor: superseded by a newer request")
	// ErrState is wrapped by operations invalid in the session's current state.
	ErrState = errors.New("editor: invalid session state")
)

// EncodeAbort reports a failed or cancelled encode. The previously encoded
// output, if any, stays current.
type EncodeAbort struct {
	Err error
}

func (e *EncodeAbort) Error() string {
	return "editor: encode aborted: " + e.Err.Error()
}

func (e *EncodeAbort) Unwrap() error {
	return e.Err
}

func stateError(op string, s State) error {
	return fmt.Errorf("%w: %s in state %s", ErrState, op, s)
}

// UserMessage maps err to the single message shown for its class.
func UserMessage(err error) string {
	var (
		de *gif.DecodeError
		ee *compose.ExtractionError
		pe *compose.PreconditionError
		ea *EncodeAbort
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return "This GIF is corrupted or unsupported."
	case errors.As(err, &ee):
		return "No frames could be read from this GIF."
	case errors.As(err, &pe):
		return "The frames are out of sync. Please reload the GIF."
	case errors.As(err, &ea):
		return "Export failed. Your previous download is still available, please try again."
	case errors.Is(err, ErrSuperseded):
		return "A newer request replaced this one."
	case errors.Is(err, ErrState):
		return "That action is not available right now."
	}
	return "Something went wrong. Please try again."
}
