package gif

// DecodeError reports a GIF stream that lacks a valid header, is truncated, or carries no image data.
type DecodeError struct {
	Op  string // Decoding stage that failed, such as "reading header".
	Err error
}

func (e *DecodeError) Error() string {
	return "gif: " + e.Op + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(op string, err error) error {
	if _, ok := err.(*DecodeError); ok {
		return err
	}
	return &DecodeError{Op: op, Err: err}
}
