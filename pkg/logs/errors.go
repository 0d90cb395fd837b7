package logs

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when records or attachments arrive after Close.
var ErrClosed = errors.New("log multiplexer closed")

// CaptureError reports a log source that could not be attached. It is a
// soft failure: the session and the other source keep running.
type CaptureError struct {
	Instance string
	Source   Source
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", Tag(e.Source, e.Instance), e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// SinkError reports batches the sink rejected even after retries.
type SinkError struct {
	Lost uint64
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("log sink failed, %d records lost: %v", e.Lost, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
