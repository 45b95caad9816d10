package failure

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure for the retry controller.
type Kind int

const (
	Unknown Kind = iota
	Validation
	MediaInspection
	Transcode
	Segmentation
	Upload
	Thumbnail
	Timeout
)

// maxOutput bounds the child process diagnostic kept on an error.
const maxOutput = 4096

var kindNames = map[Kind]string{
	Unknown:         "unknown",
	Validation:      "validation",
	MediaInspection: "media inspection",
	Transcode:       "transcode",
	Segmentation:    "segmentation",
	Upload:          "upload",
	Thumbnail:       "thumbnail",
	Timeout:         "timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

type Error struct {
	Kind   Kind
	Op     string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"

	if e.Op != "" {
		msg += ": " + e.Op
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Cause() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithOutput keeps the tail of a child process output next to the error.
func WithOutput(kind Kind, op string, output string, err error) error {
	if len(output) > maxOutput {
		output = output[len(output)-maxOutput:]
	}

	return &Error{Kind: kind, Op: op, Output: output, Err: err}
}

// Process classifies a failed child process. A context that ran out of time
// turns the failure into a timeout; a cancelled one is left unclassified.
func Process(ctx context.Context, kind Kind, op string, output string, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return WithOutput(Timeout, op, output, ctx.Err())
	case context.Canceled:
		return errors.Wrap(ctx.Err(), op)
	}

	return WithOutput(kind, op, output, err)
}

func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: Validation, Err: errors.Errorf(format, args...)}
}

func KindOf(err error) Kind {
	var e *Error

	if errors.As(err, &e) {
		return e.Kind
	}

	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether another attempt may succeed. Unclassified
// errors are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	switch KindOf(err) {
	case Validation, MediaInspection:
		return false
	default:
		return true
	}
}

// OutputOf returns the diagnostic output attached to err, if any.
func OutputOf(err error) string {
	var e *Error

	if errors.As(err, &e) {
		return e.Output
	}

	return ""
}
