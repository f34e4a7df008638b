package pipeline

import "errors"

// fatalError marks a stage failure that must halt the pipeline even when
// the stage itself is not declared fatal, such as a missing prerequisite.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal wraps err so the executor treats the failure as pipeline-halting.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{err: err}
}

// IsFatal reports whether err was wrapped with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError

	return errors.As(err, &fe)
}
