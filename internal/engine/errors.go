package engine

import "errors"

// dependencyUnavailableError signals a runtime that was not built into this
// binary or whose native library is missing.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var d dependencyUnavailableError
	return errors.As(err, &d)
}

// argError reports an invalid engine argument list.
type argError struct{ msg string }

func (e argError) Error() string { return e.msg }

// IsArgError reports whether err came from ParseArgs or Params.Validate.
func IsArgError(err error) bool {
	var a argError
	return errors.As(err, &a)
}
