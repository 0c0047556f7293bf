// Package ferr centralizes error construction so call sites read like the
// rest of fernfs: wrapped errors that carry a stack trace for glog to print.
package ferr

import (
	"github.com/pkg/errors"
)

var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
)

// Rich wraps an arbitrary panic recover() value into an error carrying a
// stack trace; a nil value yields a nil error.
func Rich(v interface{}) error {
	if v == nil {
		return nil
	}
	switch e := v.(type) {
	case error:
		return errors.WithStack(e)
	default:
		return errors.Errorf("%v", e)
	}
}
