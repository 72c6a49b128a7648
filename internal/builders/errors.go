package builders

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat       = errors.New("invalid duration format")
	ErrDuplicateTag        = errors.New("tag already registered")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrCapacityExceeded    = errors.New("builder capacity exceeded")
	ErrCapacityOutOfRange  = errors.New("capacity out of range")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMemberNotFound      = errors.New("member not found in clan")
)

// DuplicateTagError reports who already owns a tag.
type DuplicateTagError struct {
	Tag       string
	OwnerName string
}

func (e *DuplicateTagError) Error() string {
	return fmt.Sprintf("tag %s already registered by %s", e.Tag, e.OwnerName)
}

func (e *DuplicateTagError) Is(target error) bool { return target == ErrDuplicateTag }

// CapacityError is returned when every builder slot of an account is busy.
type CapacityError struct {
	Tag      string
	Name     string
	Used     int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("account %s (%s): %d/%d builders busy", e.Name, e.Tag, e.Used, e.Capacity)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// UpstreamError wraps a failed store or clan API call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func (e *UpstreamError) Unwrap() error { return e.Err }

// upstream wraps err as an UpstreamError unless it already carries a domain meaning.
func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{
		ErrDuplicateTag, ErrAccountNotFound, ErrTaskNotFound, ErrCapacityExceeded,
		ErrMemberNotFound, ErrUpstreamUnavailable,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}
