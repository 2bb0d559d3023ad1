package types

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is the transient "try again" condition. It is
	// returned by non-blocking operations that cannot proceed right now.
	ErrWouldBlock = errors.New("resource temporarily unavailable")

	// ErrInvalidArgument is returned when a caller passes a value that
	// can never be valid.
	ErrInvalidArgument = errors.New("invalid argument")
)

type ErrInvalidData struct {
	Reason string
}

func (e ErrInvalidData) Error() string {
	if e.Reason == "" {
		return "invalid data found when processing input"
	}
	return fmt.Sprintf("invalid data found when processing input: %s", e.Reason)
}

func (e ErrInvalidData) Is(target error) bool {
	_, ok := target.(ErrInvalidData)
	return ok
}

type ErrOutOfMemory struct {
	Err error
}

func (e ErrOutOfMemory) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to allocate: %v", e.Err)
	}
	return "unable to allocate"
}

func (e ErrOutOfMemory) Unwrap() error {
	return e.Err
}

func (e ErrOutOfMemory) Is(target error) bool {
	_, ok := target.(ErrOutOfMemory)
	return ok
}

// ErrBug is an internal invariant violation: the data model is
// inconsistent and the current worker cannot continue.
type ErrBug struct {
	Reason string
}

func (e ErrBug) Error() string {
	return fmt.Sprintf("internal bug: %s", e.Reason)
}

func (e ErrBug) Is(target error) bool {
	_, ok := target.(ErrBug)
	return ok
}

type ErrNotImplemented struct {
	Err error
}

func (e ErrNotImplemented) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("not implemented: %v", e.Err)
	}
	return "not implemented"
}

func (e ErrNotImplemented) Unwrap() error {
	return e.Err
}

// ErrInput attributes an error to an input file.
type ErrInput struct {
	InputIndex int
	Err        error
}

func (e ErrInput) Error() string {
	return fmt.Sprintf("input #%d: %v", e.InputIndex, e.Err)
}

func (e ErrInput) Unwrap() error {
	return e.Err
}

// ErrFilterGraph attributes an error to a filter graph.
type ErrFilterGraph struct {
	GraphIndex int
	Err        error
}

func (e ErrFilterGraph) Error() string {
	return fmt.Sprintf("filter graph #%d: %v", e.GraphIndex, e.Err)
}

func (e ErrFilterGraph) Unwrap() error {
	return e.Err
}
