package cqrs

import (
	"errors"
	"strings"
)

type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindForbidden           ErrorKind = "forbidden"
	KindAlreadyExists       ErrorKind = "already_exists"
	KindInsufficientFunds   ErrorKind = "insufficient_funds"
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
	KindDependencyFailure   ErrorKind = "dependency_failure"
)

// Error is a failure that is safe to show to the caller.
type Error struct {
	Kind     ErrorKind
	Messages []string
}

func NewError(kind ErrorKind, messages ...string) *Error {
	return &Error{Kind: kind, Messages: messages}
}

func (e *Error) Error() string {
	if len(e.Messages) == 0 {
		return string(e.Kind)
	}
	return strings.Join(e.Messages, "; ")
}

// KindOf returns the kind of a wrapped *Error, or KindDependencyFailure for any other error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependencyFailure
}

// Result is the envelope returned by the API for commands and queries.
type Result[T any] struct {
	Success bool     `json:"success"`
	Data    *T       `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func Ok[T any](data T, message string) Result[T] {
	return Result[T]{Success: true, Data: &data, Message: message}
}

// Fail builds a failed result. Only messages of an *Error are exposed.
func Fail[T any](err error) Result[T] {
	var e *Error
	if errors.As(err, &e) {
		return Result[T]{Message: "request failed", Errors: e.Messages}
	}
	return Result[T]{Message: "request failed", Errors: []string{"an unexpected error occurred"}}
}
