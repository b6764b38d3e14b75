// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/bpmnworks/engine/pkg/bpmn/model/bpmn20"
)

// ParseError is a fatal definition-load error: the queue of invariant
// violations bpmn20.TDefinitions.BuildIndices accumulates.
type ParseError struct {
	Errors []bpmn20.ParseError
}

func (e *ParseError) Error() string {
	if len(e.Errors) == 0 {
		return "parse error"
	}
	return fmt.Sprintf("%d parse error(s), first: %s", len(e.Errors), e.Errors[0].Error())
}

// ConfigError covers an unknown process definition name, a processId that
// already exists, duplicate ids found while loading persisted data, and a
// scriptTask with an inline script but no script runtime; fatal to the
// operation that triggered it. A definition without a handler module runs
// with an empty module rather than failing, and participant names are not
// checked for duplicates.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func newConfigErrorf(format string, a ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, a...)}
}

// RuntimeErrorKind enumerates the named subtypes raised during event
// dispatch.
type RuntimeErrorKind string

const (
	UnknownEvent    RuntimeErrorKind = "UnknownEvent"
	AlreadyStarted  RuntimeErrorKind = "AlreadyStarted"
	NotExecuting    RuntimeErrorKind = "NotExecuting"
	NoTarget        RuntimeErrorKind = "NoTarget"
	BadCalledProcess RuntimeErrorKind = "BadCalledProcess"
	BadTimeout      RuntimeErrorKind = "BadTimeout"
)

// fatal reports whether a RuntimeError of this kind is fatal to the
// instance (BadTimeout, BadCalledProcess) rather than routed, non-fatally,
// through defaultEventHandler.
func (k RuntimeErrorKind) fatal() bool {
	return k == BadTimeout || k == BadCalledProcess
}

type RuntimeError struct {
	Kind    RuntimeErrorKind
	Element string
	Msg     string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Element, e.Msg)
}

func newRuntimeError(kind RuntimeErrorKind, element, msg string) *RuntimeError {
	return &RuntimeError{Kind: kind, Element: element, Msg: msg}
}
