// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package exporter is the transaction-log boundary: exporters observe
// definition deployments and instance transitions but never affect engine
// semantics.
package exporter

import "github.com/hashicorp/go-hclog"

type EventExporter interface {
	ProcessDeployed(event ProcessDeployedEvent)
	InstanceCreated(event InstanceEvent)
	InstanceEnded(event InstanceEvent)
	ElementEvent(event InstanceEvent, element ElementInfo)
}

type Intent string

const (
	ElementActivated Intent = "ELEMENT_ACTIVATED"
	ElementCompleted Intent = "ELEMENT_COMPLETED"
)

type ProcessDeployedEvent struct {
	ProcessName  string
	ProcessKey   int64
	Version      int32
	XmlData      []byte
	ResourceName string
	Checksum     string
}

type InstanceEvent struct {
	ProcessName string
	ProcessId   string
	Version     int32
}

type ElementInfo struct {
	ElementType string
	Name        string
	Intent      Intent
}

// LogExporter writes every observed transition to a structured logger; the
// default transaction-log sink.
type LogExporter struct {
	Logger hclog.Logger
}

func (e *LogExporter) ProcessDeployed(event ProcessDeployedEvent) {
	e.Logger.Info("process deployed",
		"processName", event.ProcessName, "version", event.Version, "resource", event.ResourceName)
}

func (e *LogExporter) InstanceCreated(event InstanceEvent) {
	e.Logger.Info("process instance created", "processName", event.ProcessName, "processId", event.ProcessId)
}

func (e *LogExporter) InstanceEnded(event InstanceEvent) {
	e.Logger.Info("process instance ended", "processName", event.ProcessName, "processId", event.ProcessId)
}

func (e *LogExporter) ElementEvent(event InstanceEvent, element ElementInfo) {
	e.Logger.Debug("element transition",
		"processId", event.ProcessId, "element", element.Name, "type", element.ElementType, "intent", element.Intent)
}
