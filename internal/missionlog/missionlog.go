// Package missionlog keeps the append-only record of a mission run: every
// state transition, event, warning and abort, plus the photo artifact index.
// The record is the audit trail operators review after a flight.
package missionlog

import (
	"sync"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/mission"
)

// Recorder receives the run's entries in order. Implementations assign
// sequence numbers; entries arrive from a single goroutine.
type Recorder interface {
	Append(e mission.LogEntry) error
	SaveArtifact(a mission.PhotoArtifact) error
}

// Memory is an in-process Recorder, used in tests and for runs without a
// database path.
type Memory struct {
	mu        sync.Mutex
	seq       int
	entries   []mission.LogEntry
	artifacts []mission.PhotoArtifact
}

// NewMemory returns an empty in-process record.
func NewMemory() *Memory { return &Memory{} }

// Append implements Recorder.
func (m *Memory) Append(e mission.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Seq = m.seq
	m.entries = append(m.entries, e)
	return nil
}

// SaveArtifact implements Recorder.
func (m *Memory) SaveArtifact(a mission.PhotoArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
	return nil
}

// Entries returns the record so far.
func (m *Memory) Entries() []mission.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mission.LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Artifacts returns the artifact index so far.
func (m *Memory) Artifacts() []mission.PhotoArtifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mission.PhotoArtifact, len(m.artifacts))
	copy(out, m.artifacts)
	return out
}
