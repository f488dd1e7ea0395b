// Package storage defines the sinks a replay run writes to.
package storage

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/b2d-phantom/recorder/pkg/core"
)

// Backend is the interface all output sinks must satisfy. Calls for one
// instance arrive in order from a single goroutine.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Instance management
	StartInstance(runID string, inst core.Instance) error
	EndInstance(summary core.InstanceSummary) error

	// RecordOriginal receives each frame as read from the dataset.
	RecordOriginal(frameIdx int, f *core.Frame) error
	// RecordFrame receives the augmented frame, phantoms appended.
	RecordFrame(frameIdx int, f *core.Frame, stats core.FrameStats) error
	RecordScan(frameIdx int, s *core.Scan) error
}

// Phantoms extracts the injected entries of an augmented frame.
func Phantoms(frameIdx int, f *core.Frame) []core.PhantomRecord {
	var out []core.PhantomRecord
	for _, bb := range f.BoundingBoxes {
		if bb.Class != core.ClassRandomObject {
			continue
		}
		out = append(out, core.PhantomRecord{
			Frame:     frameIdx,
			ID:        bb.ID,
			Blueprint: bb.TypeID,
			Transform: bb.Transform(),
		})
	}
	return out
}

// Multi fans every call out to a list of backends. All backends see every
// call; errors are combined.
type Multi []Backend

var _ Backend = Multi(nil)

func (m Multi) each(op string, fn func(Backend) error) error {
	var errs error
	for _, b := range m {
		if err := fn(b); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %T: %w", op, b, err))
		}
	}
	return errs
}

func (m Multi) Init() error {
	return m.each("init", func(b Backend) error { return b.Init() })
}

func (m Multi) Close() error {
	return m.each("close", func(b Backend) error { return b.Close() })
}

func (m Multi) StartInstance(runID string, inst core.Instance) error {
	return m.each("start instance", func(b Backend) error { return b.StartInstance(runID, inst) })
}

func (m Multi) EndInstance(summary core.InstanceSummary) error {
	return m.each("end instance", func(b Backend) error { return b.EndInstance(summary) })
}

func (m Multi) RecordOriginal(frameIdx int, f *core.Frame) error {
	return m.each("record original", func(b Backend) error { return b.RecordOriginal(frameIdx, f) })
}

func (m Multi) RecordFrame(frameIdx int, f *core.Frame, stats core.FrameStats) error {
	return m.each("record frame", func(b Backend) error { return b.RecordFrame(frameIdx, f, stats) })
}

func (m Multi) RecordScan(frameIdx int, s *core.Scan) error {
	return m.each("record scan", func(b Backend) error { return b.RecordScan(frameIdx, s) })
}

// Nop discards everything. Plain path replay runs with it.
type Nop struct{}

var _ Backend = Nop{}

func (Nop) Init() error                                         { return nil }
func (Nop) Close() error                                        { return nil }
func (Nop) StartInstance(string, core.Instance) error           { return nil }
func (Nop) EndInstance(core.InstanceSummary) error              { return nil }
func (Nop) RecordOriginal(int, *core.Frame) error               { return nil }
func (Nop) RecordFrame(int, *core.Frame, core.FrameStats) error { return nil }
func (Nop) RecordScan(int, *core.Scan) error                    { return nil }
