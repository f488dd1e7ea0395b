// pkg/core/instance.go
package core

import "time"

// Instance is one recorded route of the dataset: a directory holding an
// anno/ subdirectory of per-frame annotation files.
type Instance struct {
	Name    string
	Dir     string
	AnnoDir string
	MapName string
}

// InstanceSummary is reported once an instance has been replayed.
type InstanceSummary struct {
	RunID        string
	Instance     string
	MapName      string
	Frames       int
	Scans        int
	ScansDropped int
	SpawnFailed  int
	Phantoms     int
	StartedAt    time.Time
	Duration     time.Duration
	Err          error
}

// PhantomRecord describes a phantom object injected into a frame.
type PhantomRecord struct {
	Frame     int
	ID        string
	Blueprint string
	Transform Transform
}

// FrameStats are the per-frame figures reported to the storage sinks.
type FrameStats struct {
	Index      int
	SimFrame   uint64
	Boxes      int
	Live       int
	Spawned    int
	Removed    int
	Failed     int
	Phantoms   int
	ScanPoints int
	ScanSaved  bool
	StepTime   time.Duration
}
