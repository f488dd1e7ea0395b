// Package model holds the gorm tables of the replay index.
package model

import (
	"time"

	"gorm.io/gorm"
)

// DatabaseModels lists every table of the index schema.
var DatabaseModels = []interface{}{
	&Run{},
	&Instance{},
	&Frame{},
	&Phantom{},
	&Scan{},
}

// Run is one invocation of the recorder.
type Run struct {
	gorm.Model
	RunID     string    `json:"runId" gorm:"size:64;uniqueIndex"`
	StartedAt time.Time `json:"startedAt" gorm:"index:idx_run_started"`
	Instances []Instance
}

// Instance is one replayed route.
type Instance struct {
	gorm.Model
	RunID        uint          `json:"runId" gorm:"index:idx_instance_run_id"`
	Run          Run           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Name         string        `json:"name" gorm:"size:255;index:idx_instance_name"`
	MapName      string        `json:"mapName" gorm:"size:64"`
	Frames       int           `json:"frames"`
	Scans        int           `json:"scans"`
	ScansDropped int           `json:"scansDropped"`
	SpawnFailed  int           `json:"spawnFailed"`
	Phantoms     int           `json:"phantoms"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error" gorm:"size:1024"`
}

// Frame is the per-frame replay record.
type Frame struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time       time.Time `json:"time" gorm:"index:idx_frame_time"`
	InstanceID uint      `json:"instanceId" gorm:"index:idx_frame_instance_id"`
	Index      int       `json:"index" gorm:"index:idx_frame_index"`
	SimFrame   uint64    `json:"simFrame"`
	Boxes      int       `json:"boxes"`
	Live       int       `json:"live"`
	Spawned    int       `json:"spawned"`
	Removed    int       `json:"removed"`
	Failed     int       `json:"failed"`
	Phantoms   int       `json:"phantoms"`
	ScanSaved  bool      `json:"scanSaved"`
	StepTimeMs float32   `json:"stepTimeMs"`
}

// Phantom is one injected decoy entry.
type Phantom struct {
	ID         uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	InstanceID uint    `json:"instanceId" gorm:"index:idx_phantom_instance_id"`
	Frame      int     `json:"frame" gorm:"index:idx_phantom_frame"`
	PhantomID  string  `json:"phantomId" gorm:"size:64"`
	Blueprint  string  `json:"blueprint" gorm:"size:128"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Yaw        float64 `json:"yaw"`
}

// Scan is the metadata of one saved range scan.
type Scan struct {
	ID           uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	InstanceID   uint    `json:"instanceId" gorm:"index:idx_scan_instance_id"`
	Frame        int     `json:"frame" gorm:"index:idx_scan_frame"`
	SimFrame     uint64  `json:"simFrame"`
	Points       int     `json:"points"`
	HasIntensity bool    `json:"hasIntensity"`
	MinZ         float64 `json:"minZ"`
	MaxZ         float64 `json:"maxZ"`
}
