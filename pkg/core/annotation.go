// pkg/core/annotation.go
package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
)

// Actor classes found in recorded annotations.
const (
	ClassEgoVehicle   = "ego_vehicle"
	ClassVehicle      = "vehicle"
	ClassWalker       = "walker"
	ClassTrafficLight = "traffic_light"
	ClassTrafficSign  = "traffic_sign"
	ClassRandomObject = "random_object"
)

// ErrMissingWeather is returned when a frame has no weather block.
var ErrMissingWeather = errors.New("frame has no weather block")

// Weather is the global environment snapshot recorded with a frame.
type Weather struct {
	Cloudiness            float64 `json:"cloudiness"`
	Precipitation         float64 `json:"precipitation"`
	PrecipitationDeposits float64 `json:"precipitation_deposits"`
	WindIntensity         float64 `json:"wind_intensity"`
	SunAzimuthAngle       float64 `json:"sun_azimuth_angle"`
	SunAltitudeAngle      float64 `json:"sun_altitude_angle"`
	FogDensity            float64 `json:"fog_density"`
	FogDistance           float64 `json:"fog_distance"`
	Wetness               float64 `json:"wetness"`
	FogFalloff            float64 `json:"fog_falloff"`
}

// BoundingBox is one actor entry of a frame annotation.
// ID is the stable cross-frame key; numeric ids are kept in decimal form.
type BoundingBox struct {
	Class    string
	ID       string
	TypeID   string
	BaseType string
	Location r3.Vector
	Rotation Rotation
	Extent   *r3.Vector

	// raw holds the entry as read, so unknown keys survive a rewrite.
	raw json.RawMessage
}

type boundingBoxJSON struct {
	Class    string          `json:"class"`
	ID       json.RawMessage `json:"id"`
	TypeID   string          `json:"type_id"`
	BaseType string          `json:"base_type,omitempty"`
	Location []float64       `json:"location"`
	Rotation []float64       `json:"rotation,omitempty"`
	Extent   []float64       `json:"extent,omitempty"`
}

// Transform returns the recorded pose of the entry.
func (b BoundingBox) Transform() Transform {
	return Transform{Location: b.Location, Rotation: b.Rotation}
}

// UnmarshalJSON decodes an entry and remembers its raw form.
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var aux boundingBoxJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	id, err := decodeID(aux.ID)
	if err != nil {
		return fmt.Errorf("bounding box id: %w", err)
	}
	if len(aux.Location) < 3 {
		return fmt.Errorf("bounding box %q: location needs 3 components, got %d", id, len(aux.Location))
	}

	*b = BoundingBox{
		Class:    aux.Class,
		ID:       id,
		TypeID:   aux.TypeID,
		BaseType: aux.BaseType,
		Location: r3.Vector{X: aux.Location[0], Y: aux.Location[1], Z: aux.Location[2]},
		raw:      append(json.RawMessage(nil), data...),
	}
	if len(aux.Rotation) >= 3 {
		b.Rotation = Rotation{Pitch: aux.Rotation[0], Roll: aux.Rotation[1], Yaw: aux.Rotation[2]}
	}
	if len(aux.Extent) >= 3 {
		b.Extent = &r3.Vector{X: aux.Extent[0], Y: aux.Extent[1], Z: aux.Extent[2]}
	}
	return nil
}

// MarshalJSON writes the entry back out. Entries that were read from a file
// are emitted unchanged.
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}
	idRaw, err := json.Marshal(b.ID)
	if err != nil {
		return nil, err
	}
	aux := boundingBoxJSON{
		Class:    b.Class,
		ID:       idRaw,
		TypeID:   b.TypeID,
		BaseType: b.BaseType,
		Location: []float64{b.Location.X, b.Location.Y, b.Location.Z},
		Rotation: []float64{b.Rotation.Pitch, b.Rotation.Roll, b.Rotation.Yaw},
	}
	if b.Extent != nil {
		aux.Extent = []float64{b.Extent.X, b.Extent.Y, b.Extent.Z}
	}
	return json.Marshal(aux)
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Frame is the annotation of one simulation step.
type Frame struct {
	BoundingBoxes []BoundingBox
	Weather       Weather

	// fields holds every top-level key as read.
	fields map[string]json.RawMessage
}

// UnmarshalJSON decodes a frame, keeping keys it does not interpret.
func (f *Frame) UnmarshalJSON(data []byte) error {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var boxes []BoundingBox
	if raw, ok := fields["bounding_boxes"]; ok {
		if err := json.Unmarshal(raw, &boxes); err != nil {
			return fmt.Errorf("bounding_boxes: %w", err)
		}
	}

	raw, ok := fields["weather"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ErrMissingWeather
	}
	var weather Weather
	if err := json.Unmarshal(raw, &weather); err != nil {
		return fmt.Errorf("weather: %w", err)
	}

	*f = Frame{
		BoundingBoxes: boxes,
		Weather:       weather,
		fields:        fields,
	}
	return nil
}

// MarshalJSON encodes the frame with its current boxes.
func (f Frame) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(f.fields)+2)
	for k, v := range f.fields {
		out[k] = v
	}

	boxes := f.BoundingBoxes
	if boxes == nil {
		boxes = []BoundingBox{}
	}
	raw, err := json.Marshal(boxes)
	if err != nil {
		return nil, err
	}
	out["bounding_boxes"] = raw

	if _, ok := out["weather"]; !ok {
		w, err := json.Marshal(f.Weather)
		if err != nil {
			return nil, err
		}
		out["weather"] = w
	}
	return json.Marshal(out)
}

// WithExtra returns a copy of f whose box list is the original boxes
// followed by extra.
func (f *Frame) WithExtra(extra ...BoundingBox) *Frame {
	boxes := make([]BoundingBox, 0, len(f.BoundingBoxes)+len(extra))
	boxes = append(boxes, f.BoundingBoxes...)
	boxes = append(boxes, extra...)
	return &Frame{
		BoundingBoxes: boxes,
		Weather:       f.Weather,
		fields:        f.fields,
	}
}

// PresentIDs returns the set of actor ids annotated in the frame.
func (f *Frame) PresentIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(f.BoundingBoxes))
	for _, bb := range f.BoundingBoxes {
		ids[bb.ID] = struct{}{}
	}
	return ids
}

// Ego returns the ego entry, if the frame has one.
func (f *Frame) Ego() (BoundingBox, bool) {
	for _, bb := range f.BoundingBoxes {
		if bb.Class == ClassEgoVehicle {
			return bb, true
		}
	}
	return BoundingBox{}, false
}
