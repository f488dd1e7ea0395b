package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SensorHeaderSize is the fixed prefix of a binary sensor frame:
// uint32 sensor id followed by uint64 simulation frame.
const SensorHeaderSize = 12

// PointStride is the number of float32 values per lidar return (x, y, z, intensity).
const PointStride = 4

var ErrShortFrame = errors.New("sensor frame shorter than header")

// SensorFrame is one lidar measurement pushed by the bridge.
type SensorFrame struct {
	SensorID uint32
	Frame    uint64
	Points   []float32
}

// EncodeSensorFrame lays out a measurement in little-endian binary form.
func EncodeSensorFrame(f SensorFrame) []byte {
	buf := make([]byte, SensorHeaderSize+4*len(f.Points))
	binary.LittleEndian.PutUint32(buf[0:4], f.SensorID)
	binary.LittleEndian.PutUint64(buf[4:12], f.Frame)
	for i, v := range f.Points {
		binary.LittleEndian.PutUint32(buf[SensorHeaderSize+4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeSensorFrame parses a binary sensor frame.
func DecodeSensorFrame(data []byte) (SensorFrame, error) {
	if len(data) < SensorHeaderSize {
		return SensorFrame{}, ErrShortFrame
	}
	body := data[SensorHeaderSize:]
	if len(body)%(4*PointStride) != 0 {
		return SensorFrame{}, fmt.Errorf("sensor frame body of %d bytes is not a whole number of points", len(body))
	}

	f := SensorFrame{
		SensorID: binary.LittleEndian.Uint32(data[0:4]),
		Frame:    binary.LittleEndian.Uint64(data[4:12]),
		Points:   make([]float32, len(body)/4),
	}
	for i := range f.Points {
		f.Points[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	return f, nil
}
