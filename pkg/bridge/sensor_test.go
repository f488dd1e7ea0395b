package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorFrameRoundTrip(t *testing.T) {
	in := SensorFrame{
		SensorID: 42,
		Frame:    1 << 40,
		Points:   []float32{1.5, -2.25, 0.125, 0.75, 10, 20, 30, 0},
	}

	data := EncodeSensorFrame(in)
	require.Len(t, data, SensorHeaderSize+4*len(in.Points))

	out, err := DecodeSensorFrame(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeSensorFrameErrors(t *testing.T) {
	_, err := DecodeSensorFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortFrame)

	data := EncodeSensorFrame(SensorFrame{SensorID: 1, Frame: 1, Points: []float32{1, 2, 3}})
	_, err = DecodeSensorFrame(data)
	assert.Error(t, err)
}

func TestDecodeEmptyBody(t *testing.T) {
	out, err := DecodeSensorFrame(EncodeSensorFrame(SensorFrame{SensorID: 7, Frame: 3}))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), out.SensorID)
	assert.Equal(t, uint64(3), out.Frame)
	assert.Empty(t, out.Points)
}
