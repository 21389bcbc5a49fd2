package canvas

import (
	"encoding/json"
	"flag"
	"testing"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestNewIdOrder(t *testing.T) {
	// ulids from the same source are ordered by create time.
	// the loopback log relies on this for append order.
	a := NewId()
	for i := 0; i < 4096; i++ {
		b := NewId()
		assert.Equal(t, a < b, true)
		a = b
	}
}

func TestColorChannels(t *testing.T) {
	color := Argb(0x12, 0x34, 0x56, 0x78)
	assert.Equal(t, color.Alpha(), uint8(0x12))
	assert.Equal(t, color.Red(), uint8(0x34))
	assert.Equal(t, color.Green(), uint8(0x56))
	assert.Equal(t, color.Blue(), uint8(0x78))
	assert.Equal(t, Color(0x12345678).String(), "#12345678")

	assert.Equal(t, Argb(0xff, 0xff, 0xff, 0xff), ColorWhite)
	assert.Equal(t, Argb(0xff, 0, 0, 0), ColorBlack)
}

func TestStrokeJsonCodec(t *testing.T) {
	stroke := Stroke{
		Id:          "s1",
		Points:      []Point{{X: 1.5, Y: 2.5}},
		Color:       Color(0xFFFF0000),
		StrokeWidth: 8,
		AuthorId:    "u1",
	}

	strokeJson, err := json.Marshal(stroke)
	assert.Equal(t, err, nil)

	var decoded Stroke
	err = json.Unmarshal(strokeJson, &decoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, stroke)
}

func TestStrokeCopy(t *testing.T) {
	stroke := Stroke{
		Id:     "s1",
		Points: []Point{{X: 1, Y: 1}},
	}
	copied := stroke.Copy()
	copied.Points[0].X = 99

	assert.Equal(t, stroke.Points[0].X, float32(1))
}
