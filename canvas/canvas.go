package canvas

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// NewId returns a new lexicographically sortable id.
// ulids from the same source are ordered by create time,
// which keeps loopback stroke logs in append order.
func NewId() string {
	return ulid.Make().String()
}

// Color is a 32-bit packed argb color.
type Color uint32

const (
	ColorBlack Color = 0xFF000000
	ColorWhite Color = 0xFFFFFFFF
)

func Argb(a uint8, r uint8, g uint8, b uint8) Color {
	return Color(a)<<24 | Color(r)<<16 | Color(g)<<8 | Color(b)
}

func (self Color) Alpha() uint8 {
	return uint8(self >> 24)
}

func (self Color) Red() uint8 {
	return uint8(self >> 16)
}

func (self Color) Green() uint8 {
	return uint8(self >> 8)
}

func (self Color) Blue() uint8 {
	return uint8(self)
}

func (self Color) String() string {
	return fmt.Sprintf("#%08x", uint32(self))
}

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Stroke is one continuous freehand gesture.
// `Id` is empty for client-authored strokes and is assigned by the log
// on acceptance. Once assigned it is immutable and used as the merge key.
type Stroke struct {
	Id          string  `json:"id,omitempty"`
	Points      []Point `json:"points"`
	Color       Color   `json:"color"`
	StrokeWidth float32 `json:"stroke_width"`
	AuthorId    string  `json:"author_id"`
}

func (self *Stroke) Copy() Stroke {
	stroke := *self
	stroke.Points = append([]Point{}, self.Points...)
	return stroke
}

// TextObject is a positioned text item keyed by its own id.
// Updates are last-write-wins by id.
type TextObject struct {
	Id       string  `json:"id"`
	Text     string  `json:"text"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	Color    Color   `json:"color"`
	FontSize float32 `json:"font_size"`
}

// UserProfile is one per authenticated user.
// `PairingId` is empty until the user joins a pairing.
type UserProfile struct {
	Uid       string `json:"uid"`
	Mood      string `json:"mood"`
	PairingId string `json:"pairing_id,omitempty"`
}

func (self *UserProfile) Paired() bool {
	return self.PairingId != ""
}

func (self *UserProfile) Copy() *UserProfile {
	profile := *self
	return &profile
}
