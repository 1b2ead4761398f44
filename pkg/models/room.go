package models

// Room is one detected region in a blueprint, as produced by the detection
// collaborator. Coordinates are pixel positions in the source image.
type Room struct {
	ID        string   `json:"id"`
	Lines     []Line   `json:"lines,omitempty"`
	Polygon   [][2]int `json:"polygon"`
	Area      float64  `json:"area"`
	Perimeter float64  `json:"perimeter"`
}

// Line is a single wall segment of a room polygon.
type Line struct {
	Start [2]int `json:"start"`
	End   [2]int `json:"end"`
}
