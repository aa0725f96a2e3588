// Package models holds the scene data model shared by every scenesync
// component: elements, binary files, app state, and the signatures used to
// detect content changes cheaply.
package models

// Element is one drawable object. Updated is epoch milliseconds.
type Element struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Version      int64        `json:"version"`
	VersionNonce int64        `json:"versionNonce"`
	Updated      int64        `json:"updated"`
	IsDeleted    bool         `json:"isDeleted"`
	X            float64      `json:"x"`
	Y            float64      `json:"y"`
	Width        float64      `json:"width"`
	Height       float64      `json:"height"`
	Angle        float64      `json:"angle"`
	Points       [][2]float64 `json:"points,omitempty"`
	Text         string       `json:"text,omitempty"`
	FileID       string       `json:"fileId,omitempty"`
	Status       string       `json:"status,omitempty"`
}

// IsRenderable reports whether the element would be drawn.
func (e Element) IsRenderable() bool {
	return !e.IsDeleted
}

// Clone copies e including its points.
func (e Element) Clone() Element {
	if e.Points != nil {
		pts := make([][2]float64, len(e.Points))
		copy(pts, e.Points)
		e.Points = pts
	}
	return e
}

func CloneElements(elements []Element) []Element {
	if elements == nil {
		return nil
	}
	out := make([]Element, len(elements))
	for i := range elements {
		out[i] = elements[i].Clone()
	}
	return out
}

func CountRenderable(elements []Element) int {
	n := 0
	for i := range elements {
		if elements[i].IsRenderable() {
			n++
		}
	}
	return n
}

func HasRenderable(elements []Element) bool {
	for i := range elements {
		if elements[i].IsRenderable() {
			return true
		}
	}
	return false
}
