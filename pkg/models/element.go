package models

// PageElement is one visible interactive element, flattened out of the
// DOM with coordinates derived from its bounding box. The center point
// is what coordinate-based actions aim at.
type PageElement struct {
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Type     string `json:"type,omitempty"` // button, input, link, select, textarea
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	CenterX  int    `json:"centerX"`
	CenterY  int    `json:"centerY"`
}
