package enrich

// Beat marks a structural story beat at a scene position.
type Beat struct {
	Name     string  `json:"name"`
	SceneIdx int     `json:"scene_idx"`
	Position float64 `json:"position"` // fraction of the scene count, 0..1
}

// beatWindows are the canonical position windows, as fractions of the scene
// count. The beat lands on the scene closest to the window's midpoint.
var beatWindows = []struct {
	name string
	lo   float64
	hi   float64
}{
	{"opening image", 0.00, 0.05},
	{"inciting incident", 0.08, 0.25},
	{"first act break", 0.20, 0.30},
	{"midpoint", 0.45, 0.55},
	{"second act break", 0.70, 0.80},
	{"climax", 0.85, 0.95},
	{"resolution", 0.95, 1.00},
}

// placeBeats assigns each beat to a scene. Scripts with too few scenes for
// distinct beats get the beats that fit; duplicates collapse onto the same
// scene only when the script is very short.
func placeBeats(scenes []Scene) []Beat {
	total := len(scenes)
	if total == 0 {
		return nil
	}
	beats := make([]Beat, 0, len(beatWindows))
	for _, window := range beatWindows {
		mid := (window.lo + window.hi) / 2
		idx := int(mid*float64(total) + 0.5)
		if idx < 1 {
			idx = 1
		}
		if idx > total {
			idx = total
		}
		beats = append(beats, Beat{
			Name:     window.name,
			SceneIdx: idx,
			Position: float64(idx) / float64(total),
		})
	}
	return beats
}
