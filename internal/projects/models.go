package projects

import "time"

// Project lifecycle values. These mirror the pipeline loosely; the task queue
// is authoritative for in-flight state, the project status is presentation.
const (
	ProjectStatusDraft     = "draft"
	ProjectStatusProducing = "producing"
	ProjectStatusRendered  = "rendered"
	ProjectStatusFailed    = "failed"
)

// Project is the top-level production unit: one screenplay or story being
// turned into a storyboarded, rendered sequence.
type Project struct {
	ID           string
	Title        string
	Synopsis     string
	Style        string
	Status       string
	CoverImage   string
	VideoPath    string
	ShotCount    int
	LockedByTask int64 // 0 when unlocked
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Locked reports whether a generation task currently owns the project.
func (p Project) Locked() bool { return p.LockedByTask != 0 }

// Shot statuses.
const (
	ShotStatusPlanned  = "planned"
	ShotStatusStill    = "still"    // still image rendered
	ShotStatusAnimated = "animated" // video clip rendered
	ShotStatusFailed   = "failed"
)

// Shot is a single storyboard entry within a project.
type Shot struct {
	ID          string
	ProjectID   string
	Idx         int
	Title       string
	Description string
	Prompt      string
	Status      string
	ImagePath   string
	VideoPath   string
	Transition  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MicroShot is a sub-clip of a shot, used when one storyboard entry is split
// into several short generated clips.
type MicroShot struct {
	ID        string
	ShotID    string
	Idx       int
	Prompt    string
	Status    string
	VideoPath string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Character is a named figure extracted from or added to a project.
type Character struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	ImagePath   string
	CreatedAt   time.Time
}

// Location is a recurring setting extracted from scene headings.
type Location struct {
	ID        string
	ProjectID string
	Name      string
	Interior  bool
	CreatedAt time.Time
}

// ContinuityLock records which attributes of a subject must not change
// between shots. Attributes are stored as a flat string map and enforced by
// field equality (see the continuity package).
type ContinuityLock struct {
	ID          string
	ProjectID   string
	SubjectType string // "character", "location", or "prop"
	SubjectID   string
	Attributes  map[string]string
	CreatedAt   time.Time
}
