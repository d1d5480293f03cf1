// Package continuity verifies shot attributes against a project's
// continuity locks. Enforcement is field equality: a locked attribute must
// carry exactly the locked value wherever the subject appears.
package continuity

import (
	"fmt"
	"sort"
	"strings"

	"slate/internal/projects"
)

// Violation reports one locked attribute that does not match.
type Violation struct {
	SubjectType string
	SubjectID   string
	Attribute   string
	Want        string
	Got         string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s = %q, locked to %q", v.SubjectType, v.SubjectID, v.Attribute, v.Got, v.Want)
}

// Check compares observed attribute maps against the supplied locks.
// observed is keyed by "subjectType/subjectID"; missing subjects are not
// violations (a character absent from a shot cannot contradict its lock).
func Check(locks []*projects.ContinuityLock, observed map[string]map[string]string) []Violation {
	var violations []Violation
	for _, lock := range locks {
		attrs, ok := observed[SubjectKey(lock.SubjectType, lock.SubjectID)]
		if !ok {
			continue
		}
		keys := make([]string, 0, len(lock.Attributes))
		for key := range lock.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			want := lock.Attributes[key]
			got, present := attrs[key]
			if !present {
				continue
			}
			if !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
				violations = append(violations, Violation{
					SubjectType: lock.SubjectType,
					SubjectID:   lock.SubjectID,
					Attribute:   key,
					Want:        want,
					Got:         got,
				})
			}
		}
	}
	return violations
}

// SubjectKey builds the observed-map key for a lock subject.
func SubjectKey(subjectType, subjectID string) string {
	return subjectType + "/" + subjectID
}
