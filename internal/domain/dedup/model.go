package dedup

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reason names the heuristic that produced a duplicate group.
type Reason string

const (
	ReasonIdentifier       Reason = "identifier"
	ReasonNameAndBirthDate Reason = "nameAndBirthdate"
	ReasonFuzzy            Reason = "fuzzy"
	ReasonCombined         Reason = "combined"
)

// Confidence is the qualitative trust level attached to a group.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Patient is the identity view of a patient used by the matchers and the
// merge executor (decoupled from the persistence model).
type Patient struct {
	ID         uuid.UUID  `json:"id"`
	LastName   string     `json:"last_name"`
	FirstName  string     `json:"first_name"`
	ExternalID string     `json:"external_id,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`
	Address    *string    `json:"address,omitempty"`
	Phone      *string    `json:"phone,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RecordKind identifies the concrete type of a dependent record.
type RecordKind string

const (
	RecordCareSheet    RecordKind = "care_sheet"
	RecordPrescription RecordKind = "prescription"
)

// DependentRecord is any record holding a foreign key to a patient.
type DependentRecord struct {
	ID        uuid.UUID  `json:"id"`
	Kind      RecordKind `json:"kind"`
	PatientID uuid.UUID  `json:"patient_id"`
}

// DuplicateGroup is a set of patients that likely represent the same person.
// Patients[0] is the anchor that survives a merge.
type DuplicateGroup struct {
	ID         uuid.UUID  `json:"id"`
	Patients   []Patient  `json:"patients"`
	Reason     Reason     `json:"reason"`
	Confidence Confidence `json:"confidence"`
}

// Anchor returns the member that survives a merge of this group.
func (g DuplicateGroup) Anchor() Patient {
	return g.Patients[0]
}

// PatientIDs returns the member ids in group order.
func (g DuplicateGroup) PatientIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(g.Patients))
	for i, p := range g.Patients {
		ids[i] = p.ID
	}
	return ids
}

// Contains reports whether id is a member of the group.
func (g DuplicateGroup) Contains(id uuid.UUID) bool {
	for _, p := range g.Patients {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Statistics summarises a consolidated result set.
type Statistics struct {
	TotalDuplicates       int `json:"total_duplicates"`
	GroupCount            int `json:"group_count"`
	HighConfidenceCount   int `json:"high_confidence_count"`
	MediumConfidenceCount int `json:"medium_confidence_count"`
	LowConfidenceCount    int `json:"low_confidence_count"`
}

// Report is the full output of one detection run.
type Report struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Fingerprint  string           `json:"fingerprint"`
	PatientCount int              `json:"patient_count"`
	Groups       []DuplicateGroup `json:"groups"`
	Statistics   Statistics       `json:"statistics"`
}

// Group returns the group with the given id.
func (r *Report) Group(id uuid.UUID) (DuplicateGroup, bool) {
	for _, g := range r.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return DuplicateGroup{}, false
}

// groupNamespace seeds the name-based UUIDs used as group ids.
var groupNamespace = uuid.MustParse("6f1c9a52-3d0e-4c1b-9a7e-2b8d5e4f7a10")

// groupID derives a stable id from the member set, independent of member order
// and of the reason that produced the group.
func groupID(members []Patient) uuid.UUID {
	keys := make([]string, len(members))
	for i, p := range members {
		keys[i] = p.ID.String()
	}
	sort.Strings(keys)
	return uuid.NewSHA1(groupNamespace, []byte(strings.Join(keys, ",")))
}

func newGroup(members []Patient, reason Reason, confidence Confidence) DuplicateGroup {
	return DuplicateGroup{
		ID:         groupID(members),
		Patients:   members,
		Reason:     reason,
		Confidence: confidence,
	}
}
