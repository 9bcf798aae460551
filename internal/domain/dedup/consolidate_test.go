package dedup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func group(reason Reason, confidence Confidence, members ...Patient) DuplicateGroup {
	return newGroup(members, reason, confidence)
}

func TestConsolidate_TransitiveClosure(t *testing.T) {
	p1 := patientN(1, "A", "A", "", nil)
	p2 := patientN(2, "B", "B", "", nil)
	p3 := patientN(3, "C", "C", "", nil)
	p4 := patientN(4, "D", "D", "", nil)

	// {1,2} only touches {2,3}; {3,4} only touches {2,3}, and comes before it.
	in := []DuplicateGroup{
		group(ReasonIdentifier, ConfidenceHigh, p1, p2),
		group(ReasonNameAndBirthDate, ConfidenceHigh, p3, p4),
		group(ReasonFuzzy, ConfidenceMedium, p2, p3),
	}

	out := Consolidate(in)
	require.Len(t, out, 1)
	assert.Equal(t, []uuid.UUID{pid(1), pid(2), pid(3), pid(4)}, ids(out[0].Patients))
	assert.Equal(t, ReasonCombined, out[0].Reason)
	assert.Equal(t, ConfidenceHigh, out[0].Confidence)
}

func TestConsolidate_DisjointGroupsUnchanged(t *testing.T) {
	a := group(ReasonIdentifier, ConfidenceHigh, patientN(1, "A", "A", "", nil), patientN(2, "A", "A", "", nil))
	b := group(ReasonFuzzy, ConfidenceMedium, patientN(3, "B", "B", "", nil), patientN(4, "B", "B", "", nil))

	out := Consolidate([]DuplicateGroup{a, b})
	require.Len(t, out, 2)
	assert.Equal(t, a, out[0])
	assert.Equal(t, b, out[1])
}

func TestConsolidate_NoRepeatedIDs(t *testing.T) {
	p := []Patient{
		patientN(1, "A", "A", "", nil),
		patientN(2, "B", "B", "", nil),
		patientN(3, "C", "C", "", nil),
		patientN(4, "D", "D", "", nil),
		patientN(5, "E", "E", "", nil),
	}
	in := []DuplicateGroup{
		group(ReasonIdentifier, ConfidenceHigh, p[0], p[1]),
		group(ReasonNameAndBirthDate, ConfidenceHigh, p[0], p[1]),
		group(ReasonFuzzy, ConfidenceMedium, p[1], p[0], p[2]),
		group(ReasonFuzzy, ConfidenceMedium, p[3], p[4]),
	}

	seen := map[uuid.UUID]bool{}
	for _, g := range Consolidate(in) {
		assert.GreaterOrEqual(t, len(g.Patients), 2)
		for _, m := range g.Patients {
			assert.False(t, seen[m.ID], "patient %s appears twice", m.ID)
			seen[m.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestConsolidate_Classification(t *testing.T) {
	p1 := patientN(1, "A", "A", "", nil)
	p2 := patientN(2, "B", "B", "", nil)
	p3 := patientN(3, "C", "C", "", nil)

	tests := []struct {
		name           string
		in             []DuplicateGroup
		wantReason     Reason
		wantConfidence Confidence
	}{
		{
			name:           "lone identifier group keeps its reason",
			in:             []DuplicateGroup{group(ReasonIdentifier, ConfidenceHigh, p1, p2)},
			wantReason:     ReasonIdentifier,
			wantConfidence: ConfidenceHigh,
		},
		{
			name: "identifier absorbed into fuzzy becomes combined",
			in: []DuplicateGroup{
				group(ReasonFuzzy, ConfidenceMedium, p1, p3),
				group(ReasonIdentifier, ConfidenceHigh, p1, p2),
			},
			wantReason:     ReasonCombined,
			wantConfidence: ConfidenceHigh,
		},
		{
			name: "name match with fuzzy stays high",
			in: []DuplicateGroup{
				group(ReasonNameAndBirthDate, ConfidenceHigh, p1, p2),
				group(ReasonFuzzy, ConfidenceMedium, p2, p3),
			},
			wantReason:     ReasonNameAndBirthDate,
			wantConfidence: ConfidenceHigh,
		},
		{
			name: "fuzzy only is medium",
			in: []DuplicateGroup{
				group(ReasonFuzzy, ConfidenceMedium, p1, p2),
				group(ReasonFuzzy, ConfidenceMedium, p2, p3),
			},
			wantReason:     ReasonFuzzy,
			wantConfidence: ConfidenceMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Consolidate(tt.in)
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantReason, out[0].Reason)
			assert.Equal(t, tt.wantConfidence, out[0].Confidence)
		})
	}
}

func TestGroupID_IndependentOfOrderAndReason(t *testing.T) {
	p1 := patientN(1, "A", "A", "", nil)
	p2 := patientN(2, "B", "B", "", nil)
	p3 := patientN(3, "C", "C", "", nil)

	a := group(ReasonIdentifier, ConfidenceHigh, p1, p2)
	b := group(ReasonFuzzy, ConfidenceMedium, p2, p1)
	c := group(ReasonFuzzy, ConfidenceMedium, p1, p3)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, uuid.Version(5), a.ID.Version())
}
