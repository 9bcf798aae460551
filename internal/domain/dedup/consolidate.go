package dedup

import (
	"sort"

	"github.com/google/uuid"
)

type disjointSet struct {
	parent map[uuid.UUID]uuid.UUID
	rank   map[uuid.UUID]int
}

func newDisjointSet() *disjointSet {
	return &disjointSet{
		parent: map[uuid.UUID]uuid.UUID{},
		rank:   map[uuid.UUID]int{},
	}
}

func (d *disjointSet) add(id uuid.UUID) {
	if _, ok := d.parent[id]; !ok {
		d.parent[id] = id
	}
}

func (d *disjointSet) find(id uuid.UUID) uuid.UUID {
	p := d.parent[id]
	if p == id {
		return id
	}
	root := d.find(p)
	d.parent[id] = root
	return root
}

func (d *disjointSet) union(a, b uuid.UUID) {
	ra := d.find(a)
	rb := d.find(b)
	if ra == rb {
		return
	}
	if d.rank[ra] < d.rank[rb] {
		d.parent[ra] = rb
		return
	}
	if d.rank[ra] > d.rank[rb] {
		d.parent[rb] = ra
		return
	}
	d.parent[rb] = ra
	d.rank[ra]++
}

// Consolidate merges groups that share at least one patient, transitively, so
// every patient id appears in at most one output group. Members are ordered by
// first appearance in the input groups.
func Consolidate(groups []DuplicateGroup) []DuplicateGroup {
	position := make(map[uuid.UUID]int)
	for _, g := range groups {
		for _, p := range g.Patients {
			if _, ok := position[p.ID]; !ok {
				position[p.ID] = len(position)
			}
		}
	}
	return consolidate(groups, position)
}

type component struct {
	groups  []DuplicateGroup
	members []Patient
	seen    map[uuid.UUID]bool
}

// consolidate unions overlapping groups with a disjoint set over patient ids.
// position gives each patient's rank in the snapshot; members and output
// groups are ordered by it so the anchor is the earliest patient.
func consolidate(groups []DuplicateGroup, position map[uuid.UUID]int) []DuplicateGroup {
	ds := newDisjointSet()
	for _, g := range groups {
		for i, p := range g.Patients {
			ds.add(p.ID)
			if i > 0 {
				ds.union(g.Patients[0].ID, p.ID)
			}
		}
	}

	components := make(map[uuid.UUID]*component)
	var ordered []*component
	for _, g := range groups {
		if len(g.Patients) == 0 {
			continue
		}
		root := ds.find(g.Patients[0].ID)
		c, ok := components[root]
		if !ok {
			c = &component{seen: make(map[uuid.UUID]bool)}
			components[root] = c
			ordered = append(ordered, c)
		}
		c.groups = append(c.groups, g)
		for _, p := range g.Patients {
			if c.seen[p.ID] {
				continue
			}
			c.seen[p.ID] = true
			c.members = append(c.members, p)
		}
	}

	rank := func(id uuid.UUID) int {
		if r, ok := position[id]; ok {
			return r
		}
		return len(position)
	}

	out := make([]DuplicateGroup, 0, len(ordered))
	for _, c := range ordered {
		if len(c.members) < 2 {
			continue
		}
		sort.SliceStable(c.members, func(i, j int) bool {
			return rank(c.members[i].ID) < rank(c.members[j].ID)
		})
		reason, confidence := classify(c.groups)
		out = append(out, newGroup(c.members, reason, confidence))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Patients[0].ID) < rank(out[j].Patients[0].ID)
	})
	return out
}

// classify derives reason and confidence for a component. The lead group is
// the first one emitted. Any identifier match makes the component high
// confidence, and "combined" when other groups were absorbed with it.
func classify(groups []DuplicateGroup) (Reason, Confidence) {
	lead := groups[0]
	if len(groups) == 1 {
		return lead.Reason, lead.Confidence
	}

	hasIdentifier := false
	high := false
	for _, g := range groups {
		if g.Reason == ReasonIdentifier {
			hasIdentifier = true
		}
		if g.Confidence == ConfidenceHigh {
			high = true
		}
	}

	switch {
	case hasIdentifier:
		return ReasonCombined, ConfidenceHigh
	case high:
		return lead.Reason, ConfidenceHigh
	default:
		return lead.Reason, ConfidenceMedium
	}
}
