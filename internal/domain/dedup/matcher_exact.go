package dedup

import "strings"

// buckets groups input positions by key, remembering the order in which keys
// were first seen so output is deterministic.
type buckets struct {
	keys    []string
	members map[string][]int
}

func newBuckets() *buckets {
	return &buckets{members: make(map[string][]int)}
}

func (b *buckets) add(key string, idx int) {
	if _, ok := b.members[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.members[key] = append(b.members[key], idx)
}

// MatchByIdentifier groups patients sharing the same non-empty external
// identifier. Groups are high confidence.
func MatchByIdentifier(patients []Patient) []DuplicateGroup {
	b := newBuckets()
	for i, p := range patients {
		id := NormalizeIdentifier(p.ExternalID)
		if id == "" {
			continue
		}
		b.add(id, i)
	}

	var groups []DuplicateGroup
	for _, key := range b.keys {
		idx := b.members[key]
		if len(idx) < 2 {
			continue
		}
		groups = append(groups, newGroup(pick(patients, idx), ReasonIdentifier, ConfidenceHigh))
	}
	return groups
}

// nameBirthKey builds the composite lookup key. Patients without a birth date
// or without any name are not keyed.
func nameBirthKey(p Patient) (string, bool) {
	if p.BirthDate == nil {
		return "", false
	}
	last := NormalizeName(p.LastName)
	first := NormalizeName(p.FirstName)
	if last == "" && first == "" {
		return "", false
	}
	return last + "_" + first + "_" + NormalizeDate(*p.BirthDate), true
}

// identity is the raw triple every member of a name+birthdate group must share.
type identity struct {
	lastName  string
	firstName string
	birthDate string
}

func rawIdentity(p Patient) identity {
	return identity{
		lastName:  strings.TrimSpace(p.LastName),
		firstName: strings.TrimSpace(p.FirstName),
		birthDate: NormalizeDate(*p.BirthDate),
	}
}

// MatchByNameAndBirthDate groups patients with the same normalized last name,
// first name and birth date. Candidate groups are re-verified against the raw
// names so a key collision can never merge different people.
func MatchByNameAndBirthDate(patients []Patient) []DuplicateGroup {
	b := newBuckets()
	for i, p := range patients {
		key, ok := nameBirthKey(p)
		if !ok {
			continue
		}
		b.add(key, i)
	}

	var groups []DuplicateGroup
	for _, key := range b.keys {
		idx := b.members[key]
		if len(idx) < 2 {
			continue
		}
		for _, verified := range splitByIdentity(patients, idx) {
			if len(verified) < 2 {
				continue
			}
			groups = append(groups, newGroup(pick(patients, verified), ReasonNameAndBirthDate, ConfidenceHigh))
		}
	}
	return groups
}

// splitByIdentity partitions a candidate bucket into runs of patients whose
// raw identity is identical, keeping input order.
func splitByIdentity(patients []Patient, idx []int) [][]int {
	var order []identity
	parts := make(map[identity][]int)
	for _, i := range idx {
		id := rawIdentity(patients[i])
		if _, ok := parts[id]; !ok {
			order = append(order, id)
		}
		parts[id] = append(parts[id], i)
	}
	out := make([][]int, 0, len(order))
	for _, id := range order {
		out = append(out, parts[id])
	}
	return out
}

func pick(patients []Patient, idx []int) []Patient {
	out := make([]Patient, len(idx))
	for i, j := range idx {
		out[i] = patients[j]
	}
	return out
}
