package dedup

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Options tunes the fuzzy matcher.
type Options struct {
	// FuzzyThreshold is the score a pair must exceed (strictly) to match.
	FuzzyThreshold float64
	// BirthDateWindowDays is the inclusive distance, in calendar days, under
	// which two birth dates count as close.
	BirthDateWindowDays int
	// BirthDateProximity is the proximity score given to close birth dates.
	BirthDateProximity float64

	LastNameWeight  float64
	FirstNameWeight float64
	BirthDateWeight float64
}

// DefaultOptions returns the standard scoring parameters.
func DefaultOptions() Options {
	return Options{
		FuzzyThreshold:      0.8,
		BirthDateWindowDays: 30,
		BirthDateProximity:  0.8,
		LastNameWeight:      0.4,
		FirstNameWeight:     0.4,
		BirthDateWeight:     0.2,
	}
}

// orDefault substitutes the defaults for an unset Options value.
func (o Options) orDefault() Options {
	if o == (Options{}) {
		return DefaultOptions()
	}
	return o
}

// StringSimilarity returns 1 - editDistance/max(len(a), len(b)) over runes.
// If either string is empty the result is 1 when both are equal, else 0.
func StringSimilarity(a, b string) float64 {
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		if a == b {
			return 1
		}
		return 0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// fuzzyKey holds the normalized fields compared by the pairwise scorer.
type fuzzyKey struct {
	lastName  string
	firstName string
	birthDay  int64
	hasBirth  bool
}

func newFuzzyKey(p Patient) fuzzyKey {
	k := fuzzyKey{
		lastName:  NormalizeName(p.LastName),
		firstName: NormalizeName(p.FirstName),
	}
	if p.BirthDate != nil {
		k.birthDay = calendarDay(*p.BirthDate)
		k.hasBirth = true
	}
	return k
}

func (o Options) birthDateProximity(a, b fuzzyKey) float64 {
	if !a.hasBirth || !b.hasBirth {
		return 0
	}
	diff := a.birthDay - b.birthDay
	if diff < 0 {
		diff = -diff
	}
	if diff <= int64(o.BirthDateWindowDays) {
		return o.BirthDateProximity
	}
	return 0
}

func (o Options) score(a, b fuzzyKey) float64 {
	return o.LastNameWeight*StringSimilarity(a.lastName, b.lastName) +
		o.FirstNameWeight*StringSimilarity(a.firstName, b.firstName) +
		o.BirthDateWeight*o.birthDateProximity(a, b)
}

// Similarity scores how likely p1 and p2 are the same person. It is symmetric.
func (o Options) Similarity(p1, p2 Patient) float64 {
	return o.score(newFuzzyKey(p1), newFuzzyKey(p2))
}

// PatientSimilarity scores a pair with the default options.
func PatientSimilarity(p1, p2 Patient) float64 {
	return DefaultOptions().Similarity(p1, p2)
}

// MatchFuzzy clusters near-duplicates with a greedy single-link pass: each
// unassigned patient, in input order, seeds a cluster with every later
// unassigned patient scoring above the threshold against it. This is O(n²).
func MatchFuzzy(patients []Patient, opts Options) []DuplicateGroup {
	keys := make([]fuzzyKey, len(patients))
	for i, p := range patients {
		keys[i] = newFuzzyKey(p)
	}

	assigned := make([]bool, len(patients))
	var groups []DuplicateGroup
	for i := range patients {
		if assigned[i] {
			continue
		}
		cluster := []int{i}
		for j := i + 1; j < len(patients); j++ {
			if assigned[j] || patients[j].ID == patients[i].ID {
				continue
			}
			if opts.score(keys[i], keys[j]) > opts.FuzzyThreshold {
				cluster = append(cluster, j)
				assigned[j] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}
		assigned[i] = true
		groups = append(groups, newGroup(pick(patients, cluster), ReasonFuzzy, ConfidenceMedium))
	}
	return groups
}
