package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComputeStatistics reduces consolidated groups to summary counts.
func ComputeStatistics(groups []DuplicateGroup) Statistics {
	var s Statistics
	for _, g := range groups {
		s.GroupCount++
		s.TotalDuplicates += len(g.Patients) - 1
		switch g.Confidence {
		case ConfidenceHigh:
			s.HighConfidenceCount++
		case ConfidenceMedium:
			s.MediumConfidenceCount++
		case ConfidenceLow:
			s.LowConfidenceCount++
		}
	}
	return s
}

// FindDuplicateGroups runs every matcher over the snapshot and consolidates
// their findings. The result is deterministic for a given input order.
func FindDuplicateGroups(patients []Patient, opts Options) []DuplicateGroup {
	opts = opts.orDefault()

	position := make(map[uuid.UUID]int, len(patients))
	for i, p := range patients {
		if _, ok := position[p.ID]; !ok {
			position[p.ID] = i
		}
	}

	var pooled []DuplicateGroup
	pooled = append(pooled, MatchByIdentifier(patients)...)
	pooled = append(pooled, MatchByNameAndBirthDate(patients)...)
	pooled = append(pooled, MatchFuzzy(patients, opts)...)
	return consolidate(pooled, position)
}

// DetectDuplicates returns the duplicate statistics for a patient snapshot.
func DetectDuplicates(patients []Patient) Statistics {
	return ComputeStatistics(FindDuplicateGroups(patients, DefaultOptions()))
}

// Detect builds a full report for a snapshot.
func Detect(patients []Patient, opts Options) *Report {
	opts = opts.orDefault()
	groups := FindDuplicateGroups(patients, opts)
	return &Report{
		GeneratedAt:  time.Now().UTC(),
		Fingerprint:  Fingerprint(patients, opts),
		PatientCount: len(patients),
		Groups:       groups,
		Statistics:   ComputeStatistics(groups),
	}
}

// Fingerprint hashes every reported patient field plus the options, so two
// snapshots with the same fingerprint yield the same report.
func Fingerprint(patients []Patient, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v|%d|%v|%v|%v|%v;", opts.FuzzyThreshold, opts.BirthDateWindowDays,
		opts.BirthDateProximity, opts.LastNameWeight, opts.FirstNameWeight, opts.BirthDateWeight)
	for _, p := range patients {
		birth := ""
		if p.BirthDate != nil {
			birth = NormalizeDate(*p.BirthDate)
		}
		fmt.Fprintf(h, "%s|%q|%q|%q|%s|%q|%q;", p.ID, p.LastName, p.FirstName, p.ExternalID, birth,
			deref(p.Address), deref(p.Phone))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
