package dedup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrorKind classifies a merge failure.
type ErrorKind string

const (
	// KindValidation: the decision or group is inconsistent; nothing was written.
	KindValidation ErrorKind = "validation"
	// KindPersistence: a write before the delete phase failed; nothing was deleted.
	KindPersistence ErrorKind = "persistence"
	// KindPartial: all writes succeeded but deletion failed or never started.
	KindPartial ErrorKind = "partial"
)

// Step names a stage of the merge pipeline.
type Step string

const (
	StepValidate Step = "validate"
	StepLoad     Step = "load"
	StepUpsert   Step = "upsert"
	StepRewrite  Step = "rewrite"
	StepDelete   Step = "delete"
)

var (
	ErrValidation    = errors.New("merge validation failed")
	ErrPersistence   = errors.New("merge write failed")
	ErrPartialMerge  = errors.New("merge partially applied")
	ErrGroupNotFound = errors.New("duplicate group not found")
)

// MergeError is the typed failure returned by the merge pipeline.
type MergeError struct {
	Kind    ErrorKind
	Step    Step
	GroupID uuid.UUID
	// RecordID is set when a specific dependent record could not be rewritten.
	RecordID uuid.UUID
	// Deleted and Pending are set for partial merges.
	Deleted []uuid.UUID
	Pending []uuid.UUID
	Msg     string
	Err     error
}

func (e *MergeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "merge %s failed at %s", e.Kind, e.Step)
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *MergeError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrPersistence:
		return e.Kind == KindPersistence
	case ErrPartialMerge:
		return e.Kind == KindPartial
	}
	return false
}

// RetrySafe reports whether replaying the same merge can complete it.
// Validation failures need a corrected decision instead.
func (e *MergeError) RetrySafe() bool {
	return e.Kind != KindValidation
}

func validationError(format string, args ...interface{}) *MergeError {
	return &MergeError{Kind: KindValidation, Step: StepValidate, Msg: fmt.Sprintf(format, args...)}
}
