package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Field is a patient attribute whose surviving value the operator chooses.
type Field string

const (
	FieldLastName   Field = "last_name"
	FieldFirstName  Field = "first_name"
	FieldExternalID Field = "external_id"
	FieldBirthDate  Field = "birth_date"
	FieldAddress    Field = "address"
	FieldPhone      Field = "phone"
)

// RequiredFields must each have a chosen source in a MergeDecision.
var RequiredFields = []Field{FieldLastName, FieldFirstName, FieldExternalID, FieldBirthDate}

// OptionalFields default to the anchor's value when no source is chosen.
var OptionalFields = []Field{FieldAddress, FieldPhone}

func knownField(f Field) bool {
	for _, k := range RequiredFields {
		if k == f {
			return true
		}
	}
	for _, k := range OptionalFields {
		if k == f {
			return true
		}
	}
	return false
}

// MergeDecision is the operator's input for collapsing one group.
type MergeDecision struct {
	// FieldSources maps each field to the group member whose value wins.
	FieldSources map[Field]uuid.UUID `json:"field_sources"`
	// RetainedRecordIDs are the dependent records kept visible in the merged
	// view. Records of removed patients are reassigned to the anchor either way.
	RetainedRecordIDs []uuid.UUID `json:"retained_record_ids"`
}

// RecordRewrite re-points one dependent record at the anchor.
type RecordRewrite struct {
	Record            DependentRecord `json:"record"`
	PreviousPatientID uuid.UUID       `json:"previous_patient_id"`
	Retained          bool            `json:"retained"`
}

// MergePlan is everything a merge will write, computed without side effects.
type MergePlan struct {
	GroupID  uuid.UUID       `json:"group_id"`
	Survivor Patient         `json:"survivor"`
	ToRemove []uuid.UUID     `json:"to_remove"`
	Rewrites []RecordRewrite `json:"rewrites"`
	// Retained lists every retained record id, the anchor's included.
	Retained []uuid.UUID `json:"retained"`
}

// UnretainedCount is the number of rewrites the operator did not retain.
func (p *MergePlan) UnretainedCount() int {
	n := 0
	for _, rw := range p.Rewrites {
		if !rw.Retained {
			n++
		}
	}
	return n
}

// BuildMergePlan validates decision against group and computes the survivor,
// the removal list and the reference rewrites. records may contain records of
// patients outside the group; they are ignored.
func BuildMergePlan(group DuplicateGroup, decision MergeDecision, records []DependentRecord) (*MergePlan, error) {
	if len(group.Patients) < 2 {
		return nil, validationError("group must contain at least two patients, got %d", len(group.Patients))
	}

	members := make(map[uuid.UUID]Patient, len(group.Patients))
	for _, p := range group.Patients {
		if p.ID == uuid.Nil {
			return nil, validationError("group member has no id")
		}
		if _, dup := members[p.ID]; dup {
			return nil, validationError("patient %s appears twice in the group", p.ID)
		}
		members[p.ID] = p
	}

	for f, src := range decision.FieldSources {
		if !knownField(f) {
			return nil, validationError("unknown field %q", f)
		}
		if _, ok := members[src]; !ok {
			return nil, validationError("field %q takes its value from patient %s, which is not in the group", f, src)
		}
	}
	for _, f := range RequiredFields {
		if _, ok := decision.FieldSources[f]; !ok {
			return nil, validationError("no source chosen for field %q", f)
		}
	}

	anchor := group.Anchor()
	survivor := anchor
	for _, f := range append(append([]Field{}, RequiredFields...), OptionalFields...) {
		src, ok := decision.FieldSources[f]
		if !ok {
			continue
		}
		applyField(&survivor, f, members[src])
	}
	survivor.ID = anchor.ID
	survivor.CreatedAt = anchor.CreatedAt

	owned := make(map[uuid.UUID]DependentRecord)
	for _, r := range records {
		if _, ok := members[r.PatientID]; ok {
			owned[r.ID] = r
		}
	}
	retained := make(map[uuid.UUID]bool, len(decision.RetainedRecordIDs))
	for _, id := range decision.RetainedRecordIDs {
		if _, ok := owned[id]; !ok {
			return nil, validationError("retained record %s does not belong to any patient of the group", id)
		}
		retained[id] = true
	}

	plan := &MergePlan{
		GroupID:  group.ID,
		Survivor: survivor,
	}
	removed := make(map[uuid.UUID]bool, len(group.Patients)-1)
	for _, p := range group.Patients[1:] {
		plan.ToRemove = append(plan.ToRemove, p.ID)
		removed[p.ID] = true
	}

	for _, r := range records {
		if _, ok := owned[r.ID]; !ok {
			continue
		}
		if retained[r.ID] {
			plan.Retained = append(plan.Retained, r.ID)
		}
		if !removed[r.PatientID] {
			continue
		}
		rewritten := r
		rewritten.PatientID = anchor.ID
		plan.Rewrites = append(plan.Rewrites, RecordRewrite{
			Record:            rewritten,
			PreviousPatientID: r.PatientID,
			Retained:          retained[r.ID],
		})
	}
	return plan, nil
}

func applyField(dst *Patient, f Field, src Patient) {
	switch f {
	case FieldLastName:
		dst.LastName = src.LastName
	case FieldFirstName:
		dst.FirstName = src.FirstName
	case FieldExternalID:
		dst.ExternalID = src.ExternalID
	case FieldBirthDate:
		if src.BirthDate == nil {
			dst.BirthDate = nil
		} else {
			t := *src.BirthDate
			dst.BirthDate = &t
		}
	case FieldAddress:
		dst.Address = cloneString(src.Address)
	case FieldPhone:
		dst.Phone = cloneString(src.Phone)
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// MergeStore is the persistence the merge executor composes. Every write is
// keyed by id so replaying a merge is safe.
type MergeStore interface {
	ListDependentRecords(ctx context.Context, patientIDs []uuid.UUID) ([]DependentRecord, error)
	UpsertPatient(ctx context.Context, p Patient) error
	UpdateDependentRecord(ctx context.Context, r DependentRecord) error
	// DeletePatient must treat an already-deleted patient as success.
	DeletePatient(ctx context.Context, id uuid.UUID) error
}

// MergeReport describes a completed merge.
type MergeReport struct {
	GroupID           uuid.UUID   `json:"group_id"`
	Survivor          Patient     `json:"survivor"`
	Removed           []uuid.UUID `json:"removed"`
	RewrittenRecords  []uuid.UUID `json:"rewritten_records"`
	RetainedRecords   []uuid.UUID `json:"retained_records"`
	UnretainedRewired int         `json:"unretained_rewired"`
	// Resumed is set when this call finished an earlier partial merge.
	Resumed bool `json:"resumed,omitempty"`
}

// Executor applies merge plans against a MergeStore in a fixed order: upsert
// the survivor, rewrite references, then delete the removed patients.
type Executor struct {
	store       MergeStore
	stepTimeout time.Duration
	logger      zerolog.Logger
}

// NewExecutor creates an Executor. A zero stepTimeout disables per-call timeouts.
func NewExecutor(store MergeStore, stepTimeout time.Duration, logger zerolog.Logger) *Executor {
	return &Executor{store: store, stepTimeout: stepTimeout, logger: logger}
}

// Plan loads the group's dependent records and builds the merge plan.
func (e *Executor) Plan(ctx context.Context, group DuplicateGroup, decision MergeDecision) (*MergePlan, error) {
	var records []DependentRecord
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		records, err = e.store.ListDependentRecords(ctx, group.PatientIDs())
		return err
	})
	if err != nil {
		return nil, &MergeError{Kind: KindPersistence, Step: StepLoad, GroupID: group.ID, Err: err}
	}

	plan, err := BuildMergePlan(group, decision, records)
	if err != nil {
		var me *MergeError
		if errors.As(err, &me) {
			me.GroupID = group.ID
		}
		return nil, err
	}
	return plan, nil
}

// Merge collapses group into its anchor. Failures are returned as *MergeError.
// Caller cancellation is honoured until the delete phase starts; from then on
// only the per-step timeout applies.
func (e *Executor) Merge(ctx context.Context, group DuplicateGroup, decision MergeDecision) (*MergeReport, error) {
	plan, err := e.Plan(ctx, group, decision)
	if err != nil {
		return nil, err
	}
	log := e.logger.With().Str("group_id", plan.GroupID.String()).Str("anchor", plan.Survivor.ID.String()).Logger()

	if err := e.call(ctx, func(ctx context.Context) error {
		return e.store.UpsertPatient(ctx, plan.Survivor)
	}); err != nil {
		log.Error().Err(err).Msg("merge: survivor upsert failed")
		return nil, &MergeError{Kind: KindPersistence, Step: StepUpsert, GroupID: plan.GroupID, Err: err}
	}
	log.Info().Msg("merge: survivor upserted")

	rewritten := make([]uuid.UUID, 0, len(plan.Rewrites))
	for _, rw := range plan.Rewrites {
		rw := rw
		if err := e.call(ctx, func(ctx context.Context) error {
			return e.store.UpdateDependentRecord(ctx, rw.Record)
		}); err != nil {
			log.Error().Err(err).Str("record_id", rw.Record.ID.String()).Msg("merge: reference rewrite failed")
			return nil, &MergeError{Kind: KindPersistence, Step: StepRewrite, GroupID: plan.GroupID, RecordID: rw.Record.ID, Err: err}
		}
		rewritten = append(rewritten, rw.Record.ID)
	}
	log.Info().Int("rewritten", len(rewritten)).Int("unretained", plan.UnretainedCount()).Msg("merge: references rewritten")

	if err := ctx.Err(); err != nil {
		return nil, &MergeError{
			Kind: KindPartial, Step: StepDelete, GroupID: plan.GroupID,
			Pending: append([]uuid.UUID(nil), plan.ToRemove...),
			Msg:     "cancelled before deletion started", Err: err,
		}
	}

	deleteCtx := context.WithoutCancel(ctx)
	deleted := make([]uuid.UUID, 0, len(plan.ToRemove))
	for i, id := range plan.ToRemove {
		id := id
		if err := e.call(deleteCtx, func(ctx context.Context) error {
			return e.store.DeletePatient(ctx, id)
		}); err != nil {
			log.Error().Err(err).Str("patient_id", id.String()).Msg("merge: patient delete failed")
			return nil, &MergeError{
				Kind: KindPartial, Step: StepDelete, GroupID: plan.GroupID,
				Deleted: deleted,
				Pending: append([]uuid.UUID(nil), plan.ToRemove[i:]...),
				Err:     err,
			}
		}
		deleted = append(deleted, id)
	}
	log.Info().Int("deleted", len(deleted)).Msg("merge: completed")

	return &MergeReport{
		GroupID:           plan.GroupID,
		Survivor:          plan.Survivor,
		Removed:           deleted,
		RewrittenRecords:  rewritten,
		RetainedRecords:   plan.Retained,
		UnretainedRewired: plan.UnretainedCount(),
	}, nil
}

// call runs one persistence operation under the step timeout and converts a
// panic in the store into an error.
func (e *Executor) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store panic: %v", r)
		}
	}()
	return fn(ctx)
}
