package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/medpractice/records/internal/domain/billing"
	"github.com/medpractice/records/internal/domain/medication"
	"github.com/medpractice/records/internal/domain/patient"
)

// SnapshotSource provides the full data set a detection run works on.
type SnapshotSource interface {
	// ListAllPatients returns every patient ordered by creation time.
	ListAllPatients(ctx context.Context) ([]Patient, error)
	ListAllDependentRecords(ctx context.Context) ([]DependentRecord, error)
}

// Store is everything the dedup service needs from persistence.
type Store interface {
	SnapshotSource
	MergeStore
}

// RepositoryStore adapts the patient, billing and medication repositories to
// Store.
type RepositoryStore struct {
	patients      patient.Repository
	careSheets    billing.CareSheetRepository
	prescriptions medication.PrescriptionRepository
}

func NewRepositoryStore(patients patient.Repository, careSheets billing.CareSheetRepository, prescriptions medication.PrescriptionRepository) *RepositoryStore {
	return &RepositoryStore{patients: patients, careSheets: careSheets, prescriptions: prescriptions}
}

func (s *RepositoryStore) ListAllPatients(ctx context.Context) ([]Patient, error) {
	rows, err := s.patients.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Patient, len(rows))
	for i, p := range rows {
		out[i] = fromPatientModel(p)
	}
	return out, nil
}

func (s *RepositoryStore) ListAllDependentRecords(ctx context.Context) ([]DependentRecord, error) {
	return s.loadRecords(ctx,
		func(ctx context.Context) ([]*billing.CareSheet, error) { return s.careSheets.ListAll(ctx) },
		func(ctx context.Context) ([]*medication.Prescription, error) { return s.prescriptions.ListAll(ctx) },
	)
}

func (s *RepositoryStore) ListDependentRecords(ctx context.Context, patientIDs []uuid.UUID) ([]DependentRecord, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}
	return s.loadRecords(ctx,
		func(ctx context.Context) ([]*billing.CareSheet, error) { return s.careSheets.ListByPatients(ctx, patientIDs) },
		func(ctx context.Context) ([]*medication.Prescription, error) {
			return s.prescriptions.ListByPatients(ctx, patientIDs)
		},
	)
}

// loadRecords fetches care sheets and prescriptions concurrently. Care sheets
// come first in the result.
func (s *RepositoryStore) loadRecords(
	ctx context.Context,
	sheetsFn func(context.Context) ([]*billing.CareSheet, error),
	rxFn func(context.Context) ([]*medication.Prescription, error),
) ([]DependentRecord, error) {
	var (
		sheets []*billing.CareSheet
		rxs    []*medication.Prescription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sheets, err = sheetsFn(gctx)
		if err != nil {
			return fmt.Errorf("load care sheets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rxs, err = rxFn(gctx)
		if err != nil {
			return fmt.Errorf("load prescriptions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]DependentRecord, 0, len(sheets)+len(rxs))
	for _, cs := range sheets {
		out = append(out, DependentRecord{ID: cs.ID, Kind: RecordCareSheet, PatientID: cs.PatientID})
	}
	for _, rx := range rxs {
		out = append(out, DependentRecord{ID: rx.ID, Kind: RecordPrescription, PatientID: rx.PatientID})
	}
	return out, nil
}

func (s *RepositoryStore) UpsertPatient(ctx context.Context, p Patient) error {
	return s.patients.Upsert(ctx, toPatientModel(p))
}

func (s *RepositoryStore) UpdateDependentRecord(ctx context.Context, r DependentRecord) error {
	switch r.Kind {
	case RecordCareSheet:
		return s.careSheets.Reassign(ctx, r.ID, r.PatientID)
	case RecordPrescription:
		return s.prescriptions.Reassign(ctx, r.ID, r.PatientID)
	default:
		return fmt.Errorf("unknown record kind %q", r.Kind)
	}
}

func (s *RepositoryStore) DeletePatient(ctx context.Context, id uuid.UUID) error {
	err := s.patients.Delete(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return nil
	}
	return err
}

func fromPatientModel(p *patient.Patient) Patient {
	return Patient{
		ID:         p.ID,
		LastName:   p.LastName,
		FirstName:  p.FirstName,
		ExternalID: p.ExternalIDValue(),
		BirthDate:  p.BirthDate,
		Address:    p.Address,
		Phone:      p.Phone,
		CreatedAt:  p.CreatedAt,
	}
}

func toPatientModel(p Patient) *patient.Patient {
	m := &patient.Patient{
		ID:        p.ID,
		LastName:  p.LastName,
		FirstName: p.FirstName,
		BirthDate: p.BirthDate,
		Address:   p.Address,
		Phone:     p.Phone,
		CreatedAt: p.CreatedAt,
	}
	if p.ExternalID != "" {
		id := p.ExternalID
		m.ExternalID = &id
	}
	return m
}
