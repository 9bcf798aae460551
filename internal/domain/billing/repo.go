package billing

import (
	"context"

	"github.com/google/uuid"
)

type CareSheetRepository interface {
	Create(ctx context.Context, cs *CareSheet) error
	GetByID(ctx context.Context, id uuid.UUID) (*CareSheet, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*CareSheet, error)
	// ListByPatients returns the care sheets of any of patientIDs.
	ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*CareSheet, error)
	ListAll(ctx context.Context) ([]*CareSheet, error)
	// Reassign points care sheet id at patientID.
	Reassign(ctx context.Context, id, patientID uuid.UUID) error
}
