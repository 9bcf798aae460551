package medication

import (
	"context"

	"github.com/google/uuid"
)

type PrescriptionRepository interface {
	Create(ctx context.Context, rx *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
	ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Prescription, error)
	ListAll(ctx context.Context) ([]*Prescription, error)
	Reassign(ctx context.Context, id, patientID uuid.UUID) error
}
