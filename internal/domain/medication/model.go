package medication

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("prescription not found")

// Prescription maps to the prescription table.
type Prescription struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	PrescribedOn time.Time `db:"prescribed_on" json:"prescribed_on"`
	Medication   string    `db:"medication" json:"medication"`
	Dosage       *string   `db:"dosage" json:"dosage,omitempty"`
	Instructions *string   `db:"instructions" json:"instructions,omitempty"`
	DurationDays *int      `db:"duration_days" json:"duration_days,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type PrescriptionInput struct {
	PrescribedOn string  `json:"prescribed_on" validate:"required,datetime=2006-01-02"`
	Medication   string  `json:"medication" validate:"required,max=200"`
	Dosage       *string `json:"dosage" validate:"omitempty,max=100"`
	Instructions *string `json:"instructions" validate:"omitempty,max=2000"`
	DurationDays *int    `json:"duration_days" validate:"omitempty,gte=1,lte=365"`
}

func (in PrescriptionInput) Prescription(patientID uuid.UUID) *Prescription {
	date, _ := time.Parse("2006-01-02", in.PrescribedOn)
	return &Prescription{
		PatientID:    patientID,
		PrescribedOn: date,
		Medication:   in.Medication,
		Dosage:       in.Dosage,
		Instructions: in.Instructions,
		DurationDays: in.DurationDays,
	}
}
