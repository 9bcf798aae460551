package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("care sheet not found")

// CareSheet maps to the care_sheet table: one billing sheet for acts
// performed on a patient.
type CareSheet struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	ActDate   time.Time `db:"act_date" json:"act_date"`
	ActCodes  string    `db:"act_codes" json:"act_codes"`
	Amount    float64   `db:"amount" json:"amount"`
	Paid      bool      `db:"paid" json:"paid"`
	Note      *string   `db:"note" json:"note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CareSheetInput is the payload for creating a care sheet under a patient.
type CareSheetInput struct {
	ActDate  string  `json:"act_date" validate:"required,datetime=2006-01-02"`
	ActCodes string  `json:"act_codes" validate:"required,max=200"`
	Amount   float64 `json:"amount" validate:"gte=0"`
	Paid     bool    `json:"paid"`
	Note     *string `json:"note" validate:"omitempty,max=1000"`
}

// CareSheet builds the record for patientID. The input must have been validated.
func (in CareSheetInput) CareSheet(patientID uuid.UUID) *CareSheet {
	date, _ := time.Parse("2006-01-02", in.ActDate)
	cs := &CareSheet{
		PatientID: patientID,
		ActDate:   date,
		ActCodes:  in.ActCodes,
		Amount:    in.Amount,
		Paid:      in.Paid,
	}
	if in.Note != nil && *in.Note != "" {
		note := *in.Note
		cs.Note = &note
	}
	return cs
}
