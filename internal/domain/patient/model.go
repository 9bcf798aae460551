package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("patient not found")
	ErrHasDependents = errors.New("patient still has care sheets or prescriptions")
)

// Patient maps to the patient table.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	LastName   string     `db:"last_name" json:"last_name"`
	FirstName  string     `db:"first_name" json:"first_name"`
	ExternalID *string    `db:"external_id" json:"external_id,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Address    *string    `db:"address" json:"address,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// ExternalIDValue returns the external identifier or "" when unset.
func (p *Patient) ExternalIDValue() string {
	if p.ExternalID == nil {
		return ""
	}
	return *p.ExternalID
}

// Input is the create/update payload accepted by the API.
type Input struct {
	LastName   string  `json:"last_name" validate:"required,max=100"`
	FirstName  string  `json:"first_name" validate:"required,max=100"`
	ExternalID *string `json:"external_id" validate:"omitempty,numeric,max=20"`
	BirthDate  *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Address    *string `json:"address" validate:"omitempty,max=500"`
	Phone      *string `json:"phone" validate:"omitempty,max=30"`
}

// Apply copies the input onto p. The input must have been validated.
func (in Input) Apply(p *Patient) {
	p.LastName = in.LastName
	p.FirstName = in.FirstName
	p.ExternalID = emptyToNil(in.ExternalID)
	p.Address = emptyToNil(in.Address)
	p.Phone = emptyToNil(in.Phone)
	p.BirthDate = nil
	if in.BirthDate != nil && *in.BirthDate != "" {
		if t, err := time.Parse("2006-01-02", *in.BirthDate); err == nil {
			p.BirthDate = &t
		}
	}
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
