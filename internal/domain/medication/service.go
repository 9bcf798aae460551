package medication

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput    = errors.New("invalid prescription input")
	ErrPatientNotFound = errors.New("patient not found")
)

type PatientLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	prescriptions PrescriptionRepository
	patients      PatientLookup
	validate      *validator.Validate
}

func NewService(prescriptions PrescriptionRepository, patients PatientLookup) *Service {
	return &Service{prescriptions: prescriptions, patients: patients, validate: validator.New()}
}

func (s *Service) CreatePrescription(ctx context.Context, patientID uuid.UUID, in PrescriptionInput) (*Prescription, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}
	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	rx := in.Prescription(patientID)
	if err := s.prescriptions.Create(ctx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	return s.prescriptions.ListByPatient(ctx, patientID)
}
