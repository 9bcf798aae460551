package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput    = errors.New("invalid care sheet input")
	ErrPatientNotFound = errors.New("patient not found")
)

// PatientLookup confirms a patient exists before records are attached to it.
type PatientLookup interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	sheets   CareSheetRepository
	patients PatientLookup
	validate *validator.Validate
}

func NewService(sheets CareSheetRepository, patients PatientLookup) *Service {
	return &Service{sheets: sheets, patients: patients, validate: validator.New()}
}

func (s *Service) CreateCareSheet(ctx context.Context, patientID uuid.UUID, in CareSheetInput) (*CareSheet, error) {
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
	cs := in.CareSheet(patientID)
	if err := s.sheets.Create(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

func (s *Service) GetCareSheet(ctx context.Context, id uuid.UUID) (*CareSheet, error) {
	return s.sheets.GetByID(ctx, id)
}

func (s *Service) ListCareSheets(ctx context.Context, patientID uuid.UUID) ([]*CareSheet, error) {
	return s.sheets.ListByPatient(ctx, patientID)
}
