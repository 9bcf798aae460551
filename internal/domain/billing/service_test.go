package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockCareSheetRepo struct {
	sheets map[uuid.UUID]*CareSheet
	order  []uuid.UUID
}

func newMockCareSheetRepo() *mockCareSheetRepo {
	return &mockCareSheetRepo{sheets: make(map[uuid.UUID]*CareSheet)}
}

func (m *mockCareSheetRepo) Create(_ context.Context, cs *CareSheet) error {
	cs.ID = uuid.New()
	cs.CreatedAt = time.Now()
	cs.UpdatedAt = cs.CreatedAt
	m.sheets[cs.ID] = cs
	m.order = append(m.order, cs.ID)
	return nil
}

func (m *mockCareSheetRepo) GetByID(_ context.Context, id uuid.UUID) (*CareSheet, error) {
	cs, ok := m.sheets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cs, nil
}

func (m *mockCareSheetRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*CareSheet, error) {
	var out []*CareSheet
	for _, id := range m.order {
		if m.sheets[id].PatientID == patientID {
			out = append(out, m.sheets[id])
		}
	}
	return out, nil
}

func (m *mockCareSheetRepo) ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*CareSheet, error) {
	var out []*CareSheet
	for _, pid := range patientIDs {
		sheets, _ := m.ListByPatient(ctx, pid)
		out = append(out, sheets...)
	}
	return out, nil
}

func (m *mockCareSheetRepo) ListAll(_ context.Context) ([]*CareSheet, error) {
	out := make([]*CareSheet, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sheets[id])
	}
	return out, nil
}

func (m *mockCareSheetRepo) Reassign(_ context.Context, id, patientID uuid.UUID) error {
	cs, ok := m.sheets[id]
	if !ok {
		return ErrNotFound
	}
	cs.PatientID = patientID
	return nil
}

type knownPatients map[uuid.UUID]bool

func (k knownPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	return k[id], nil
}

func newTestService() (*Service, *mockCareSheetRepo, uuid.UUID) {
	repo := newMockCareSheetRepo()
	patientID := uuid.New()
	return NewService(repo, knownPatients{patientID: true}), repo, patientID
}

func TestService_CreateCareSheet(t *testing.T) {
	svc, _, patientID := newTestService()
	note := "follow-up"
	cs, err := svc.CreateCareSheet(context.Background(), patientID, CareSheetInput{
		ActDate: "2024-03-01", ActCodes: "C GS", Amount: 26.5, Note: &note,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.PatientID != patientID || cs.ActDate.Day() != 1 || cs.Note == nil {
		t.Errorf("unexpected care sheet %+v", cs)
	}
}

func TestService_CreateCareSheet_Errors(t *testing.T) {
	svc, _, patientID := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateCareSheet(ctx, patientID, CareSheetInput{ActCodes: "C"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing date: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateCareSheet(ctx, patientID, CareSheetInput{ActDate: "2024-03-01", ActCodes: "C", Amount: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative amount: expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateCareSheet(ctx, uuid.New(), CareSheetInput{ActDate: "2024-03-01", ActCodes: "C"}); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("unknown patient: expected ErrPatientNotFound, got %v", err)
	}
}

func TestService_ListCareSheets(t *testing.T) {
	svc, repo, patientID := newTestService()
	ctx := context.Background()
	svc.CreateCareSheet(ctx, patientID, CareSheetInput{ActDate: "2024-03-01", ActCodes: "C"})
	repo.Create(ctx, &CareSheet{PatientID: uuid.New(), ActCodes: "V"})

	sheets, err := svc.ListCareSheets(ctx, patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sheets) != 1 {
		t.Errorf("expected 1 care sheet, got %d", len(sheets))
	}
}
