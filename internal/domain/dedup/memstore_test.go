package dedup

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memStore is an in-memory Store that records every call and can be told to
// fail, panic or block on a given operation.
type memStore struct {
	mu       sync.Mutex
	patients map[uuid.UUID]Patient
	records  []DependentRecord
	calls    []string

	failOn  map[string]error
	panicOn string
	blockOn string
	onCall  func(op string)
}

func newMemStore(patients []Patient, records []DependentRecord) *memStore {
	s := &memStore{patients: map[uuid.UUID]Patient{}, failOn: map[string]error{}}
	for _, p := range patients {
		s.patients[p.ID] = p
	}
	s.records = append(s.records, records...)
	return s
}

func (s *memStore) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	hook := s.onCall
	err := s.failOn[op]
	panicking := s.panicOn == op
	blocking := s.blockOn == op
	s.mu.Unlock()

	if hook != nil {
		hook(op)
	}
	if panicking {
		panic("boom")
	}
	if blocking {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *memStore) ListAllPatients(ctx context.Context) ([]Patient, error) {
	if err := s.enter(ctx, "list-patients"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) ListAllDependentRecords(ctx context.Context) ([]DependentRecord, error) {
	if err := s.enter(ctx, "list-records"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DependentRecord(nil), s.records...), nil
}

func (s *memStore) ListDependentRecords(ctx context.Context, patientIDs []uuid.UUID) ([]DependentRecord, error) {
	if err := s.enter(ctx, "load"); err != nil {
		return nil, err
	}
	want := map[uuid.UUID]bool{}
	for _, id := range patientIDs {
		want[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DependentRecord
	for _, r := range s.records {
		if want[r.PatientID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) UpsertPatient(ctx context.Context, p Patient) error {
	if err := s.enter(ctx, "upsert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *memStore) UpdateDependentRecord(ctx context.Context, r DependentRecord) error {
	if err := s.enter(ctx, "rewrite:"+r.ID.String()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == r.ID {
			s.records[i] = r
			return nil
		}
	}
	return fmt.Errorf("record %s not found", r.ID)
}

func (s *memStore) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.enter(ctx, "delete:"+id.String()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.PatientID == id {
			return fmt.Errorf("patient %s still referenced by %s", id, r.ID)
		}
	}
	delete(s.patients, id)
	return nil
}

func (s *memStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *memStore) referencing(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.PatientID == id {
			n++
		}
	}
	return n
}
