package dedup

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func pid(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func patientN(n int, last, first, externalID string, birth *time.Time) Patient {
	return Patient{
		ID:         pid(n),
		LastName:   last,
		FirstName:  first,
		ExternalID: externalID,
		BirthDate:  birth,
		CreatedAt:  time.Date(2024, 1, 1, 0, n, 0, 0, time.UTC),
	}
}

func ids(ps []Patient) []uuid.UUID {
	out := make([]uuid.UUID, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
