package dedup

import "github.com/google/uuid"

// ReferenceCounts tells how many dependent records point at a patient.
type ReferenceCounts struct {
	CareSheets    int `json:"care_sheets"`
	Prescriptions int `json:"prescriptions"`
}

// Total returns the number of dependent records of any kind.
func (c ReferenceCounts) Total() int {
	return c.CareSheets + c.Prescriptions
}

// PatientReferenceCounts counts the records in records owned by patientID.
func PatientReferenceCounts(patientID uuid.UUID, records []DependentRecord) ReferenceCounts {
	var c ReferenceCounts
	for _, r := range records {
		if r.PatientID != patientID {
			continue
		}
		switch r.Kind {
		case RecordCareSheet:
			c.CareSheets++
		case RecordPrescription:
			c.Prescriptions++
		}
	}
	return c
}
