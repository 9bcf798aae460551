package dedup

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	groupsSheet  = "Groups"
	summarySheet = "Summary"
)

var groupHeaders = []interface{}{
	"Group", "Reason", "Confidence", "Anchor", "Patient ID", "Last name", "First name",
	"External ID", "Birth date", "Care sheets", "Prescriptions",
}

// WriteWorkbook renders report as an xlsx workbook: one row per group member
// on the Groups sheet and the statistics on the Summary sheet. refs may be nil.
func WriteWorkbook(w io.Writer, report *Report, refs map[uuid.UUID]ReferenceCounts) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", groupsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	if err := setRow(f, groupsSheet, 1, groupHeaders); err != nil {
		return err
	}
	row := 2
	for i, g := range report.Groups {
		for j, p := range g.Patients {
			birth := ""
			if p.BirthDate != nil {
				birth = NormalizeDate(*p.BirthDate)
			}
			anchor := ""
			if j == 0 {
				anchor = "yes"
			}
			c := refs[p.ID]
			values := []interface{}{
				i + 1, string(g.Reason), string(g.Confidence), anchor, p.ID.String(),
				p.LastName, p.FirstName, p.ExternalID, birth, c.CareSheets, c.Prescriptions,
			}
			if err := setRow(f, groupsSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}

	st := report.Statistics
	summary := [][]interface{}{
		{"Generated at", report.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Patients scanned", report.PatientCount},
		{"Groups", st.GroupCount},
		{"Total duplicates", st.TotalDuplicates},
		{"High confidence", st.HighConfidenceCount},
		{"Medium confidence", st.MediumConfidenceCount},
		{"Low confidence", st.LowConfidenceCount},
	}
	for i, values := range summary {
		if err := setRow(f, summarySheet, i+1, values); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
