package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gymkaana/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Activity"

var headers = []string{"Time", "Member", "Outcome", "Reason", "Description", "Venue", "Booking"}

// ActivityWorkbook writes the activity window to an XLSX file in dir and
// returns its path. Rows keep the order of entries.
func ActivityWorkbook(dir string, entries []models.AuditEntry, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	acceptedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	})
	rejectedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FCE4D6"}, Pattern: 1},
	})

	for i, e := range entries {
		row := i + 2
		values := []any{
			e.CreatedAt.Local().Format("02.01.2006 15:04:05"),
			e.MemberName,
			e.Outcome,
			e.Reason,
			e.Description,
			e.VenueID,
			e.BookingID,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		style := acceptedStyle
		if e.Outcome == models.OutcomeRejected {
			style = rejectedStyle
		}
		outcomeCell, _ := excelize.CoordinatesToCellName(3, row)
		_ = f.SetCellStyle(sheetName, outcomeCell, outcomeCell, style)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 20)
	_ = f.SetColWidth(sheetName, "B", "B", 25)
	_ = f.SetColWidth(sheetName, "C", "D", 18)
	_ = f.SetColWidth(sheetName, "E", "E", 45)
	_ = f.SetColWidth(sheetName, "F", "G", 38)

	path := filepath.Join(dir, fmt.Sprintf("activity_%s.xlsx", now.Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}
