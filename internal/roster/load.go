package roster

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
)

// LoadCSV parses a roster CSV. The header row is resolved against the column
// alias contract before decoding; rows that cannot identify a school are
// quarantined, counted, and skipped, never fatal.
func LoadCSV(r io.Reader, d *diag.Counters) (*Roster, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	rawHeader, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "roster: read header")
	}
	header, err := resolveHeader(rawHeader)
	if err != nil {
		return nil, err
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return nil, eris.Wrap(err, "roster: create decoder")
	}

	var entries []model.RosterEntry
	quarantined := 0
	for {
		var row rosterRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Ragged rows are a data defect in one row, not the file.
			if errors.Is(err, csv.ErrFieldCount) {
				quarantined++
				continue
			}
			return nil, eris.Wrap(err, "roster: decode row")
		}

		entry, ok := rowToEntry(row)
		if !ok {
			quarantined++
			continue
		}
		entries = append(entries, entry)
	}

	return finish(entries, quarantined, d), nil
}

// LoadXLSX parses a roster workbook. Sheet selection follows the same rules
// as the CSV path once the sheet is flattened to rows.
func LoadXLSX(path string, sheetName string, d *diag.Counters) (*Roster, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open xlsx")
	}

	sheet, err := pickSheet(f, sheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.New("roster: empty sheet")
	}

	header, err := resolveHeader(rowCells(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	var entries []model.RosterEntry
	quarantined := 0
	for _, row := range sheet.Rows[1:] {
		cells := rowCells(row)
		at := func(column string) string {
			i, ok := index[column]
			if !ok || i >= len(cells) {
				return ""
			}
			return cells[i]
		}
		entry, ok := rowToEntry(rosterRow{
			SchoolID:   at(colSchoolID),
			SchoolName: at(colSchoolName),
			Region:     at(colRegion),
			Division:   at(colDivision),
			District:   at(colDistrict),
		})
		if !ok {
			quarantined++
			continue
		}
		entries = append(entries, entry)
	}

	return finish(entries, quarantined, d), nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name == "" {
		if len(f.Sheets) == 0 {
			return nil, eris.New("roster: workbook has no sheets")
		}
		return f.Sheets[0], nil
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("roster: sheet %q not found", name)
	}
	return sheet, nil
}

func rowCells(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

// rowToEntry trims a decoded row and reports whether it identifies a school.
// Name, region, and division are mandatory per row; ID and district are not.
func rowToEntry(row rosterRow) (model.RosterEntry, bool) {
	entry := model.RosterEntry{
		SchoolID:   strings.TrimSpace(row.SchoolID),
		SchoolName: strings.TrimSpace(row.SchoolName),
		Region:     strings.TrimSpace(row.Region),
		Division:   strings.TrimSpace(row.Division),
		District:   strings.TrimSpace(row.District),
	}
	if entry.SchoolName == "" || entry.Region == "" || entry.Division == "" {
		return model.RosterEntry{}, false
	}
	return entry, true
}

func finish(entries []model.RosterEntry, quarantined int, d *diag.Counters) *Roster {
	if quarantined > 0 {
		if d != nil {
			d.QuarantinedRosterRows(int64(quarantined))
		}
		zap.L().Warn("roster rows quarantined",
			zap.Int("quarantined", quarantined),
			zap.Int("loaded", len(entries)),
		)
	}
	return New(entries, quarantined)
}
