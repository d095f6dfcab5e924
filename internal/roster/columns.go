package roster

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sebtcheng/insighted-monitor/internal/normalize"
)

// Canonical column names. Struct tags on rosterRow and the alias table below
// both key off these.
const (
	colSchoolID   = "school_id"
	colSchoolName = "school_name"
	colRegion     = "region"
	colDivision   = "division"
	colDistrict   = "district"
)

// columnAliases maps normalized header spellings seen in the field onto the
// canonical column set. Roster files come from several offices and no two
// agree on headers.
var columnAliases = map[string]string{
	"school_id":      colSchoolID,
	"school id":      colSchoolID,
	"schoolid":       colSchoolID,
	"beis id":        colSchoolID,
	"beis school id": colSchoolID,
	"school_name":    colSchoolName,
	"school name":    colSchoolName,
	"name of school": colSchoolName,
	"name":           colSchoolName,
	"region":         colRegion,
	"region name":    colRegion,
	"division":       colDivision,
	"division name":  colDivision,
	"sdo":            colDivision,
	"district":       colDistrict,
	"district name":  colDistrict,
}

// requiredColumns must all resolve or the file is rejected outright. School
// ID and district are optional: old rosters predate BEIS IDs and district is
// blank for division-run schools.
var requiredColumns = []string{colSchoolName, colRegion, colDivision}

type rosterRow struct {
	SchoolID   string `csv:"school_id"`
	SchoolName string `csv:"school_name"`
	Region     string `csv:"region"`
	Division   string `csv:"division"`
	District   string `csv:"district"`
}

// resolveHeader maps a raw header row onto canonical column names.
// Unrecognized columns get unique throwaway names so the decoder skips them.
// A canonical name claimed twice keeps the first occurrence.
func resolveHeader(raw []string) ([]string, error) {
	resolved := make([]string, len(raw))
	claimed := make(map[string]bool, len(raw))
	for i, h := range raw {
		canonical, ok := columnAliases[normalize.Name(h)]
		if !ok || claimed[canonical] {
			resolved[i] = fmt.Sprintf("_ignored_%d", i)
			continue
		}
		claimed[canonical] = true
		resolved[i] = canonical
	}

	for _, required := range requiredColumns {
		if !claimed[required] {
			return nil, eris.Errorf("roster: missing required column %q in header %v", required, raw)
		}
	}
	return resolved, nil
}
