package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"example.com/backstage/services/salesdesk/internal/command"
)

// Column aliases, checked exactly first and then by substring, so files
// exported from different tools map without manual cleanup.
var columnAliases = map[string][]string{
	"business": {"business", "business name", "company", "company name", "name"},
	"contact":  {"contact", "contact name", "contact person"},
	"phone":    {"phone", "business phone", "telephone", "tel"},
	"email":    {"email", "e mail", "business email", "mail"},
	"region":   {"region", "territory", "area", "location", "address"},
	"flavor":   {"flavor interest", "flavor", "flavour", "interest"},
}

// CSVImporter parses comma-separated lead files. It is the fallback
// importer and is always available.
type CSVImporter struct{}

// Name identifies the importer in logs and upload responses
func (i *CSVImporter) Name() string {
	return "csv"
}

// CanImport accepts .csv and plain .txt exports
func (i *CSVImporter) CanImport(filename string) bool {
	switch ext(filename) {
	case ".csv", ".txt":
		return true
	}
	return false
}

// Parse reads the header row, maps each column to a lead field by alias,
// and converts every data row. Fully empty rows are skipped; rows with
// no recognizable content are reported per row, never aborting the file.
func (i *CSVImporter) Parse(r io.Reader) ([]command.LeadRow, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable column count
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "read header row")
	}

	fields := mapColumns(header)
	if len(fields) == 0 {
		return nil, nil, errors.New("no recognizable columns in header")
	}

	var (
		rows    []command.LeadRow
		rowErrs []RowError
		rowNum  int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: fmt.Sprintf("unparseable row: %v", err)})
			continue
		}

		row := buildRow(fields, record)
		if row == (command.LeadRow{}) {
			if recordEmpty(record) {
				rowNum-- // blank padding rows are not data
				continue
			}
			rowErrs = append(rowErrs, RowError{Row: rowNum, Reason: "no recognizable fields"})
			continue
		}
		rows = append(rows, row)
	}

	return rows, rowErrs, nil
}

// mapColumns resolves each header cell to a lead field name. First exact
// alias match wins; unmatched headers fall back to a substring check.
func mapColumns(header []string) map[int]string {
	fields := make(map[int]string)
	taken := make(map[string]bool)

	assign := func(idx int, field string) {
		if !taken[field] {
			fields[idx] = field
			taken[field] = true
		}
	}

	for idx, cell := range header {
		name := normalizeHeader(cell)
		if name == "" {
			continue
		}
		for field, aliases := range columnAliases {
			for _, alias := range aliases {
				if name == alias {
					assign(idx, field)
				}
			}
		}
	}

	for idx, cell := range header {
		if _, ok := fields[idx]; ok {
			continue
		}
		name := normalizeHeader(cell)
		switch {
		case strings.Contains(name, "name") && !taken["business"]:
			assign(idx, "business")
		case (strings.Contains(name, "phone") || strings.Contains(name, "tel")) && !taken["phone"]:
			assign(idx, "phone")
		case strings.Contains(name, "mail") && !taken["email"]:
			assign(idx, "email")
		case strings.Contains(name, "flavor") && !taken["flavor"]:
			assign(idx, "flavor")
		}
	}

	return fields
}

func buildRow(fields map[int]string, record []string) command.LeadRow {
	var row command.LeadRow
	for idx, field := range fields {
		if idx >= len(record) {
			continue
		}
		val := strings.TrimSpace(record[idx])
		if val == "" {
			continue
		}
		switch field {
		case "business":
			row.Business = val
		case "contact":
			row.ContactName = val
		case "phone":
			row.Phone = val
		case "email":
			row.Email = val
		case "region":
			row.Region = val
		case "flavor":
			row.FlavorInterest = val
		}
	}
	return row
}

func recordEmpty(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
