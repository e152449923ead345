package importer

import (
	"io"
	"path/filepath"
	"strings"

	"example.com/backstage/services/salesdesk/internal/command"
)

// RowError reports one input row that could not be parsed. Row numbers
// are 1-based and count data rows, not the header.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// LeadImporter is the capability interface for turning an uploaded file
// into lead rows. Implementations are format adapters only; business
// validation of the rows happens in the command handler.
type LeadImporter interface {
	Name() string
	CanImport(filename string) bool
	Parse(r io.Reader) ([]command.LeadRow, []RowError, error)
}

// importers in probing order. The CSV importer accepts anything as a
// last resort so an importer is always available.
var importers = []LeadImporter{
	&CSVImporter{},
}

// Select probes the registered importers and returns the first one able
// to handle the file
func Select(filename string) LeadImporter {
	for _, imp := range importers {
		if imp.CanImport(filename) {
			return imp
		}
	}
	return importers[len(importers)-1]
}

// normalizeHeader lowers and squeezes a header cell for alias matching
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", " ")
	h = strings.ReplaceAll(h, "-", " ")
	return strings.Join(strings.Fields(h), " ")
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
