package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectAlwaysFindsAnImporter(t *testing.T) {
	require.Equal(t, "csv", Select("leads.csv").Name())
	require.Equal(t, "csv", Select("LEADS.CSV").Name())
	require.Equal(t, "csv", Select("notes.txt").Name())
	// Unknown formats fall back to the importer of last resort
	require.Equal(t, "csv", Select("export.xlsx").Name())
}

func TestParseCanonicalHeaders(t *testing.T) {
	input := strings.Join([]string{
		"business,contact,phone,email,region,flavor_interest",
		`"Fizz, Inc",Pat Tremblay,514-555-0101,pat@fizz.ca,Montreal,Vanilla`,
	}, "\n")

	rows, rowErrs, err := (&CSVImporter{}).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, rows, 1)
	require.Equal(t, "Fizz, Inc", rows[0].Business)
	require.Equal(t, "Pat Tremblay", rows[0].ContactName)
	require.Equal(t, "514-555-0101", rows[0].Phone)
	require.Equal(t, "pat@fizz.ca", rows[0].Email)
	require.Equal(t, "Montreal", rows[0].Region)
	require.Equal(t, "Vanilla", rows[0].FlavorInterest)
}

func TestParseAliasedHeaders(t *testing.T) {
	input := strings.Join([]string{
		"Company Name,Contact Person,Telephone,E-mail,Territory,Flavour",
		"Corner Depanneur,Pat,514-555-0101,pat@example.com,Laval,Lime",
	}, "\n")

	rows, rowErrs, err := (&CSVImporter{}).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, rows, 1)
	require.Equal(t, "Corner Depanneur", rows[0].Business)
	require.Equal(t, "Pat", rows[0].ContactName)
	require.Equal(t, "514-555-0101", rows[0].Phone)
	require.Equal(t, "pat@example.com", rows[0].Email)
	require.Equal(t, "Laval", rows[0].Region)
	require.Equal(t, "Lime", rows[0].FlavorInterest)
}

func TestParseSubstringHeaderFallback(t *testing.T) {
	input := strings.Join([]string{
		"Store Name,Phone #,Email Address,Flavor Pref",
		"Corner Depanneur,514-555-0101,pat@example.com,Grape",
	}, "\n")

	rows, rowErrs, err := (&CSVImporter{}).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, rows, 1)
	require.Equal(t, "Corner Depanneur", rows[0].Business)
	require.Equal(t, "514-555-0101", rows[0].Phone)
	require.Equal(t, "pat@example.com", rows[0].Email)
	require.Equal(t, "Grape", rows[0].FlavorInterest)
}

func TestParseReportsUnusableRowsWithoutAborting(t *testing.T) {
	input := strings.Join([]string{
		"business,unrelated",
		"Shop One,x",
		",,",
		",only the unmapped column",
		"Shop Two,y",
	}, "\n")

	rows, rowErrs, err := (&CSVImporter{}).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Shop One", rows[0].Business)
	require.Equal(t, "Shop Two", rows[1].Business)

	// The all-blank row is padding, not data; the unmapped-only row is an
	// error at its data-row position
	require.Len(t, rowErrs, 1)
	require.Equal(t, 2, rowErrs[0].Row)
	require.Contains(t, rowErrs[0].Reason, "no recognizable fields")
}

func TestParseShortAndLongRows(t *testing.T) {
	input := strings.Join([]string{
		"business,contact,phone",
		"Shop One",
		"Shop Two,Pat,514-555-0101,extra,columns",
	}, "\n")

	rows, rowErrs, err := (&CSVImporter{}).Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, rowErrs)
	require.Len(t, rows, 2)
	require.Equal(t, "Shop One", rows[0].Business)
	require.Empty(t, rows[0].Phone)
	require.Equal(t, "514-555-0101", rows[1].Phone)
}

func TestParseEmptyFile(t *testing.T) {
	_, _, err := (&CSVImporter{}).Parse(strings.NewReader(""))
	require.Error(t, err)
}

func TestParseHeaderWithNoKnownColumns(t *testing.T) {
	_, _, err := (&CSVImporter{}).Parse(strings.NewReader("foo,bar\n1,2\n"))
	require.Error(t, err)
}

func TestParseHeaderOnly(t *testing.T) {
	rows, rowErrs, err := (&CSVImporter{}).Parse(strings.NewReader("business,phone\n"))
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Empty(t, rowErrs)
}
