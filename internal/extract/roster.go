package extract

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"unicode"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

// InvalidRequestMarker is what upstream prints instead of a roster when the instance has none.
const InvalidRequestMarker = "Pedido inválido"

const rosterColumns = 7

// RosterRow is one student line of an enrollment dump.
type RosterRow struct {
	Statutes           string
	Name               string
	ExternalID         string
	Abbreviation       string
	CourseAbbreviation string
	Attempt            int
	Year               int
}

// Roster reads a tab-delimited enrollment dump.
func Roster(body []byte) ([]RosterRow, []error, error) {
	invalid := bytes.Contains(body, []byte(InvalidRequestMarker))

	var (
		rows     []RosterRow
		warnings []error
	)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		if invalid && strings.Count(text, "\t") != rosterColumns-1 {
			continue
		}
		row, err := RosterLine(text)
		if err != nil {
			warnings = append(warnings, clip.RowError("extract.Roster", "line %d: %v", line, err))
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, clip.ParseError("extract.Roster", "", "scan roster: %w", err)
	}
	if invalid && len(rows) == 0 {
		return nil, warnings, ErrNoData
	}
	return rows, warnings, nil
}

// RosterLine parses a single seven column line.
func RosterLine(line string) (RosterRow, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != rosterColumns {
		return RosterRow{}, clip.RowError("extract.RosterLine", "expected %d columns, got %d", rosterColumns, len(cols))
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	attempt, err := ordinal(cols[5])
	if err != nil {
		return RosterRow{}, clip.RowError("extract.RosterLine", "attempt: %v", err)
	}
	year, err := ordinal(cols[6])
	if err != nil {
		return RosterRow{}, clip.RowError("extract.RosterLine", "year: %v", err)
	}
	if cols[1] == "" || cols[2] == "" {
		return RosterRow{}, clip.RowError("extract.RosterLine", "missing student identity")
	}
	return RosterRow{
		Statutes:           cols[0],
		Name:               cols[1],
		ExternalID:         cols[2],
		Abbreviation:       cols[3],
		CourseAbbreviation: cols[4],
		Attempt:            attempt,
		Year:               year,
	}, nil
}

// ordinal parses "1º" or "2ª" style numbers.
func ordinal(s string) (int, error) {
	digits := strings.TrimRightFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	return strconv.Atoi(digits)
}
