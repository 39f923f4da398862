package patient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// SkippedRow explains why a roster row was not imported. Row is the
// 1-based row number in the sheet.
type SkippedRow struct {
	Row    int    `json:"row"`
	DNI    string `json:"dni"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Created []*Patient   `json:"created"`
	Skipped []SkippedRow `json:"skipped"`
	Total   int          `json:"total"`
}

var rosterDateFormats = []string{"2006-01-02", "02/01/2006", "01-02-06"}

func parseRosterDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range rosterDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

// ImportRoster reads an XLSX roster and creates one patient per data row.
// Expected header columns: dni, name, email, phone, procedure,
// procedure_date (order free, case-insensitive). A row with a DNI already
// present, in the database or earlier in the file, is skipped and
// reported; the import continues.
func (s *Service) ImportRoster(ctx context.Context, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return &ImportResult{}, nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"dni", "name", "email"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	cell := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	result := &ImportResult{Total: len(rows) - 1}
	seen := make(map[string]bool)

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		dni := cell(row, "dni")
		if dni == "" {
			result.Skipped = append(result.Skipped, SkippedRow{Row: i + 1, Reason: "missing dni"})
			continue
		}
		if seen[dni] {
			result.Skipped = append(result.Skipped, SkippedRow{Row: i + 1, DNI: dni, Reason: "duplicate dni in file"})
			continue
		}
		if _, err := s.repo.GetByDNI(ctx, dni); err == nil {
			seen[dni] = true
			result.Skipped = append(result.Skipped, SkippedRow{Row: i + 1, DNI: dni, Reason: "patient already exists"})
			continue
		}

		p := &Patient{
			DNI:    dni,
			Name:   cell(row, "name"),
			Email:  cell(row, "email"),
			Status: StatusPending,
		}
		if phone := cell(row, "phone"); phone != "" {
			p.Phone = &phone
		}
		if proc := cell(row, "procedure"); proc != "" {
			p.Procedure = &proc
		}
		procDate, err := parseRosterDate(cell(row, "procedure_date"))
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{Row: i + 1, DNI: dni, Reason: err.Error()})
			continue
		}
		p.ProcedureDate = procDate

		token, err := NewToken()
		if err != nil {
			return nil, err
		}
		p.Token = token

		if p.Name == "" || p.Email == "" {
			result.Skipped = append(result.Skipped, SkippedRow{Row: i + 1, DNI: dni, Reason: "missing name or email"})
			continue
		}

		if err := s.repo.Create(ctx, p); err != nil {
			result.Skipped = append(result.Skipped, SkippedRow{Row: i + 1, DNI: dni, Reason: err.Error()})
			continue
		}
		seen[dni] = true
		result.Created = append(result.Created, p)
	}
	return result, nil
}
