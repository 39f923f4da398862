package patient

import (
	"bytes"
	"context"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildRoster(t *testing.T, rows [][]string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, val := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	return &buf
}

var rosterHeader = []string{"dni", "name", "email", "phone", "procedure", "procedure_date"}

func TestImportRoster_CreatesPatients(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	buf := buildRoster(t, [][]string{
		rosterHeader,
		{"12345678A", "Ana Torres", "ana@example.com", "+34600111222", "colonoscopia", "2026-09-12"},
		{"87654321B", "Luis Vega", "luis@example.com", "", "", ""},
	})

	result, err := svc.ImportRoster(context.Background(), buf)
	if err != nil {
		t.Fatalf("ImportRoster() error: %v", err)
	}

	if len(result.Created) != 2 {
		t.Fatalf("expected 2 created, got %d (skipped: %+v)", len(result.Created), result.Skipped)
	}
	if result.Total != 2 {
		t.Errorf("expected total 2, got %d", result.Total)
	}

	ana := result.Created[0]
	if ana.DNI != "12345678A" {
		t.Errorf("unexpected dni %s", ana.DNI)
	}
	if len(ana.Token) != 32 {
		t.Errorf("expected generated token, got %q", ana.Token)
	}
	if ana.Phone == nil || *ana.Phone != "+34600111222" {
		t.Errorf("expected phone set, got %v", ana.Phone)
	}
	if ana.ProcedureDate == nil || ana.ProcedureDate.Format("2006-01-02") != "2026-09-12" {
		t.Errorf("expected procedure date parsed, got %v", ana.ProcedureDate)
	}
	if ana.Status != StatusPending {
		t.Errorf("expected pending status, got %s", ana.Status)
	}

	luis := result.Created[1]
	if luis.Phone != nil || luis.Procedure != nil || luis.ProcedureDate != nil {
		t.Error("expected optional fields nil for empty cells")
	}
}

func TestImportRoster_SkipsDuplicatesAndContinues(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	// Patient already in the database.
	existing := &Patient{DNI: "12345678A", Name: "Ana", Email: "ana@example.com"}
	if err := svc.CreatePatient(context.Background(), existing); err != nil {
		t.Fatalf("CreatePatient() error: %v", err)
	}

	buf := buildRoster(t, [][]string{
		rosterHeader,
		{"12345678A", "Ana Torres", "ana@example.com", "", "", ""},
		{"87654321B", "Luis Vega", "luis@example.com", "", "", ""},
		{"87654321B", "Luis Otra Vez", "luis2@example.com", "", "", ""},
	})

	result, err := svc.ImportRoster(context.Background(), buf)
	if err != nil {
		t.Fatalf("ImportRoster() error: %v", err)
	}

	if len(result.Created) != 1 {
		t.Fatalf("expected 1 created, got %d", len(result.Created))
	}
	if result.Created[0].DNI != "87654321B" {
		t.Errorf("expected 87654321B created, got %s", result.Created[0].DNI)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped, got %d", len(result.Skipped))
	}
	if result.Skipped[0].Reason != "patient already exists" {
		t.Errorf("unexpected skip reason %q", result.Skipped[0].Reason)
	}
	if result.Skipped[1].Reason != "duplicate dni in file" {
		t.Errorf("unexpected skip reason %q", result.Skipped[1].Reason)
	}
}

func TestImportRoster_MissingRequiredColumn(t *testing.T) {
	svc := NewService(newMockRepo())

	buf := buildRoster(t, [][]string{
		{"dni", "name"},
		{"12345678A", "Ana"},
	})

	if _, err := svc.ImportRoster(context.Background(), buf); err == nil {
		t.Error("expected error for missing email column")
	}
}

func TestImportRoster_BadDateSkipsRow(t *testing.T) {
	svc := NewService(newMockRepo())

	buf := buildRoster(t, [][]string{
		rosterHeader,
		{"12345678A", "Ana", "ana@example.com", "", "", "not-a-date"},
		{"87654321B", "Luis", "luis@example.com", "", "", "12/09/2026"},
	})

	result, err := svc.ImportRoster(context.Background(), buf)
	if err != nil {
		t.Fatalf("ImportRoster() error: %v", err)
	}
	if len(result.Created) != 1 || result.Created[0].DNI != "87654321B" {
		t.Fatalf("expected only the valid row imported, got %+v", result.Created)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].DNI != "12345678A" {
		t.Fatalf("expected bad-date row skipped, got %+v", result.Skipped)
	}
}
