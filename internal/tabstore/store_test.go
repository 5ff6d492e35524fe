package tabstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"dpdpshield/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.CreateTable("things", []string{"thing_id", "name", "status"}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return s
}

func TestCreateTableIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.CreateTable("things", []string{"thing_id", "name"}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := s.Append("things", map[string]string{"thing_id": "T-1", "name": "first"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Re-opening the same directory must leave existing data untouched.
	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if err := reopened.CreateTable("things", []string{"thing_id", "name"}); err != nil {
		t.Fatalf("recreate table: %v", err)
	}
	rows, err := reopened.ReadAll("things")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "first" {
		t.Fatalf("expected surviving row, got %v", rows)
	}
}

func TestAppendPreservesInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		rec := map[string]string{"thing_id": fmt.Sprintf("T-%d", i)}
		if err := s.Append("things", rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	rows, err := s.ReadAll("things")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row["thing_id"] != fmt.Sprintf("T-%d", i) {
			t.Fatalf("row %d out of order: %v", i, row)
		}
		// Fields absent at write time read as empty strings.
		if row["name"] != "" || row["status"] != "" {
			t.Fatalf("expected empty optional fields, got %v", row)
		}
	}
}

func TestAppendRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)
	err := s.Append("things", map[string]string{"thing_id": "T-1", "bogus": "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	rows, err := s.ReadAll("things")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rejected append must not mutate the table, got %v", rows)
	}
}

func TestUpdateWherePatchesAllMatches(t *testing.T) {
	s := newTestStore(t)
	for _, rec := range []map[string]string{
		{"thing_id": "T-1", "status": "NEW"},
		{"thing_id": "T-2", "status": "NEW"},
		{"thing_id": "T-1", "status": "NEW"},
	} {
		if err := s.Append("things", rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	matched, err := s.UpdateWhere("things", "thing_id", "T-1", map[string]string{"status": "DONE"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if matched != 2 {
		t.Fatalf("expected 2 matches, got %d", matched)
	}
	rows, _ := s.ReadAll("things")
	if rows[0]["status"] != "DONE" || rows[2]["status"] != "DONE" || rows[1]["status"] != "NEW" {
		t.Fatalf("unexpected rows after patch: %v", rows)
	}

	matched, err = s.UpdateWhere("things", "thing_id", "T-404", map[string]string{"status": "DONE"})
	if err != nil {
		t.Fatalf("update no match: %v", err)
	}
	if matched != 0 {
		t.Fatalf("expected 0 matches, got %d", matched)
	}
}

func TestUpdateWhereRejectsUnknownPatchField(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.UpdateWhere("things", "thing_id", "T-1", map[string]string{"bogus": "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNextIDSkipsUnparsableAndNeverReuses(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"T-0001", "garbage", "T-0007", ""} {
		if err := s.Append("things", map[string]string{"thing_id": id}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	id, err := s.NextID("things", "thing_id", "T-", 4)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if id != "T-0008" {
		t.Fatalf("expected T-0008, got %s", id)
	}
}

func TestNextIDOnEmptyTable(t *testing.T) {
	s := newTestStore(t)
	id, err := s.NextID("things", "thing_id", "T-", 4)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if id != "T-0001" {
		t.Fatalf("expected T-0001, got %s", id)
	}
}

func TestAppendWithGeneratedIDConcurrent(t *testing.T) {
	s := newTestStore(t)
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendWithGeneratedID("things", "thing_id", "T-", 4, map[string]string{"status": "NEW"}); err != nil {
				t.Errorf("append with id: %v", err)
			}
		}()
	}
	wg.Wait()

	rows, err := s.ReadAll("things")
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(rows) != workers {
		t.Fatalf("expected %d rows, got %d", workers, len(rows))
	}
	seen := make(map[string]bool, workers)
	for _, row := range rows {
		id := row["thing_id"]
		if seen[id] {
			t.Fatalf("duplicate generated id %s", id)
		}
		seen[id] = true
	}
	for i := 1; i <= workers; i++ {
		want := fmt.Sprintf("T-%04d", i)
		if !seen[want] {
			t.Fatalf("missing id %s in %v", want, seen)
		}
	}
}

func TestUnknownTableFailsValidation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ReadAll("nope"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := s.Append("nope", map[string]string{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
