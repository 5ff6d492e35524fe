// Package tabstore implements the durable tabular record store used as the
// system of record and audit trail. Each table is one CSV file whose header
// row is the fixed schema. A single mutex serializes every read and write on
// a store instance, so all table operations appear atomic relative to each
// other. Correctness over throughput: record counts are small.
package tabstore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"dpdpshield/internal/domain"
)

// Store owns the durable table files under a base directory exclusively.
// One instance is created at startup and shared by all workflows.
type Store struct {
	dir string

	mu      sync.Mutex
	schemas map[string][]string
}

// New creates the base directory if missing and returns an empty store.
// Tables must be registered with CreateTable before use.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("tabstore: base directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrStorageUnavailable, err)
	}
	return &Store{
		dir:     dir,
		schemas: make(map[string][]string),
	}, nil
}

// Path returns the durable file backing a table. Used by the transport layer
// to serve raw table downloads; no other component writes these files.
func (s *Store) Path(table string) string {
	return filepath.Join(s.dir, table+".csv")
}

// CreateTable registers a table. Idempotent: if the file already exists on
// disk it is left untouched and its header row becomes the effective schema;
// otherwise an empty table with the given schema is written.
func (s *Store) CreateTable(name string, schema []string) error {
	if name == "" || len(schema) == 0 {
		return fmt.Errorf("%w: table name and schema are required", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(name)
	if _, err := os.Stat(path); err == nil {
		header, _, err := s.readTableLocked(name)
		if err != nil {
			return err
		}
		s.schemas[name] = header
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %s: %v", domain.ErrStorageUnavailable, path, err)
	}

	if err := s.writeTableLocked(name, schema, nil); err != nil {
		return err
	}
	s.schemas[name] = append([]string(nil), schema...)
	return nil
}

// Schema returns the field names of a registered table, in order.
func (s *Store) Schema(table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.schemas[table]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", domain.ErrValidation, table)
	}
	return append([]string(nil), schema...), nil
}

// ReadAll returns a snapshot of every record in insertion order. It acquires
// the same lock as writers, so it never observes a partially-written row.
func (s *Store) ReadAll(table string) ([]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[table]; !ok {
		return nil, fmt.Errorf("%w: unknown table %q", domain.ErrValidation, table)
	}
	_, rows, err := s.readTableLocked(table)
	return rows, err
}

// Append adds one record at the end of the table. Record keys outside the
// table schema are rejected with a validation error; missing fields are
// written as empty strings.
func (s *Store) Append(table string, rec map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(table, rec)
}

// UpdateWhere merges patch into every record whose keyField equals keyValue
// and rewrites the full table. Duplicates for non-unique key fields are all
// patched. Returns the number of matched records; zero matches is not an
// error here, callers decide.
func (s *Store) UpdateWhere(table, keyField, keyValue string, patch map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema, ok := s.schemas[table]
	if !ok {
		return 0, fmt.Errorf("%w: unknown table %q", domain.ErrValidation, table)
	}
	if err := checkFields(schema, patch); err != nil {
		return 0, err
	}
	if !contains(schema, keyField) {
		return 0, fmt.Errorf("%w: key field %q not in schema of %q", domain.ErrValidation, keyField, table)
	}

	header, rows, err := s.readTableLocked(table)
	if err != nil {
		return 0, err
	}
	matched := 0
	for _, row := range rows {
		if row[keyField] != keyValue {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		matched++
	}
	if matched == 0 {
		return 0, nil
	}
	if err := s.writeTableLocked(table, header, rows); err != nil {
		return 0, err
	}
	return matched, nil
}

// NextID scans existing values of idField, strips the prefix, parses the
// remaining digits and returns prefix + (max+1) zero-padded to width.
// Unparsable values are ignored. Callers that intend to append the returned
// ID must use AppendWithGeneratedID instead; NextID alone does not reserve.
func (s *Store) NextID(table, idField, prefix string, width int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIDLocked(table, idField, prefix, width)
}

// AppendWithGeneratedID generates the next monotonic ID for idField and
// appends the record under a single lock acquisition, closing the
// scan-then-append race. The generated ID is stored into rec[idField] and
// returned.
func (s *Store) AppendWithGeneratedID(table, idField, prefix string, width int, rec map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextIDLocked(table, idField, prefix, width)
	if err != nil {
		return "", err
	}
	rec[idField] = id
	if err := s.appendLocked(table, rec); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) nextIDLocked(table, idField, prefix string, width int) (string, error) {
	schema, ok := s.schemas[table]
	if !ok {
		return "", fmt.Errorf("%w: unknown table %q", domain.ErrValidation, table)
	}
	if !contains(schema, idField) {
		return "", fmt.Errorf("%w: id field %q not in schema of %q", domain.ErrValidation, idField, table)
	}
	_, rows, err := s.readTableLocked(table)
	if err != nil {
		return "", err
	}
	max := 0
	for _, row := range rows {
		n, ok := parseNumericSuffix(row[idField], prefix)
		if ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, width, max+1), nil
}

func (s *Store) appendLocked(table string, rec map[string]string) error {
	schema, ok := s.schemas[table]
	if !ok {
		return fmt.Errorf("%w: unknown table %q", domain.ErrValidation, table)
	}
	if err := checkFields(schema, rec); err != nil {
		return err
	}

	f, err := os.OpenFile(s.Path(table), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	line := make([]string, len(schema))
	for i, field := range schema {
		line[i] = rec[field]
	}
	if err := w.Write(line); err != nil {
		return fmt.Errorf("%w: append %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: append %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	return nil
}

func (s *Store) readTableLocked(table string) ([]string, []map[string]string, error) {
	f, err := os.Open(s.Path(table))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	lines, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	if len(lines) == 0 {
		return nil, nil, fmt.Errorf("%w: table %s has no header row", domain.ErrStorageUnavailable, table)
	}
	header := lines[0]
	rows := make([]map[string]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		row := make(map[string]string, len(header))
		for i, field := range header {
			if i < len(line) {
				row[field] = line[i]
			} else {
				row[field] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// writeTableLocked rewrites the whole table through a temp file + rename, so
// a crash mid-rewrite never leaves a torn table behind.
func (s *Store) writeTableLocked(table string, header []string, rows []map[string]string) error {
	tmp, err := os.CreateTemp(s.dir, table+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	tmpName := tmp.Name()
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	for _, row := range rows {
		line := make([]string, len(header))
		for i, field := range header {
			line[i] = row[field]
		}
		if err := w.Write(line); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, table, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	if err := os.Rename(tmpName, s.Path(table)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, table, err)
	}
	return nil
}

func checkFields(schema []string, rec map[string]string) error {
	for k := range rec {
		if !contains(schema, k) {
			return fmt.Errorf("%w: field %q not in table schema", domain.ErrValidation, k)
		}
	}
	return nil
}

func contains(schema []string, field string) bool {
	for _, f := range schema {
		if f == field {
			return true
		}
	}
	return false
}

// parseNumericSuffix extracts the first run of digits after removing the
// prefix. Returns false for values that carry no digits at all.
func parseNumericSuffix(value, prefix string) (int, bool) {
	rest := strings.ReplaceAll(value, prefix, "")
	start := -1
	for i, r := range rest {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rest[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
