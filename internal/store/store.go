// Package store persists extraction results as flat files named after the
// page host and the time of writing.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Tabular output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// structuredJSON keeps non-ASCII text and markup characters unescaped.
var structuredJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Field is one named cell of a tabular record.
type Field struct {
	Name  string
	Value string
}

// Record is an ordered set of fields. The first record of a batch defines
// the header row.
type Record []Field

// Get returns the value of the named field.
func (r Record) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Store writes records into a single output directory.
type Store struct {
	dir     string
	tabular string
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTabularFormat selects csv (default) or xlsx tabular output.
func WithTabularFormat(format string) Option {
	return func(s *Store) {
		if format != "" {
			s.tabular = strings.ToLower(format)
		}
	}
}

// New creates the output directory if needed and returns a Store writing into it.
func New(dir string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		dir:     dir,
		tabular: FormatCSV,
		now:     time.Now,
		log:     logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tabular != FormatCSV && s.tabular != FormatXLSX {
		return nil, &PersistenceError{Op: "init", Path: dir, Err: fmt.Errorf("unsupported tabular format %q", s.tabular)}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "init", Path: dir, Err: err}
	}
	return s, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// WriteTabular writes records with a header row taken from the first
// record's field names and returns the file path.
func (s *Store) WriteTabular(records []Record, pageURL string) (string, error) {
	if len(records) == 0 || len(records[0]) == 0 {
		s.log.Warn("No records provided for tabular output.", zap.String("url", pageURL))
		return "", &PersistenceError{Op: "write_tabular", Err: ErrEmptyInput}
	}

	header := make([]string, len(records[0]))
	for i, f := range records[0] {
		header[i] = f.Name
	}
	rows, err := alignRows(header, records)
	if err != nil {
		return "", &PersistenceError{Op: "write_tabular", Err: err}
	}

	path := s.pathFor(pageURL, s.tabular)
	switch s.tabular {
	case FormatXLSX:
		err = writeXLSX(path, header, rows)
	default:
		err = writeCSV(path, header, rows)
	}
	if err != nil {
		s.log.Error("Failed to write tabular output.", zap.String("path", path), zap.Error(err))
		return "", &PersistenceError{Op: "write_tabular", Path: path, Err: err}
	}

	s.log.Info("Data saved.", zap.String("format", s.tabular), zap.String("path", path), zap.Int("records", len(rows)))
	return path, nil
}

// WriteStructured serializes data as indented JSON and returns the file path.
func (s *Store) WriteStructured(data interface{}, pageURL string) (string, error) {
	if isEmpty(data) {
		s.log.Warn("No data provided for structured output.", zap.String("url", pageURL))
		return "", &PersistenceError{Op: "write_structured", Err: ErrEmptyInput}
	}

	payload, err := structuredJSON.MarshalIndent(data, "", "    ")
	if err != nil {
		return "", &PersistenceError{Op: "write_structured", Err: fmt.Errorf("serialize: %w", err)}
	}

	path := s.pathFor(pageURL, "json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		s.log.Error("Failed to write structured output.", zap.String("path", path), zap.Error(err))
		return "", &PersistenceError{Op: "write_structured", Path: path, Err: err}
	}

	s.log.Info("Data saved.", zap.String("format", "json"), zap.String("path", path))
	return path, nil
}

func (s *Store) pathFor(pageURL, ext string) string {
	return filepath.Join(s.dir, FileName(pageURL, s.now(), ext))
}

// FileName builds "{sanitized_host}_{YYYYMMDD_HHMMSS_micro}.{ext}".
func FileName(pageURL string, at time.Time, ext string) string {
	stamp := fmt.Sprintf("%s_%06d", at.Format("20060102_150405"), at.Nanosecond()/1000)
	return fmt.Sprintf("%s_%s.%s", SanitizeHost(hostOf(pageURL)), stamp, ext)
}

// SanitizeHost replaces every character outside [A-Za-z0-9._] with '_'.
func SanitizeHost(host string) string {
	if host == "" {
		return "unknown_host"
	}
	var b strings.Builder
	b.Grow(len(host))
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// hostOf returns the authority part of a URL, tolerating a missing scheme.
func hostOf(pageURL string) string {
	rest := pageURL
	if i := strings.Index(rest, "//"); i >= 0 {
		rest = rest[i+2:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func alignRows(header []string, records []Record) ([][]string, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	rows := make([][]string, 0, len(records))
	for n, rec := range records {
		row := make([]string, len(header))
		for _, f := range rec {
			i, ok := index[f.Name]
			if !ok {
				return nil, fmt.Errorf("record %d: field %q is not in the header", n, f.Name)
			}
			row[i] = f.Value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func writeXLSX(path string, header []string, rows [][]string) (err error) {
	book := excelize.NewFile()
	defer func() {
		if cerr := book.Close(); err == nil {
			err = cerr
		}
	}()

	sheet := book.GetSheetName(0)
	if err := setRow(book, sheet, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(book, sheet, i+2, row); err != nil {
			return err
		}
	}
	return book.SaveAs(path)
}

func setRow(book *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return book.SetSheetRow(sheet, cell, &cells)
}

// isEmpty treats nil, nil pointers and zero-length strings, maps, slices and
// arrays as nothing to persist.
func isEmpty(data interface{}) bool {
	if data == nil {
		return true
	}
	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return v.Len() == 0
	}
	return false
}
