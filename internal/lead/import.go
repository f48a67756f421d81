package lead

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/leadcrm/crm/internal/demo"
	"github.com/leadcrm/crm/internal/platform"
	"github.com/leadcrm/crm/internal/storage"
	"github.com/leadcrm/crm/internal/util"
)

// MaxImportRows bounds one upload. All rows go out in a single INSERT, so
// rows times columns must stay under the 65535 bind parameters of Postgres.
const MaxImportRows = 5000

var (
	ErrMissingColumns = errors.New("csv must have name and phone columns")
	ErrTooManyRows    = fmt.Errorf("csv has more than %d rows", MaxImportRows)
	ErrEmptyFile      = errors.New("csv is empty")
	ErrInvalidCSV     = errors.New("csv cannot be read")
)

// IsInputError reports whether err is caused by the uploaded file rather
// than by storage.
func IsInputError(err error) bool {
	return errors.Is(err, ErrMissingColumns) || errors.Is(err, ErrTooManyRows) ||
		errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrInvalidCSV)
}

// headerAliases maps accepted header names to lead columns.
var headerAliases = map[string]string{
	"name":   "name",
	"이름":     "name",
	"고객명":    "name",
	"phone":  "phone",
	"전화번호":   "phone",
	"연락처":    "phone",
	"email":  "email",
	"이메일":    "email",
	"source": "source",
	"유입경로":   "source",
	"memo":   "memo",
	"메모":     "memo",
}

// RowError reports a skipped line. Line counts from 1 and includes the header.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// importRow carries the same limits as a lead created through the API.
type importRow struct {
	Name   string `json:"name" validate:"required,max=100"`
	Phone  string `json:"phone" validate:"required,max=30"`
	Email  string `json:"email" validate:"omitempty,email"`
	Source string `json:"source" validate:"omitempty,max=100"`
	Memo   string `json:"memo" validate:"omitempty,max=2000"`
}

func checkRow(row platform.Row) error {
	str := func(col string) string {
		v, _ := row[col].(string)
		return v
	}
	return util.ValidateStruct(importRow{
		Name:   str("name"),
		Phone:  str("phone"),
		Email:  str("email"),
		Source: str("source"),
		Memo:   str("memo"),
	})
}

// ImportResult summarises a CSV import.
type ImportResult struct {
	Inserted   int        `json:"inserted"`
	Skipped    []RowError `json:"skipped"`
	ArchiveURL string     `json:"archive_url,omitempty"`
}

// ParseCSV turns a lead CSV into rows ready for insertion.
func ParseCSV(r io.Reader) ([]platform.Row, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", ErrInvalidCSV, err)
	}

	columns := make([]string, len(header))
	found := map[string]bool{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if col, ok := headerAliases[h]; ok {
			columns[i] = col
			found[col] = true
		}
	}
	if !found["name"] || !found["phone"] {
		return nil, nil, ErrMissingColumns
	}

	var (
		rows    []platform.Row
		skipped []RowError
		line    = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			skipped = append(skipped, RowError{Line: line, Reason: err.Error()})
			continue
		}
		if len(rows) >= MaxImportRows {
			return nil, nil, ErrTooManyRows
		}

		row := platform.Row{"status": string(StatusNew)}
		for i, v := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				row[columns[i]] = v
			}
		}
		if row["name"] == nil || row["phone"] == nil {
			if len(row) == 1 {
				continue
			}
			skipped = append(skipped, RowError{Line: line, Reason: "name and phone are required"})
			continue
		}
		if err := checkRow(row); err != nil {
			skipped = append(skipped, RowError{Line: line, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// Import inserts the leads of a CSV file and archives the original. The rows
// are written by one statement, so either all of them land or none do.
// Archiving is best effort.
func (s *Service) Import(ctx context.Context, filename string, data []byte) (ImportResult, error) {
	rows, skipped, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return ImportResult{}, err
	}
	result := ImportResult{Skipped: skipped}
	if result.Skipped == nil {
		result.Skipped = []RowError{}
	}

	now := s.now().UTC()
	if len(rows) > 0 {
		for _, r := range rows {
			r["created_at"] = now
			r["updated_at"] = now
		}
		inserted, err := s.client(ctx).Insert(ctx, Table, rows...)
		if err != nil {
			return ImportResult{}, fmt.Errorf("insert %d leads: %w", len(rows), err)
		}
		result.Inserted = len(inserted)
	}

	key := archiveKey(demo.FromContext(ctx), filename, now.Format("2006/01/02"))
	archived, err := s.uploader.Upload(ctx, storage.UploadInput{
		Key:         key,
		Body:        data,
		ContentType: "text/csv",
	})
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		s.logger.Debug().Msg("csv archive skipped, storage not configured")
	case err != nil:
		s.logger.Warn().Err(err).Str("key", key).Msg("csv archive failed")
	default:
		result.ArchiveURL = archived.URL
	}

	s.logger.Info().Int("inserted", result.Inserted).Int("skipped", len(result.Skipped)).Msg("leads imported")
	return result, nil
}

func archiveKey(sessionID, filename, day string) string {
	if sessionID == "" {
		sessionID = demo.TemplateSession
	}
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || name == "." || name == "/" {
		name = "leads.csv"
	}
	return fmt.Sprintf("uploads/%s/%s/%s-%s", sessionID, day, uuid.NewString(), name)
}
