// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mdhender/limsd/model"
)

// ErrUnknownCase is returned when an operation references a case that was
// never registered.
type ErrUnknownCase struct {
	CaseID string
}

func (e *ErrUnknownCase) Error() string {
	return fmt.Sprintf("unknown case %q", e.CaseID)
}

// RegisterCase inserts a case row if it does not already exist. Calling it
// twice with the same id is a no-op the second time. It reports whether the
// row was created by this call.
func (s *SQLiteStore) RegisterCase(ctx context.Context, caseID, description string) (bool, error) {
	const query = `INSERT OR IGNORE INTO cases (case_id, created_at, description) VALUES (?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query, caseID, time.Now().UTC().Format(time.RFC3339Nano), description)
	if err != nil {
		return false, fmt.Errorf("insert case: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert case: %w", err)
	}
	return n > 0, nil
}

// CaseExists reports whether a case is registered.
func (s *SQLiteStore) CaseExists(ctx context.Context, caseID string) (bool, error) {
	const query = `SELECT 1 FROM cases WHERE case_id = ? LIMIT 1`
	var one int
	err := s.db.QueryRowContext(ctx, query, caseID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query case: %w", err)
	}
	return true, nil
}

// ListCases returns all cases ordered by creation time.
func (s *SQLiteStore) ListCases(ctx context.Context) ([]model.Case, error) {
	const query = `SELECT case_id, created_at, COALESCE(description, '') FROM cases ORDER BY created_at, case_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		var c model.Case
		var createdAt string
		if err := rows.Scan(&c.CaseID, &createdAt, &c.Description); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpdateDescription sets the description of an existing case. Unknown
// case ids are a no-op; the meta document is the caller's source of truth.
func (s *SQLiteStore) UpdateDescription(ctx context.Context, caseID, description string) error {
	const query = `UPDATE cases SET description = ? WHERE case_id = ?`
	if _, err := s.db.ExecContext(ctx, query, description, caseID); err != nil {
		return fmt.Errorf("update description: %w", err)
	}
	return nil
}

// RecordResult appends one immutable result row for a registered case.
func (s *SQLiteStore) RecordResult(ctx context.Context, caseID, testName string, payload model.Value, units, sampleType, imageID string) (*model.TestResult, error) {
	exists, err := s.CaseExists(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &ErrUnknownCase{CaseID: caseID}
	}

	resultJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now().UTC()

	const query = `
		INSERT INTO test_results (case_id, test_name, result_json, units, sample_type, image_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		caseID,
		testName,
		string(resultJSON),
		units,
		nullString(sampleType),
		nullString(imageID),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert test_result: %w", err)
	}

	tr := &model.TestResult{
		CaseID:     caseID,
		TestName:   testName,
		Result:     payload,
		Units:      units,
		SampleType: sampleType,
		ImageID:    imageID,
		CreatedAt:  now,
	}
	tr.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get test_result id: %w", err)
	}
	return tr, nil
}

// ResultsByCase returns all result rows for a case in the order they were
// recorded.
func (s *SQLiteStore) ResultsByCase(ctx context.Context, caseID string) ([]model.TestResult, error) {
	const query = `
		SELECT id, case_id, test_name, result_json, units, sample_type, image_id, created_at
		FROM test_results
		WHERE case_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("query test_results: %w", err)
	}
	defer rows.Close()

	var results []model.TestResult
	for rows.Next() {
		var tr model.TestResult
		var resultJSON, createdAt string
		var sampleType, imageID sql.NullString

		if err := rows.Scan(&tr.ID, &tr.CaseID, &tr.TestName, &resultJSON, &tr.Units, &sampleType, &imageID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan test_result: %w", err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &tr.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		tr.SampleType = sampleType.String
		tr.ImageID = imageID.String
		tr.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		results = append(results, tr)
	}
	return results, rows.Err()
}

// PurgeCase deletes the case row and all of its result rows in one
// transaction. A reader never sees the case gone with results remaining,
// or the reverse.
func (s *SQLiteStore) PurgeCase(ctx context.Context, caseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM test_results WHERE case_id = ?`, caseID); err != nil {
		return fmt.Errorf("delete test_results: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE case_id = ?`, caseID)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	if n == 0 {
		return &ErrUnknownCase{CaseID: caseID}
	}
	return nil
}
