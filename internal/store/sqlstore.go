package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// isUniqueViolation reports whether err is a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .practicum) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// Single writer; concurrent workers serialize on the pool instead of
	// hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableCount)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableCount == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion1); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	err = s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		v = schemaVersion1
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", v); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	if v != schemaVersion1 {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

func (s *SqlStore) Close() error {
	return s.db.Close()
}

// --- Tasks ---

func (s *SqlStore) CreateTask(t *Task) (int64, error) {
	if t == nil {
		return 0, errors.New("task is nil")
	}
	checks, err := json.Marshal(t.Checks)
	if err != nil {
		return 0, fmt.Errorf("marshal checks: %w", err)
	}
	attachments, err := json.Marshal(t.Attachments)
	if err != nil {
		return 0, fmt.Errorf("marshal attachments: %w", err)
	}
	createdAt := t.CreatedAt
	if createdAt == "" {
		createdAt = nowUTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO tasks(participant_id, task_id, round, nonce, template_id, brief,
		                   checks, attachments, callback_url, endpoint, status_code,
		                   delivery_error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
		t.Participant, t.TaskID, t.Round, t.Nonce, t.TemplateID, t.Brief,
		checks, attachments, t.CallbackURL, t.Endpoint, createdAt,
	)
	if isUniqueViolation(err) {
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt = createdAt
	return id, nil
}

const taskColumns = `id, participant_id, task_id, round, nonce, template_id, brief,
	checks, attachments, callback_url, endpoint, status_code, delivery_error, created_at`

func (s *SqlStore) scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var checks, attachments []byte
	var statusCode sql.NullInt64
	var deliveryErr sql.NullString
	err := row.Scan(&t.ID, &t.Participant, &t.TaskID, &t.Round, &t.Nonce,
		&t.TemplateID, &t.Brief, &checks, &attachments, &t.CallbackURL,
		&t.Endpoint, &statusCode, &deliveryErr, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(checks) > 0 {
		if err := json.Unmarshal(checks, &t.Checks); err != nil {
			return nil, fmt.Errorf("unmarshal checks: %w", err)
		}
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &t.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	t.StatusCode = int(statusCode.Int64)
	t.DeliveryError = nullStr(deliveryErr)
	return &t, nil
}

func (s *SqlStore) GetTask(participant, taskID string, round int) (*Task, error) {
	row := s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE participant_id = ? AND task_id = ? AND round = ?`,
		participant, taskID, round,
	)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SqlStore) GetTaskByNonce(nonce string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE nonce = ?`, nonce)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by nonce: %w", err)
	}
	return t, nil
}

func (s *SqlStore) listTasks(query string, args ...any) ([]*Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var list []*Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

func (s *SqlStore) ListTasksByRound(round int) ([]*Task, error) {
	return s.listTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE round = ? ORDER BY created_at, id`, round)
}

func (s *SqlStore) ListTasksByParticipant(participant string) ([]*Task, error) {
	return s.listTasks(
		`SELECT `+taskColumns+` FROM tasks WHERE participant_id = ? ORDER BY round, id`, participant)
}

func (s *SqlStore) UpdateTaskDelivery(id int64, statusCode int, deliveryErr string) error {
	_, err := s.db.Exec(
		"UPDATE tasks SET status_code = ?, delivery_error = ? WHERE id = ?",
		statusCode, deliveryErr, id,
	)
	if err != nil {
		return fmt.Errorf("update task delivery: %w", err)
	}
	return nil
}

// --- Submissions ---

func (s *SqlStore) CreateSubmission(sub *Submission) (int64, error) {
	if sub == nil {
		return 0, errors.New("submission is nil")
	}
	receivedAt := sub.ReceivedAt
	if receivedAt == "" {
		receivedAt = nowUTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO submissions(participant_id, task_id, round, nonce,
		                         artifact_location, content_id, rendered_url, received_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Participant, sub.TaskID, sub.Round, sub.Nonce,
		sub.ArtifactLocation, sub.ContentID, sub.RenderedURL, receivedAt,
	)
	if isUniqueViolation(err) {
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.ReceivedAt = receivedAt
	return id, nil
}

const submissionColumns = `id, participant_id, task_id, round, nonce,
	artifact_location, content_id, rendered_url, received_at`

func scanSubmission(row interface{ Scan(...any) error }) (*Submission, error) {
	var sub Submission
	err := row.Scan(&sub.ID, &sub.Participant, &sub.TaskID, &sub.Round, &sub.Nonce,
		&sub.ArtifactLocation, &sub.ContentID, &sub.RenderedURL, &sub.ReceivedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SqlStore) GetSubmission(participant, taskID string, round int) (*Submission, error) {
	row := s.db.QueryRow(
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE participant_id = ? AND task_id = ? AND round = ?`,
		participant, taskID, round,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *SqlStore) GetSubmissionByID(id int64) (*Submission, error) {
	row := s.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *SqlStore) listSubmissions(query string, args ...any) ([]*Submission, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var list []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		list = append(list, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return list, nil
}

func (s *SqlStore) ListSubmissionsByRound(round int) ([]*Submission, error) {
	return s.listSubmissions(
		`SELECT `+submissionColumns+` FROM submissions WHERE round = ? ORDER BY received_at, id`, round)
}

func (s *SqlStore) ListUnevaluatedSubmissions(round int) ([]*Submission, error) {
	return s.listSubmissions(
		`SELECT s.id, s.participant_id, s.task_id, s.round, s.nonce,
		        s.artifact_location, s.content_id, s.rendered_url, s.received_at
		 FROM submissions s
		 LEFT JOIN check_results r ON r.submission_id = s.id
		 WHERE s.round = ? AND r.id IS NULL
		 ORDER BY s.received_at, s.id`, round)
}

// --- Check results ---

func (s *SqlStore) ReplaceResults(submissionID int64, results []*CheckResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM check_results WHERE submission_id = ?", submissionID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	for _, r := range results {
		createdAt := r.CreatedAt
		if createdAt == "" {
			createdAt = nowUTC()
		}
		res, err := tx.Exec(
			`INSERT INTO check_results(submission_id, check_name, score, reason, evidence, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			submissionID, r.Check, r.Score, r.Reason, r.Evidence, createdAt,
		)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		id, _ := res.LastInsertId()
		r.ID = id
		r.SubmissionID = submissionID
		r.CreatedAt = createdAt
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SqlStore) listResults(query string, args ...any) ([]*CheckResult, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	var list []*CheckResult
	for rows.Next() {
		var r CheckResult
		var reason, evidence sql.NullString
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.Check, &r.Score,
			&reason, &evidence, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Reason = nullStr(reason)
		r.Evidence = nullStr(evidence)
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return list, nil
}

func (s *SqlStore) ListResultsBySubmission(submissionID int64) ([]*CheckResult, error) {
	return s.listResults(
		`SELECT id, submission_id, check_name, score, reason, evidence, created_at
		 FROM check_results WHERE submission_id = ? ORDER BY id`, submissionID)
}

func (s *SqlStore) ListResultsForParticipantRound(participant string, round int) ([]*CheckResult, error) {
	return s.listResults(
		`SELECT r.id, r.submission_id, r.check_name, r.score, r.reason, r.evidence, r.created_at
		 FROM check_results r
		 JOIN submissions s ON r.submission_id = s.id
		 WHERE s.participant_id = ? AND s.round = ?
		 ORDER BY r.id`, participant, round)
}

// --- Participants ---

func (s *SqlStore) UpsertParticipant(p *Participant) error {
	if p == nil {
		return errors.New("participant is nil")
	}
	createdAt := p.CreatedAt
	if createdAt == "" {
		createdAt = nowUTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO participants(id, endpoint, secret_hash, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET endpoint = excluded.endpoint,
		                               secret_hash = excluded.secret_hash`,
		p.ID, p.Endpoint, p.SecretHash, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *SqlStore) GetParticipant(id string) (*Participant, error) {
	var p Participant
	err := s.db.QueryRow(
		"SELECT id, endpoint, secret_hash, created_at FROM participants WHERE id = ?", id,
	).Scan(&p.ID, &p.Endpoint, &p.SecretHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

func (s *SqlStore) ListParticipants() ([]*Participant, error) {
	rows, err := s.db.Query(
		"SELECT id, endpoint, secret_hash, created_at FROM participants ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	var list []*Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.Endpoint, &p.SecretHash, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		list = append(list, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return list, nil
}

func (s *SqlStore) RemoveParticipant(id string) error {
	_, err := s.db.Exec("DELETE FROM participants WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

// --- Export ---

func (s *SqlStore) ExportRows() ([]*ExportRow, error) {
	rows, err := s.db.Query(
		`SELECT s.participant_id, s.task_id, s.round, r.check_name, r.score, r.reason,
		        s.artifact_location, s.content_id, s.rendered_url, r.created_at
		 FROM check_results r
		 JOIN submissions s ON r.submission_id = s.id
		 ORDER BY s.participant_id, s.task_id, s.round, r.id`)
	if err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	defer rows.Close()
	var list []*ExportRow
	for rows.Next() {
		var row ExportRow
		var reason sql.NullString
		if err := rows.Scan(&row.Participant, &row.TaskID, &row.Round, &row.Check,
			&row.Score, &reason, &row.ArtifactLocation, &row.ContentID,
			&row.RenderedURL, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		row.Reason = nullStr(reason)
		list = append(list, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export rows: %w", err)
	}
	return list, nil
}
