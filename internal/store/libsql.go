package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/floridafirst/sopflow/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork), so in-flight
// instances survive a process restart.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/var/lib/sopflow/sopflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow instead of Exec.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Instances ---

const instanceColumns = `id, definition_id, status, priority, context, current_step, completed_steps, failed_steps,
	assigned_team, total_steps, completed_count, progress_percentage, escalations,
	started_at, expected_completion_at, actual_completion_at`

func (s *LibSQLStore) CreateInstance(ctx context.Context, inst *schema.WorkflowInstance, execs []*schema.WorkflowExecution) error {
	row, err := instanceArgs(inst)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row...,
	); err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	for i, e := range execs {
		result, err := nullableMap(e.Result)
		if err != nil {
			return fmt.Errorf("marshal execution result: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO executions (instance_id, step_id, ordinal, step_type, status, assigned_to, started_at, completed_at,
				due_at, overdue, attempts, escalated, escalation_reason, result, completed_by, notes, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.InstanceID, e.StepID, i, string(e.StepType), string(e.Status), e.AssignedTo,
			nullTime(e.StartedAt), nullTime(e.CompletedAt), e.DueAt.UTC(), e.Overdue, e.Attempts, e.Escalated,
			nullStr(e.EscalationReason), result, nullStr(e.CompletedBy), nullStr(e.Notes), nullStr(e.Error),
		); err != nil {
			return fmt.Errorf("insert execution %s: %w", e.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit instance: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetInstance(ctx context.Context, id string) (*schema.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("instance", id)
	}
	return inst, err
}

func (s *LibSQLStore) UpdateInstance(ctx context.Context, inst *schema.WorkflowInstance) error {
	args, err := instanceArgs(inst)
	if err != nil {
		return err
	}
	// Drop id from the front and append it for the WHERE clause.
	args = append(args[1:], inst.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET definition_id = ?, status = ?, priority = ?, context = ?, current_step = ?,
			completed_steps = ?, failed_steps = ?, assigned_team = ?, total_steps = ?, completed_count = ?,
			progress_percentage = ?, escalations = ?, started_at = ?, expected_completion_at = ?,
			actual_completion_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "instance", inst.ID)
}

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*schema.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.DefinitionID != "" {
		where = append(where, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// --- Executions ---

const executionColumns = `e.instance_id, e.step_id, e.step_type, e.status, e.assigned_to, e.started_at, e.completed_at,
	e.due_at, e.overdue, e.attempts, e.escalated, e.escalation_reason, e.result, e.completed_by, e.notes, e.error`

func (s *LibSQLStore) GetExecution(ctx context.Context, instanceID, stepID string) (*schema.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions e WHERE e.instance_id = ? AND e.step_id = ?`,
		instanceID, stepID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", instanceID+"/"+stepID)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, e *schema.WorkflowExecution) error {
	result, err := nullableMap(e.Result)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, assigned_to = ?, started_at = ?, completed_at = ?, due_at = ?,
			overdue = ?, attempts = ?, escalated = ?, escalation_reason = ?, result = ?, completed_by = ?,
			notes = ?, error = ?
		 WHERE instance_id = ? AND step_id = ?`,
		string(e.Status), e.AssignedTo, nullTime(e.StartedAt), nullTime(e.CompletedAt), e.DueAt.UTC(),
		e.Overdue, e.Attempts, e.Escalated, nullStr(e.EscalationReason), result,
		nullStr(e.CompletedBy), nullStr(e.Notes), nullStr(e.Error),
		e.InstanceID, e.StepID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", e.InstanceID+"/"+e.StepID)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions e JOIN instances i ON i.id = e.instance_id`
	var where []string
	var args []any

	if filter.InstanceID != "" {
		where = append(where, "e.instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.Status != "" {
		where = append(where, "e.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.StepType != "" {
		where = append(where, "e.step_type = ?")
		args = append(args, string(filter.StepType))
	}
	if filter.ActiveOnly {
		where = append(where, "i.status IN (?, ?)")
		args = append(args, string(schema.InstanceStatusActive), string(schema.InstanceStatusPaused))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY i.rowid ASC, e.ordinal ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE instance_id = ?`, event.InstanceID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (instance_id, step_id, event_type, payload, actor_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.InstanceID, nullStr(event.StepID), event.Type, nullRaw(event.Payload),
		nullStr(event.ActorID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, step_id, event_type, payload, actor_id, timestamp, sequence
		 FROM events WHERE instance_id = ? AND sequence > ? ORDER BY sequence ASC`,
		instanceID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	query := `SELECT id, instance_id, step_id, event_type, payload, actor_id, timestamp, sequence
		FROM events WHERE event_type = ?`
	args := []any{eventType}

	if filter.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, filter.InstanceID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// --- Row mapping ---

type rowScanner interface {
	Scan(dest ...any) error
}

func instanceArgs(inst *schema.WorkflowInstance) ([]any, error) {
	ctxJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal instance context: %w", err)
	}
	completed, err := json.Marshal(nonNilStrings(inst.CompletedSteps))
	if err != nil {
		return nil, fmt.Errorf("marshal completed_steps: %w", err)
	}
	failed, err := json.Marshal(nonNilStrings(inst.FailedSteps))
	if err != nil {
		return nil, fmt.Errorf("marshal failed_steps: %w", err)
	}
	team := inst.AssignedTeam
	if team == nil {
		team = map[string]string{}
	}
	teamJSON, err := json.Marshal(team)
	if err != nil {
		return nil, fmt.Errorf("marshal assigned_team: %w", err)
	}

	return []any{
		inst.ID, inst.DefinitionID, string(inst.Status), string(inst.Priority), string(ctxJSON),
		nullStr(inst.CurrentStep), string(completed), string(failed), string(teamJSON),
		inst.Progress.TotalSteps, inst.Progress.CompletedSteps, inst.Progress.ProgressPercentage,
		inst.Progress.Escalations, timeOrNow(inst.StartedAt).UTC(), inst.ExpectedCompletionAt.UTC(),
		nullTime(inst.ActualCompletionAt),
	}, nil
}

func scanInstance(row rowScanner) (*schema.WorkflowInstance, error) {
	inst := &schema.WorkflowInstance{}
	var (
		status, priority                     string
		ctxJSON, completed, failed, teamJSON string
		currentStep                          sql.NullString
		actualCompletion                     sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.DefinitionID, &status, &priority, &ctxJSON, &currentStep,
		&completed, &failed, &teamJSON, &inst.Progress.TotalSteps, &inst.Progress.CompletedSteps,
		&inst.Progress.ProgressPercentage, &inst.Progress.Escalations,
		&inst.StartedAt, &inst.ExpectedCompletionAt, &actualCompletion)
	if err != nil {
		return nil, err
	}
	inst.Status = schema.InstanceStatus(status)
	inst.Priority = schema.Priority(priority)
	inst.CurrentStep = currentStep.String
	if err := json.Unmarshal([]byte(ctxJSON), &inst.Context); err != nil {
		return nil, fmt.Errorf("unmarshal instance context: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &inst.CompletedSteps); err != nil {
		return nil, fmt.Errorf("unmarshal completed_steps: %w", err)
	}
	if err := json.Unmarshal([]byte(failed), &inst.FailedSteps); err != nil {
		return nil, fmt.Errorf("unmarshal failed_steps: %w", err)
	}
	if err := json.Unmarshal([]byte(teamJSON), &inst.AssignedTeam); err != nil {
		return nil, fmt.Errorf("unmarshal assigned_team: %w", err)
	}
	if actualCompletion.Valid {
		t := actualCompletion.Time
		inst.ActualCompletionAt = &t
	}
	return inst, nil
}

func scanExecution(row rowScanner) (*schema.WorkflowExecution, error) {
	e := &schema.WorkflowExecution{}
	var (
		stepType, status                              string
		startedAt, completedAt                        sql.NullTime
		reason, result, completedBy, notes, errorText sql.NullString
	)
	err := row.Scan(&e.InstanceID, &e.StepID, &stepType, &status, &e.AssignedTo, &startedAt, &completedAt,
		&e.DueAt, &e.Overdue, &e.Attempts, &e.Escalated, &reason, &result, &completedBy, &notes, &errorText)
	if err != nil {
		return nil, err
	}
	e.StepType = schema.StepType(stepType)
	e.Status = schema.ExecutionStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	e.EscalationReason = reason.String
	e.CompletedBy = completedBy.String
	e.Notes = notes.String
	e.Error = errorText.String
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &e.Result); err != nil {
			return nil, fmt.Errorf("unmarshal execution result: %w", err)
		}
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stepID, payload, actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.InstanceID, &stepID, &e.Type, &payload, &actorID, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.StepID = stepID.String
		e.ActorID = actorID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.SOPError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func nullableMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*LibSQLStore)(nil)
