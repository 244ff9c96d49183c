package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for schedule persistence.
// Separated from the registry so tests can substitute an in-memory
// implementation.
type Repository interface {
	// Schedule CRUD
	GetByID(ctx context.Context, id string) (*Schedule, error)
	List(ctx context.Context) ([]Schedule, error)
	Create(ctx context.Context, sched *Schedule) error
	Update(ctx context.Context, sched *Schedule) error
	Delete(ctx context.Context, id string) error

	// MarkRun persists the last-run occurrence. Called BEFORE dispatch:
	// a crash after this point loses one firing, never doubles one.
	MarkRun(ctx context.Context, id string, occurredAt time.Time) error

	// SetEnabled flips the enabled flag (one-shot schedules disable
	// themselves after firing).
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// Run logging
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]Run, error)
}

// scheduleColumns is the SELECT column list for schedule queries.
const scheduleColumns = `id, name, enabled, weekdays, hour, minute, fire_at,
			target_type, target_zones, action_type, volume, source, preset_id,
			last_run_at, created_at, updated_at`

// SQLiteRepository stores schedules and run history in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository wraps db in the schedule persistence layer.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a schedule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	sched, err := scanScheduleRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("querying schedule by id: %w", err)
	}
	return sched, nil
}

// List retrieves all schedules ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, scanErr := scanScheduleRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning schedule: %w", scanErr)
		}
		schedules = append(schedules, *sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedules: %w", err)
	}
	return schedules, nil
}

// Create inserts a new schedule.
func (r *SQLiteRepository) Create(ctx context.Context, sched *Schedule) error {
	weekdaysJSON, zonesJSON, err := marshalScheduleJSON(sched)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now

	query := `
		INSERT INTO schedules (
			id, name, enabled, weekdays, hour, minute, fire_at,
			target_type, target_zones, action_type, volume, source, preset_id,
			last_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		sched.ID,
		sched.Name,
		boolToInt(sched.Enabled),
		weekdaysJSON,
		sched.Time.Hour,
		sched.Time.Minute,
		nullableTime(sched.Time.At),
		string(sched.Target.Type),
		zonesJSON,
		string(sched.Action.Type),
		nullableInt(sched.Action.Volume),
		nullableInt(sched.Action.Source),
		nullableString(sched.Action.PresetID),
		nullableTime(sched.LastRunAt),
		sched.CreatedAt.Format(time.RFC3339),
		sched.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("%w: inserting schedule: %v", ErrPersistence, err)
	}
	return nil
}

// Update modifies an existing schedule.
func (r *SQLiteRepository) Update(ctx context.Context, sched *Schedule) error {
	weekdaysJSON, zonesJSON, err := marshalScheduleJSON(sched)
	if err != nil {
		return err
	}

	sched.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE schedules SET
			name = ?, enabled = ?, weekdays = ?, hour = ?, minute = ?, fire_at = ?,
			target_type = ?, target_zones = ?, action_type = ?, volume = ?, source = ?,
			preset_id = ?, last_run_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		sched.Name,
		boolToInt(sched.Enabled),
		weekdaysJSON,
		sched.Time.Hour,
		sched.Time.Minute,
		nullableTime(sched.Time.At),
		string(sched.Target.Type),
		zonesJSON,
		string(sched.Action.Type),
		nullableInt(sched.Action.Volume),
		nullableInt(sched.Action.Source),
		nullableString(sched.Action.PresetID),
		nullableTime(sched.LastRunAt),
		sched.UpdatedAt.Format(time.RFC3339),
		sched.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: updating schedule: %v", ErrPersistence, err)
	}

	return requireRowAffected(result, ErrScheduleNotFound)
}

// Delete removes a schedule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: deleting schedule: %v", ErrPersistence, err)
	}
	return requireRowAffected(result, ErrScheduleNotFound)
}

// MarkRun persists the last-run occurrence timestamp.
func (r *SQLiteRepository) MarkRun(ctx context.Context, id string, occurredAt time.Time) error {
	query := `UPDATE schedules SET last_run_at = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		occurredAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("%w: marking run: %v", ErrPersistence, err)
	}
	return requireRowAffected(result, ErrScheduleNotFound)
}

// SetEnabled flips the enabled flag on a schedule.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(enabled),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("%w: setting enabled: %v", ErrPersistence, err)
	}
	return requireRowAffected(result, ErrScheduleNotFound)
}

// CreateRun inserts a new run record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	failuresJSON, err := marshalFailures(run.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		INSERT INTO schedule_runs (
			id, schedule_id, occurred_at, started_at, completed_at,
			trigger_type, status, zones_total, zones_completed, zones_failed,
			failures, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.ScheduleID,
		run.OccurredAt.UTC().Format(time.RFC3339),
		nullableTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		string(run.Trigger),
		string(run.Status),
		run.ZonesTotal,
		run.ZonesCompleted,
		run.ZonesFailed,
		failuresJSON,
		run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("%w: inserting run: %v", ErrPersistence, err)
	}
	return nil
}

// UpdateRun updates an existing run record.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	failuresJSON, err := marshalFailures(run.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		UPDATE schedule_runs SET
			started_at = ?, completed_at = ?, trigger_type = ?, status = ?,
			zones_total = ?, zones_completed = ?, zones_failed = ?,
			failures = ?, duration_ms = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		string(run.Trigger),
		string(run.Status),
		run.ZonesTotal,
		run.ZonesCompleted,
		run.ZonesFailed,
		failuresJSON,
		run.DurationMS,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: updating run: %v", ErrPersistence, err)
	}
	return requireRowAffected(result, ErrRunNotFound)
}

// GetRun retrieves a run record by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := runSelect + ` WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	run, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent runs for a schedule.
func (r *SQLiteRepository) ListRuns(ctx context.Context, scheduleID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := runSelect + `
		WHERE schedule_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

const runSelect = `
	SELECT id, schedule_id, occurred_at, started_at, completed_at,
		trigger_type, status, zones_total, zones_completed, zones_failed,
		failures, duration_ms
	FROM schedule_runs`

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduleRow(scanner rowScanner) (*Schedule, error) {
	var s Schedule
	var enabled int
	var weekdaysJSON, zonesJSON, fireAt, lastRunAt, presetID sql.NullString
	var volume, source sql.NullInt64
	var targetType, actionType string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&enabled,
		&weekdaysJSON,
		&s.Time.Hour,
		&s.Time.Minute,
		&fireAt,
		&targetType,
		&zonesJSON,
		&actionType,
		&volume,
		&source,
		&presetID,
		&lastRunAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Enabled = enabled != 0
	s.Target.Type = TargetType(targetType)
	s.Action.Type = ActionType(actionType)

	if weekdaysJSON.Valid && weekdaysJSON.String != "" && weekdaysJSON.String != "[]" {
		if jsonErr := json.Unmarshal([]byte(weekdaysJSON.String), &s.Time.Weekdays); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling weekdays: %w", jsonErr)
		}
	}
	if zonesJSON.Valid && zonesJSON.String != "" && zonesJSON.String != "[]" {
		if jsonErr := json.Unmarshal([]byte(zonesJSON.String), &s.Target.ZoneIDs); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling target zones: %w", jsonErr)
		}
	}

	if t, ok := parseNullTime(fireAt); ok {
		s.Time.At = t
	}
	if t, ok := parseNullTime(lastRunAt); ok {
		s.LastRunAt = t
	}
	if volume.Valid {
		v := int(volume.Int64)
		s.Action.Volume = &v
	}
	if source.Valid {
		v := int(source.Int64)
		s.Action.Source = &v
	}
	if presetID.Valid {
		s.Action.PresetID = &presetID.String
	}

	// Parse timestamps (stored as RFC3339)
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		s.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		s.UpdatedAt = t
	}

	return &s, nil
}

func scanRunRow(scanner rowScanner) (*Run, error) {
	var r Run
	var occurredAt string
	var startedAt, completedAt, failuresJSON sql.NullString
	var trigger, status string
	var durationMS sql.NullInt64

	err := scanner.Scan(
		&r.ID,
		&r.ScheduleID,
		&occurredAt,
		&startedAt,
		&completedAt,
		&trigger,
		&status,
		&r.ZonesTotal,
		&r.ZonesCompleted,
		&r.ZonesFailed,
		&failuresJSON,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	r.Trigger = TriggerType(trigger)
	r.Status = RunStatus(status)
	if t, parseErr := time.Parse(time.RFC3339, occurredAt); parseErr == nil {
		r.OccurredAt = t
	}
	if t, ok := parseNullTime(startedAt); ok {
		r.StartedAt = t
	}
	if t, ok := parseNullTime(completedAt); ok {
		r.CompletedAt = t
	}
	if durationMS.Valid {
		d := int(durationMS.Int64)
		r.DurationMS = &d
	}

	if failuresJSON.Valid && failuresJSON.String != "" && failuresJSON.String != "null" {
		if jsonErr := json.Unmarshal([]byte(failuresJSON.String), &r.Failures); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling failures: %w", jsonErr)
		}
	}

	return &r, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalScheduleJSON(sched *Schedule) (weekdays, zones sql.NullString, err error) {
	if len(sched.Time.Weekdays) > 0 {
		data, mErr := json.Marshal(sched.Time.Weekdays)
		if mErr != nil {
			return weekdays, zones, fmt.Errorf("marshalling weekdays: %w", mErr)
		}
		weekdays = sql.NullString{String: string(data), Valid: true}
	}
	if len(sched.Target.ZoneIDs) > 0 {
		data, mErr := json.Marshal(sched.Target.ZoneIDs)
		if mErr != nil {
			return weekdays, zones, fmt.Errorf("marshalling target zones: %w", mErr)
		}
		zones = sql.NullString{String: string(data), Valid: true}
	}
	return weekdays, zones, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, bool) {
	if !s.Valid || s.String == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalFailures(failures []ZoneFailure) (sql.NullString, error) {
	if len(failures) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func requireRowAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
