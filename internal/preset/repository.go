package preset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for preset persistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Preset, error)
	List(ctx context.Context) ([]Preset, error)
	Create(ctx context.Context, p *Preset) error
	Update(ctx context.Context, p *Preset) error
	Delete(ctx context.Context, id string) error
}

// presetColumns is the SELECT column list for preset queries.
const presetColumns = `id, name, description, zones, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a preset by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Preset, error) {
	query := `SELECT ` + presetColumns + ` FROM presets WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanPresetRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPresetNotFound
		}
		return nil, fmt.Errorf("querying preset by id: %w", err)
	}
	return p, nil
}

// List retrieves all presets ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Preset, error) {
	query := `SELECT ` + presetColumns + ` FROM presets ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying presets: %w", err)
	}
	defer rows.Close()

	var presets []Preset
	for rows.Next() {
		p, scanErr := scanPresetRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning preset: %w", scanErr)
		}
		presets = append(presets, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presets: %w", err)
	}
	return presets, nil
}

// Create inserts a new preset.
func (r *SQLiteRepository) Create(ctx context.Context, p *Preset) error {
	zonesJSON, err := json.Marshal(p.Zones)
	if err != nil {
		return fmt.Errorf("marshalling zones: %w", err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO presets (id, name, description, zones, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		nullableString(p.Description),
		string(zonesJSON),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPresetExists
		}
		return fmt.Errorf("inserting preset: %w", err)
	}
	return nil
}

// Update modifies an existing preset.
func (r *SQLiteRepository) Update(ctx context.Context, p *Preset) error {
	zonesJSON, err := json.Marshal(p.Zones)
	if err != nil {
		return fmt.Errorf("marshalling zones: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE presets SET name = ?, description = ?, zones = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		p.Name,
		nullableString(p.Description),
		string(zonesJSON),
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating preset: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPresetNotFound
	}
	return nil
}

// Delete removes a preset by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM presets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting preset: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrPresetNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPresetRow(scanner rowScanner) (*Preset, error) {
	var p Preset
	var description sql.NullString
	var zonesJSON string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&description,
		&zonesJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		p.Description = &description.String
	}

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		p.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		p.UpdatedAt = t
	}

	if zonesJSON != "" && zonesJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(zonesJSON), &p.Zones); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling zones: %w", jsonErr)
		}
	}
	if p.Zones == nil {
		p.Zones = []Snapshot{}
	}

	return &p, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
