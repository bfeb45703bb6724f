package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Tables, columns and indexes the stores depend on.
var (
	requiredTables = []string{"sessions", "messages", "schema_migrations"}

	sessionColumns = map[string]string{
		"id":               "TEXT",
		"title":            "TEXT",
		"description":      "TEXT",
		"type":             "TEXT",
		"status":           "TEXT",
		"room_id":          "TEXT",
		"shareable_link":   "TEXT",
		"scheduled_time":   "DATETIME",
		"duration_minutes": "INTEGER",
		"created_by":       "TEXT",
		"participants":     "TEXT",
		"analysis":         "TEXT",
		"created_at":       "DATETIME",
	}

	messageColumns = map[string]string{
		"seq":         "INTEGER",
		"id":          "TEXT",
		"session_id":  "TEXT",
		"sender_id":   "TEXT",
		"sender_name": "TEXT",
		"sender_type": "TEXT",
		"content":     "TEXT",
		"kind":        "TEXT",
		"timestamp":   "DATETIME",
	}

	requiredIndexes = []string{
		"idx_sessions_room_id",
		"idx_sessions_status",
		"idx_sessions_created_at",
		"idx_messages_session_seq",
	}
)

// SchemaValidator verifies a database matches the structure the stores expect.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every structural check.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(ctx); err != nil {
		return err
	}
	return v.ValidateIndexes(ctx)
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range requiredTables {
		exists, err := v.objectExists(ctx, "table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types.
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	if err := v.validateColumns(ctx, "sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}
	if err := v.validateColumns(ctx, "messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists(ctx, "index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) objectExists(ctx context.Context, kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(ctx context.Context, tableName string, expected map[string]string) error {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, wantType := range expected {
		gotType, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if gotType != wantType {
			return fmt.Errorf("column %s has type %s, expected %s", column, gotType, wantType)
		}
	}
	return nil
}
