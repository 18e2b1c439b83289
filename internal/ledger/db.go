// Package ledger records every delivered document in a local sqlite file.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

type DB struct {
	*sql.DB
}

// Delivery is one file sent to one destination.
type Delivery struct {
	ChatID      int64
	Destination string
	TestID      string
	Title       string
	Format      string
	Bulk        bool
	DeliveredAt time.Time
}

func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	d := &DB{db}
	if err := d.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) InitSchema() error {
	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (d *DB) Record(ctx context.Context, del Delivery) error {
	if del.DeliveredAt.IsZero() {
		del.DeliveredAt = time.Now()
	}
	_, err := d.ExecContext(ctx,
		`INSERT INTO deliveries (chat_id, destination, test_id, title, format, bulk, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		del.ChatID, del.Destination, del.TestID, del.Title, del.Format, del.Bulk, del.DeliveredAt.Unix())
	if err != nil {
		return fmt.Errorf("ledger: record delivery: %w", err)
	}
	return nil
}

// Recent returns up to n deliveries for chatID, newest first.
func (d *DB) Recent(ctx context.Context, chatID int64, n int) ([]Delivery, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT chat_id, destination, test_id, title, format, bulk, delivered_at
		 FROM deliveries WHERE chat_id = ?
		 ORDER BY delivered_at DESC, id DESC LIMIT ?`, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: query recent: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var del Delivery
		var at int64
		if err := rows.Scan(&del.ChatID, &del.Destination, &del.TestID, &del.Title, &del.Format, &del.Bulk, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan delivery: %w", err)
		}
		del.DeliveredAt = time.Unix(at, 0)
		out = append(out, del)
	}
	return out, rows.Err()
}

// Count returns the number of deliveries recorded for chatID.
func (d *DB) Count(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM deliveries WHERE chat_id = ?", chatID).Scan(&n)
	return n, err
}
