package storage

import (
	"context"
	_ "embed"

	"github.com/harborops/slotkeeper/libs/db"
)

//go:embed schema.sql
var schema string

func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

type Notification struct {
	EventID       string
	BookingID     string
	Type          string
	Roles         []string
	RecipientID   string
	Title         string
	Message       string
	Provider      string
	Status        string
	FailureReason string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	roles := n.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, booking_id, type, roles, recipient_id, title, message, provider, status, failure_reason)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, NULLIF($10, ''))
	`, n.EventID, n.BookingID, n.Type, roles, n.RecipientID, n.Title, n.Message, n.Provider, n.Status, n.FailureReason)
	return err
}
