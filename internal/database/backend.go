package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
)

// Backend confirms dispatcher actions against PostgreSQL. A request the
// data no longer allows is reported as mutation.ErrRejected; anything
// else is a transport failure.
type Backend struct {
	db *sqlx.DB
}

func NewBackend(db *sqlx.DB) *Backend {
	return &Backend{db: db}
}

type deliveryState struct {
	DriverID sql.NullString `db:"driver_id"`
	Status   string         `db:"status"`
}

func lockDelivery(ctx context.Context, tx *sqlx.Tx, deliveryID string) (deliveryState, error) {
	var st deliveryState
	err := tx.GetContext(ctx, &st, `SELECT driver_id, status FROM deliveries WHERE id = $1 FOR UPDATE`, deliveryID)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("delivery %s does not exist: %w", deliveryID, mutation.ErrRejected)
	}
	if err != nil {
		return st, fmt.Errorf("failed to lock delivery %s: %w", deliveryID, err)
	}
	return st, nil
}

// ReassignDelivery moves deliveryID to driverID and releases the previous driver
func (b *Backend) ReassignDelivery(ctx context.Context, deliveryID, driverID string) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st, err := lockDelivery(ctx, tx, deliveryID)
	if err != nil {
		return err
	}
	status := models.DeliveryStatus(st.Status)
	if status != models.DeliveryStatusPending && status != models.DeliveryStatusAssigned {
		return fmt.Errorf("delivery %s is %s: %w", deliveryID, status, mutation.ErrRejected)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE drivers SET status = $2, delivery_status = $3
		WHERE id = $1 AND status = $4 AND delivery_status = $5
	`, driverID, models.DriverStatusBusy, models.DriverDeliveryDelivering,
		models.DriverStatusOnline, models.DriverDeliveryIdle)
	if err != nil {
		return fmt.Errorf("failed to claim driver %s: %w", driverID, err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return fmt.Errorf("driver %s is not available: %w", driverID, mutation.ErrRejected)
	}

	if st.DriverID.Valid && st.DriverID.String != driverID {
		if err := releaseDriver(ctx, tx, st.DriverID.String); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deliveries SET driver_id = $2, status = $3 WHERE id = $1
	`, deliveryID, driverID, models.DeliveryStatusAssigned); err != nil {
		return fmt.Errorf("failed to assign delivery %s: %w", deliveryID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reassignment: %w", err)
	}
	return nil
}

// CompleteDelivery marks deliveryID completed at the given time and frees its driver
func (b *Backend) CompleteDelivery(ctx context.Context, deliveryID string, at time.Time) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st, err := lockDelivery(ctx, tx, deliveryID)
	if err != nil {
		return err
	}
	if models.DeliveryStatus(st.Status).IsTerminal() {
		return fmt.Errorf("delivery %s is already %s: %w", deliveryID, st.Status, mutation.ErrRejected)
	}
	if !st.DriverID.Valid {
		return fmt.Errorf("delivery %s has no driver: %w", deliveryID, mutation.ErrRejected)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE deliveries SET status = $2, actual_delivery_time = $3 WHERE id = $1
	`, deliveryID, models.DeliveryStatusCompleted, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to complete delivery %s: %w", deliveryID, err)
	}
	if err := releaseDriver(ctx, tx, st.DriverID.String); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}
	return nil
}

// SetDriverPaused flips a working driver between paused and delivering
func (b *Backend) SetDriverPaused(ctx context.Context, driverID string, paused bool) error {
	from, to := models.DriverDeliveryPaused, models.DriverDeliveryDelivering
	if paused {
		from, to = to, from
	}

	result, err := b.db.ExecContext(ctx, `
		UPDATE drivers SET delivery_status = $2 WHERE id = $1 AND delivery_status = $3
	`, driverID, to, from)
	if err != nil {
		return fmt.Errorf("failed to update driver %s: %w", driverID, err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return fmt.Errorf("driver %s is not %s: %w", driverID, from, mutation.ErrRejected)
	}
	return nil
}

func releaseDriver(ctx context.Context, tx *sqlx.Tx, driverID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE drivers SET status = $2, delivery_status = $3 WHERE id = $1
	`, driverID, models.DriverStatusOnline, models.DriverDeliveryIdle); err != nil {
		return fmt.Errorf("failed to release driver %s: %w", driverID, err)
	}
	return nil
}
