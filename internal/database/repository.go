package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
)

const (
	driverColumns = `id, name, status, delivery_status, lat, lng, last_updated,
		vehicle_make, vehicle_model, vehicle_plate, eta, sort_order`

	deliveryColumns = `id, driver_id, status, pickup_address, pickup_lat, pickup_lng,
		dropoff_address, dropoff_lat, dropoff_lng, customer_name, customer_phone,
		estimated_pickup_time, estimated_delivery_time, actual_pickup_time,
		actual_delivery_time, notes, sort_order`
)

// Repository reads the fleet snapshot the dashboard loads on start
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// ListDrivers returns every driver in display order
func (r *Repository) ListDrivers(ctx context.Context) ([]models.Driver, error) {
	var rows []driverRow
	query := `SELECT ` + driverColumns + ` FROM drivers ORDER BY sort_order ASC, id ASC`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}

	drivers := make([]models.Driver, 0, len(rows))
	for _, row := range rows {
		drivers = append(drivers, row.toModel())
	}
	return drivers, nil
}

// ListDeliveries returns every delivery in display order
func (r *Repository) ListDeliveries(ctx context.Context) ([]models.Delivery, error) {
	var rows []deliveryRow
	query := `SELECT ` + deliveryColumns + ` FROM deliveries ORDER BY sort_order ASC, id ASC`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	deliveries := make([]models.Delivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, row.toModel())
	}
	return deliveries, nil
}

// DriverTokens returns the FCM tokens registered by the users linked to driverID
func (r *Repository) DriverTokens(ctx context.Context, driverID string) ([]string, error) {
	var tokens []string
	query := `SELECT t.token FROM fcm_tokens t
	          JOIN users u ON u.id = t.user_id
	          WHERE u.driver_id = $1
	          ORDER BY t.updated_at DESC`
	if err := r.db.SelectContext(ctx, &tokens, query, driverID); err != nil {
		return nil, fmt.Errorf("failed to get tokens for driver %s: %w", driverID, err)
	}
	return tokens, nil
}

// GetUserByEmail looks up a login account
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	query := `SELECT id, email, password, name, role, created_at, updated_at FROM users WHERE email = $1`
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return models.User{}, err
	}
	return user, nil
}
