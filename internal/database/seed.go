package database

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/sample"
)

// SeedFleet loads the demonstration drivers and deliveries into an empty database
func SeedFleet(db *sqlx.DB, now time.Time) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM drivers"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Fleet already seeded, skipping...")
		return nil
	}

	drivers := sample.Drivers(now)
	deliveries := sample.Deliveries(now)
	log.Printf("🌱 Seeding %d drivers and %d deliveries...", len(drivers), len(deliveries))

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, d := range drivers {
		if _, err := tx.NamedExec(`
			INSERT INTO drivers (`+driverColumns+`)
			VALUES (:id, :name, :status, :delivery_status, :lat, :lng, :last_updated,
				:vehicle_make, :vehicle_model, :vehicle_plate, :eta, :sort_order)
		`, newDriverRow(d, i)); err != nil {
			return err
		}
	}

	for i, d := range deliveries {
		if _, err := tx.NamedExec(`
			INSERT INTO deliveries (`+deliveryColumns+`)
			VALUES (:id, :driver_id, :status, :pickup_address, :pickup_lat, :pickup_lng,
				:dropoff_address, :dropoff_lat, :dropoff_lng, :customer_name, :customer_phone,
				:estimated_pickup_time, :estimated_delivery_time, :actual_pickup_time,
				:actual_delivery_time, :notes, :sort_order)
		`, newDeliveryRow(d, i)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Println("✓ Successfully seeded fleet")
	return nil
}

// SeedUsers creates the dispatcher and admin logins, plus one device
// account per demonstration driver
func SeedUsers(db *sqlx.DB) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding test users...")

	driverPassword, err := bcrypt.GenerateFromPassword([]byte(sample.DriverPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var users []map[string]interface{}
	for _, a := range sample.Staff() {
		hashed, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		users = append(users, map[string]interface{}{
			"id":        uuid.New().String(),
			"email":     a.Email,
			"password":  string(hashed),
			"name":      a.Name,
			"role":      a.Role,
			"driver_id": nil,
		})
	}

	for _, d := range sample.Drivers(time.Now()) {
		users = append(users, map[string]interface{}{
			"id":        uuid.New().String(),
			"email":     driverEmail(d.Name),
			"password":  string(driverPassword),
			"name":      d.Name,
			"role":      models.RoleDriver,
			"driver_id": d.ID,
		})
	}

	for _, user := range users {
		_, err := db.Exec(`
			INSERT INTO users (id, email, password, name, role, driver_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, user["id"], user["email"], user["password"], user["name"], user["role"], user["driver_id"])

		if err != nil {
			return err
		}

		log.Printf("✓ Created user: %s (%s)", user["email"], user["role"])
	}

	return nil
}

func driverEmail(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@fleet.local"
}
