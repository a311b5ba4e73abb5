package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/database"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migration completed successfully!")

	if err := database.SeedFleet(db, time.Now()); err != nil {
		log.Fatalf("Fleet seeding failed: %v", err)
	}
	if err := database.SeedUsers(db); err != nil {
		log.Fatalf("User seeding failed: %v", err)
	}

	var result struct {
		Drivers    int `db:"drivers"`
		Deliveries int `db:"deliveries"`
		Open       int `db:"open_deliveries"`
		Users      int `db:"users"`
	}
	query := `
		SELECT
			(SELECT COUNT(*) FROM drivers) AS drivers,
			(SELECT COUNT(*) FROM deliveries) AS deliveries,
			(SELECT COUNT(*) FROM deliveries WHERE status NOT IN ('completed', 'cancelled')) AS open_deliveries,
			(SELECT COUNT(*) FROM users) AS users
	`
	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Drivers:                 %d\n", result.Drivers)
	fmt.Printf("Deliveries:              %d\n", result.Deliveries)
	fmt.Printf("Open deliveries:         %d\n", result.Open)
	fmt.Printf("Users:                   %d\n", result.Users)
	fmt.Println("============================================================")
}
