package sample

import "github.com/kenedwardtan/real-time-logistics-tracker/internal/models"

// Account is a demonstration login with its plain password
type Account struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// Staff returns the dispatcher and admin logins
func Staff() []Account {
	return []Account{
		{Email: "dispatcher@fleet.local", Password: "dispatch123", Name: "Dana Dispatcher", Role: models.RoleDispatcher},
		{Email: "admin@fleet.local", Password: "admin123", Name: "Admin User", Role: models.RoleAdmin},
	}
}

// DriverPassword is shared by the per-driver device accounts
const DriverPassword = "driver123"
