package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/middleware"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/models"
	"github.com/kenedwardtan/real-time-logistics-tracker/internal/sample"
)

var ErrUserNotFound = errors.New("user not found")

// UserFinder looks up login accounts by email
type UserFinder interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// StaticUsers is an in-memory UserFinder for running without a database
type StaticUsers map[string]models.User

// NewStaticUsers hashes the demonstration staff logins
func NewStaticUsers() (StaticUsers, error) {
	users := StaticUsers{}
	for i, a := range sample.Staff() {
		hashed, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		users[a.Email] = models.User{
			ID:       fmt.Sprintf("staff-%d", i+1),
			Email:    a.Email,
			Password: string(hashed),
			Name:     a.Name,
			Role:     a.Role,
		}
	}
	return users, nil
}

func (s StaticUsers) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	user, ok := s[email]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return user, nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK    bool                 `json:"ok"`
	Token string               `json:"token,omitempty"`
	User  *models.UserResponse `json:"user,omitempty"`
}

// Login checks a staff password and issues a session token. Driver
// accounts cannot open the dashboard.
func Login(users UserFinder, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))

		log.Printf("🔐 Login attempt for: %s", req.Email)

		user, err := users.GetUserByEmail(r.Context(), req.Email)
		if err != nil {
			log.Printf("❌ User not found: %s", req.Email)
			writeLogin(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Printf("❌ Invalid password for: %s", req.Email)
			writeLogin(w, http.StatusUnauthorized, LoginResponse{OK: false})
			return
		}

		if user.Role != models.RoleDispatcher && user.Role != models.RoleAdmin {
			log.Printf("❌ Role %s cannot open the dashboard: %s", user.Role, req.Email)
			writeLogin(w, http.StatusForbidden, LoginResponse{OK: false})
			return
		}

		tokenString, err := middleware.IssueToken(secret, user, time.Now())
		if err != nil {
			log.Println("❌ Failed to create token")
			http.Error(w, "Failed to create token", http.StatusInternalServerError)
			return
		}

		userResponse := user.ToUserResponse()
		log.Printf("✅ Login successful: %s (%s)", user.Email, user.Role)
		writeLogin(w, http.StatusOK, LoginResponse{
			OK:    true,
			Token: tokenString,
			User:  &userResponse,
		})
	}
}

func writeLogin(w http.ResponseWriter, status int, resp LoginResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
