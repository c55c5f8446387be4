package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"schoolbus-backend/internal/models"
	"schoolbus-backend/pkg/utils"
)

type CreateUserRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
	Name     string  `json:"name" validate:"required"`
	Role     string  `json:"role" validate:"required,oneof=driver parent admin"`
	SchoolID *string `json:"school_id"`
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

// CreateUser creates a driver, parent or admin account
// POST /api/admin/users
func CreateUser(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateUserRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			log.Printf("❌ Invalid create user request: %v", err)
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := time.Now().Unix()
		user := models.User{
			ID:        uuid.New().String(),
			Email:     req.Email,
			Password:  string(hashedPassword),
			Name:      req.Name,
			Role:      req.Role,
			SchoolID:  req.SchoolID,
			CreatedAt: now,
			UpdatedAt: now,
		}

		insertQuery := `
			INSERT INTO users (id, email, password, name, role, school_id, created_at, updated_at)
			VALUES (:id, :email, :password, :name, :role, :school_id, :created_at, :updated_at)
		`
		if _, err := db.NamedExecContext(r.Context(), insertQuery, user); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				log.Printf("❌ User already exists: %s", req.Email)
				utils.RespondError(w, http.StatusConflict, "User with this email already exists")
				return
			}
			log.Printf("❌ Database error: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		log.Printf("✅ User created: %s (%s)", user.Email, user.Role)

		userResponse := user.ToUserResponse()
		utils.RespondJSON(w, http.StatusCreated, CreateUserResponse{
			Success: true,
			User:    &userResponse,
			Message: "User created successfully",
		})
	}
}

type LinkStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SchoolID  string `json:"school_id" validate:"required"`
}

// LinkParentStudent links a parent account to a student of a school.
// Linking twice is a no-op.
// POST /api/admin/parents/{parentId}/students
func LinkParentStudent(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parentID := chi.URLParam(r, "parentId")

		var req LinkStudentRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		var role string
		if err := db.GetContext(r.Context(), &role, `SELECT role FROM users WHERE id = $1`, parentID); err != nil || role != models.RoleParent {
			utils.RespondError(w, http.StatusNotFound, "Parent not found")
			return
		}

		query := `
			INSERT INTO parent_students (parent_id, student_id, school_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (parent_id, student_id) DO NOTHING
		`
		if _, err := db.ExecContext(r.Context(), query, parentID, req.StudentID, req.SchoolID, time.Now().Unix()); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23503" {
				utils.RespondError(w, http.StatusNotFound, "Student not found")
				return
			}
			log.Printf("❌ Failed to link parent %s to %s: %v", parentID, req.StudentID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to link student")
			return
		}

		log.Printf("🔗 Parent %s linked to student %s", parentID, req.StudentID)
		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{"success": true})
	}
}
