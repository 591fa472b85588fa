package dto

import "github.com/kodeuji/kodeuji-api/internal/models"

// StudentRegisterRequest represents the payload for student registration.
type StudentRegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	NIM      string `json:"nim" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
}

// StudentLoginRequest represents the payload for student login.
type StudentLoginRequest struct {
	NIM      string `json:"nim" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LecturerRegisterRequest represents the payload for lecturer registration.
type LecturerRegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LecturerLoginRequest represents the payload for lecturer login.
type LecturerLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse carries the issued token and the authenticated profile.
type AuthResponse struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// UserProfile is the public shape of an authenticated account.
type UserProfile struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	NIM  string `json:"nim,omitempty"`
	Email string `json:"email,omitempty"`
	Role string `json:"role"`
}

// NewStudentProfile converts a student model into its public profile.
func NewStudentProfile(student models.Student) UserProfile {
	return UserProfile{
		ID:   student.ID,
		Name: student.Name,
		NIM:  student.NIM,
		Role: "student",
	}
}

// NewLecturerProfile converts a lecturer model into its public profile.
func NewLecturerProfile(lecturer models.Lecturer) UserProfile {
	return UserProfile{
		ID:    lecturer.ID,
		Name:  lecturer.Name,
		Email: lecturer.Email,
		Role:  "lecturer",
	}
}
