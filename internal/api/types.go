package api

import (
	"time"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/availability"
	"github.com/hackgods/clinic-appointments/internal/profile"
	"github.com/hackgods/clinic-appointments/internal/session"
)

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      session.User `json:"user"`
}

type AppointmentsResponse struct {
	Tab          string                    `json:"tab"`
	Appointments []appointment.Appointment `json:"appointments"`
}

type CalendarResponse struct {
	Start  appointment.Millis   `json:"start"`
	End    appointment.Millis   `json:"end"`
	Events []availability.Event `json:"events"`
}

type SlotsResponse struct {
	Slots []availability.Slot `json:"slots"`
}

type PatientsResponse struct {
	Patients []profile.Profile `json:"patients"`
}

type PictureResponse struct {
	URL string `json:"profile_picture_url"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}
