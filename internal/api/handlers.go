package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/availability"
	"github.com/hackgods/clinic-appointments/internal/booking"
	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/profile"
	"github.com/hackgods/clinic-appointments/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeFieldError(w http.ResponseWriter, status int, code, field, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details, Field: field})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func actorFrom(r *http.Request) session.User {
	u, _ := session.UserFrom(r.Context())
	return u
}

// handleError maps domain errors to HTTP responses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bookingField *booking.FieldError
		profileField *profile.FieldError
		validation   *appointment.ValidationError
		transition   *appointment.TransitionError
		notFound     *appointment.NotFoundError
		gatewayErr   *appointment.GatewayError
	)

	switch {
	case errors.As(err, &bookingField):
		writeFieldError(w, http.StatusBadRequest, "validation_failed", bookingField.Field, bookingField.Error())
	case errors.As(err, &profileField):
		writeFieldError(w, http.StatusBadRequest, "validation_failed", profileField.Field, profileField.Error())
	case errors.As(err, &validation):
		writeFieldError(w, http.StatusBadRequest, "validation_failed", validation.Field, validation.Error())
	case errors.As(err, &transition):
		writeFieldError(w, http.StatusUnprocessableEntity, "invalid_status_transition", "status", transition.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", notFound.Error())
	case errors.Is(err, profile.ErrNotFound), errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrForbidden), errors.Is(err, profile.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, session.ErrInvalidSignUp):
		writeError(w, http.StatusBadRequest, "invalid_sign_up", err.Error())
	case errors.Is(err, session.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, session.ErrInvalidCredentials),
		errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrRevoked):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, gateway.ErrBlobTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.As(err, &gatewayErr):
		writeError(w, http.StatusBadGateway, "gateway_error", gatewayErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// -- auth --

func signUpHandler(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.SignUpRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := sessions.SignUp(r.Context(), req)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, SessionResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: sess.User})
	}
}

func signInHandler(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := sessions.SignIn(r.Context(), req.Email, req.Password)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: sess.User})
	}
}

func signOutHandler(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.SignOut(r.Context(), bearerToken(r)); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func meHandler(profiles *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r)

		p, err := profiles.Get(r.Context(), actor.UID)
		if errors.Is(err, profile.ErrNotFound) {
			writeJSON(w, http.StatusOK, profile.Profile{UID: actor.UID, Email: actor.Email, Role: actor.Role, FullName: actor.FullName})
			return
		}
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// -- appointments --

func listAppointmentsHandler(ctrl *booking.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab := booking.Tab(r.URL.Query().Get("tab"))
		if tab == "" {
			tab = booking.TabUpcoming
		}

		appts, err := ctrl.List(r.Context(), actorFrom(r), tab)
		if err != nil {
			handleError(w, r, err)
			return
		}
		if appts == nil {
			appts = []appointment.Appointment{}
		}
		writeJSON(w, http.StatusOK, AppointmentsResponse{Tab: string(tab), Appointments: appts})
	}
}

func createAppointmentHandler(ctrl *booking.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft booking.Draft
		if !decodeJSON(w, r, &draft) {
			return
		}

		appt, err := ctrl.Create(r.Context(), actorFrom(r), draft)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func updateAppointmentHandler(ctrl *booking.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft booking.Draft
		if !decodeJSON(w, r, &draft) {
			return
		}

		appt, err := ctrl.Update(r.Context(), actorFrom(r), chi.URLParam(r, "id"), draft)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func deleteAppointmentHandler(ctrl *booking.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ctrl.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
			handleError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseInstant accepts epoch milliseconds or RFC 3339. Empty means unset.
func parseInstant(raw string) (appointment.Millis, bool) {
	if raw == "" {
		return 0, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return appointment.Millis(ms), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return appointment.MillisFromTime(t), true
	}
	return 0, false
}

func calendarHandler(ctrl *booking.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, ok := parseInstant(r.URL.Query().Get("start"))
		if !ok {
			writeFieldError(w, http.StatusBadRequest, "invalid_query", "start", "start must be epoch milliseconds or RFC 3339")
			return
		}
		end, ok := parseInstant(r.URL.Query().Get("end"))
		if !ok {
			writeFieldError(w, http.StatusBadRequest, "invalid_query", "end", "end must be epoch milliseconds or RFC 3339")
			return
		}

		events, err := ctrl.Calendar(r.Context(), actorFrom(r), availability.Window{Start: start, End: end})
		if err != nil {
			handleError(w, r, err)
			return
		}
		if events == nil {
			events = []availability.Event{}
		}
		writeJSON(w, http.StatusOK, CalendarResponse{Start: start, End: end, Events: events})
	}
}

func slotsHandler(ctrl *booking.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slots, err := ctrl.Slots(r.Context(), r.URL.Query().Get("doctor"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		if slots == nil {
			slots = []availability.Slot{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{Slots: slots})
	}
}

// -- profiles --

func patientsHandler(profiles *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if actorFrom(r).IsPatient() {
			writeError(w, http.StatusForbidden, "forbidden", "the patient roster is only available to doctors and admins")
			return
		}

		patients, err := profiles.Patients(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PatientsResponse{Patients: patients})
	}
}

func getProfileHandler(profiles *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := profiles.View(r.Context(), actorFrom(r), chi.URLParam(r, "uid"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func updateProfileHandler(profiles *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var changes profile.Changes
		if !decodeJSON(w, r, &changes) {
			return
		}

		p, err := profiles.Update(r.Context(), actorFrom(r), chi.URLParam(r, "uid"), changes)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func uploadPictureHandler(profiles *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		url, err := profiles.UploadPicture(r.Context(), actorFrom(r), chi.URLParam(r, "uid"), r.Header.Get("Content-Type"), r.Body)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, PictureResponse{URL: url})
	}
}

func filesHandler(blobs gateway.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc, obj, err := blobs.Get(r.Context(), chi.URLParam(r, "*"))
		if err != nil {
			handleError(w, r, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", obj.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
		w.Header().Set("Last-Modified", obj.UpdatedAt.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, rc)
	}
}
