// Package booking turns user intent (pick a slot, book, edit, cancel) into
// state store calls after applying the role rules of the clinic.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/availability"
	"github.com/hackgods/clinic-appointments/internal/profile"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/session"
)

var (
	ErrSlotTaken       = errors.New("the doctor already has an appointment at that time")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")
	ErrForbidden       = errors.New("not allowed to act on this appointment")
)

// FieldError is a local validation failure. Nothing was submitted.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

type Tab string

const (
	TabUpcoming Tab = "upcoming"
	TabPast     Tab = "past"
)

// Draft is the form a user submits to create or edit an appointment.
type Draft struct {
	Title           string             `json:"title"`
	PatientName     string             `json:"patientName"`
	DoctorName      string             `json:"doctorName"`
	Start           appointment.Millis `json:"start"`
	End             appointment.Millis `json:"end"`
	Notes           *string            `json:"notes,omitempty"`
	Status          string             `json:"status"`
	DoctorUID       string             `json:"doctorUid"`
	PatientUID      string             `json:"patientUid"`
	AvailableSlotID string             `json:"availableSlotId"`
}

// Roster resolves patients for doctor and admin bookings and the doctors
// an appointment may be assigned to.
type Roster interface {
	Patient(ctx context.Context, uid string) (profile.Profile, error)
	Doctors(ctx context.Context) ([]profile.Profile, error)
}

type Controller struct {
	store    *appointment.Store
	roster   Roster
	locker   redisclient.Locker
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewController(store *appointment.Store, roster Roster, locker redisclient.Locker, notifier Notifier, logger *zap.Logger) *Controller {
	return &Controller{
		store:    store,
		roster:   roster,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Controller) nowMillis() appointment.Millis {
	return appointment.MillisFromTime(c.now())
}

func (d Draft) notes() string {
	if d.Notes == nil {
		return ""
	}
	return *d.Notes
}

// SelectSlot prefills a booking form from a bookable slot.
func (c *Controller) SelectSlot(actor session.User, slot availability.Slot) Draft {
	d := Draft{
		Title:           "Appointment with " + slot.DoctorName,
		DoctorName:      slot.DoctorName,
		DoctorUID:       slot.DoctorUID,
		Start:           slot.Start,
		End:             slot.End,
		Status:          string(appointment.StatusScheduled),
		AvailableSlotID: slot.ID,
	}
	if actor.IsPatient() {
		d.PatientUID = actor.UID
		d.PatientName = actor.FullName
	}
	return d
}

// CanAccess reports whether actor may see and change a. Admins reach every
// appointment, doctors their own schedule, patients their own bookings.
func CanAccess(actor session.User, a appointment.Appointment) bool {
	switch actor.Role {
	case session.RoleAdmin:
		return true
	case session.RoleDoctor:
		return a.DoctorUID == actor.UID
	case session.RolePatient:
		return a.PatientUID == actor.UID
	}
	return false
}

func checkInterval(start, end appointment.Millis) error {
	if start <= 0 {
		return &FieldError{Field: "start", Message: "is required"}
	}
	if end <= 0 {
		return &FieldError{Field: "end", Message: "is required"}
	}
	if start >= end {
		return &FieldError{Field: "end", Message: "must be after start"}
	}
	return nil
}

func parseStatus(raw string, fallback appointment.Status) (appointment.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	s, err := appointment.ParseStatus(raw)
	if err != nil {
		return "", &FieldError{Field: "status", Message: "must be Scheduled, Confirmed or Cancelled"}
	}
	return s, nil
}

// Create books a new appointment. Every role rule is checked before the
// first gateway call; the overlap check then runs under the slot lock.
func (c *Controller) Create(ctx context.Context, actor session.User, d Draft) (appointment.Appointment, error) {
	status, err := parseStatus(d.Status, appointment.StatusScheduled)
	if err != nil {
		return appointment.Appointment{}, err
	}

	switch actor.Role {
	case session.RolePatient:
		if d.PatientUID != "" && d.PatientUID != actor.UID {
			return appointment.Appointment{}, &FieldError{Field: "patientUid", Message: "patients can only book for themselves"}
		}
		if status != appointment.StatusScheduled {
			return appointment.Appointment{}, &FieldError{Field: "status", Message: "cannot be set by patients"}
		}
		d.PatientUID = actor.UID
		if strings.TrimSpace(d.PatientName) == "" {
			d.PatientName = actor.FullName
		}
	case session.RoleDoctor:
		if d.DoctorUID != "" && d.DoctorUID != actor.UID {
			return appointment.Appointment{}, &FieldError{Field: "doctorUid", Message: "doctors can only book into their own schedule"}
		}
		d.DoctorUID = actor.UID
		if d.DoctorName == "" {
			d.DoctorName = actor.FullName
		}
	case session.RoleAdmin:
	default:
		return appointment.Appointment{}, ErrForbidden
	}

	if d.DoctorUID == "" {
		return appointment.Appointment{}, &FieldError{Field: "doctorUid", Message: "is required"}
	}
	if d.PatientUID == "" {
		return appointment.Appointment{}, &FieldError{Field: "patientUid", Message: "is required"}
	}
	if err := checkInterval(d.Start, d.End); err != nil {
		return appointment.Appointment{}, err
	}
	if d.Start <= c.nowMillis() {
		return appointment.Appointment{}, &FieldError{Field: "start", Message: "must be in the future"}
	}

	doc, err := c.doctor(ctx, d.DoctorUID)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if strings.TrimSpace(d.DoctorName) == "" {
		d.DoctorName = doc.FullName
	}

	// Patients book only what a doctor offers, so the doctor assignment comes
	// from availability and not from the form.
	if actor.IsPatient() {
		slot, err := c.offeredSlot(ctx, d.DoctorUID, d.Start, d.End)
		if err != nil {
			return appointment.Appointment{}, err
		}
		if slot.DoctorName != "" {
			d.DoctorName = slot.DoctorName
		}
		d.AvailableSlotID = slot.ID
	}

	var patient *profile.Profile
	if !actor.IsPatient() {
		p, err := c.roster.Patient(ctx, d.PatientUID)
		if errors.Is(err, profile.ErrNotFound) {
			return appointment.Appointment{}, &FieldError{Field: "patientUid", Message: "is not a registered patient"}
		}
		if err != nil {
			return appointment.Appointment{}, err
		}
		patient = &p
		if strings.TrimSpace(d.PatientName) == "" {
			d.PatientName = p.FullName
		}
	}

	if strings.TrimSpace(d.Title) == "" {
		d.Title = "Appointment with " + d.DoctorName
	}

	details := appointment.NewAppointment{
		Title:           strings.TrimSpace(d.Title),
		PatientName:     d.PatientName,
		DoctorName:      d.DoctorName,
		Start:           d.Start,
		End:             d.End,
		Notes:           d.notes(),
		Status:          status,
		DoctorUID:       d.DoctorUID,
		PatientUID:      d.PatientUID,
		AvailableSlotID: d.AvailableSlotID,
	}

	var created appointment.Appointment
	err = c.withSlotLock(ctx, d.DoctorUID, d.Start, func(lockCtx context.Context) error {
		if err := c.ensureFree(lockCtx, d.DoctorUID, d.Start, d.End, ""); err != nil {
			return err
		}
		a, err := c.store.AddAppointment(lockCtx, details)
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return appointment.Appointment{}, err
	}

	c.logger.Info("appointment booked",
		zap.String("id", created.ID),
		zap.String("doctor_uid", created.DoctorUID),
		zap.String("patient_uid", created.PatientUID),
		zap.String("actor_uid", actor.UID),
	)

	email := actor.Email
	if patient != nil {
		email = patient.Email
	}
	c.notify(ctx, bookedNotification(email, created))

	return created, nil
}

// Update edits an existing appointment. Patients may change text and times
// of their own bookings but not status or doctor.
func (c *Controller) Update(ctx context.Context, actor session.User, id string, d Draft) (appointment.Appointment, error) {
	current, err := c.lookup(ctx, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	if !CanAccess(actor, current) {
		return appointment.Appointment{}, ErrForbidden
	}

	status, err := parseStatus(d.Status, current.Status)
	if err != nil {
		return appointment.Appointment{}, err
	}

	next := current
	if strings.TrimSpace(d.Title) != "" {
		next.Title = strings.TrimSpace(d.Title)
	}
	if d.PatientName != "" {
		next.PatientName = d.PatientName
	}
	if d.Notes != nil {
		next.Notes = *d.Notes
	}
	if d.Start != 0 {
		next.Start = d.Start
	}
	if d.End != 0 {
		next.End = d.End
	}
	next.Status = status

	doctorChanged := d.DoctorUID != "" && d.DoctorUID != current.DoctorUID
	patientChanged := d.PatientUID != "" && d.PatientUID != current.PatientUID

	switch actor.Role {
	case session.RolePatient:
		if patientChanged {
			return appointment.Appointment{}, &FieldError{Field: "patientUid", Message: "patients can only book for themselves"}
		}
		if status != current.Status {
			return appointment.Appointment{}, &FieldError{Field: "status", Message: "cannot be changed by patients"}
		}
		if doctorChanged {
			return appointment.Appointment{}, &FieldError{Field: "doctorUid", Message: "cannot be changed by patients"}
		}
	case session.RoleDoctor:
		if doctorChanged {
			return appointment.Appointment{}, &FieldError{Field: "doctorUid", Message: "only admins can reassign the doctor"}
		}
	}

	if doctorChanged {
		doc, err := c.doctor(ctx, d.DoctorUID)
		if err != nil {
			return appointment.Appointment{}, err
		}
		next.DoctorUID = doc.UID
		next.DoctorName = doc.FullName
		if d.DoctorName != "" {
			next.DoctorName = d.DoctorName
		}
	}

	if err := checkInterval(next.Start, next.End); err != nil {
		return appointment.Appointment{}, err
	}
	if !appointment.CanTransition(current.Status, next.Status) {
		return appointment.Appointment{}, &appointment.TransitionError{From: current.Status, To: next.Status}
	}

	moved := next.Start != current.Start || next.End != current.End || doctorChanged
	if moved && actor.IsPatient() {
		slot, err := c.offeredSlot(ctx, next.DoctorUID, next.Start, next.End)
		if err != nil {
			return appointment.Appointment{}, err
		}
		next.AvailableSlotID = slot.ID
	}

	if patientChanged {
		p, err := c.roster.Patient(ctx, d.PatientUID)
		if errors.Is(err, profile.ErrNotFound) {
			return appointment.Appointment{}, &FieldError{Field: "patientUid", Message: "is not a registered patient"}
		}
		if err != nil {
			return appointment.Appointment{}, err
		}
		next.PatientUID = p.UID
		if d.PatientName == "" {
			next.PatientName = p.FullName
		}
	}

	write := func(ctx context.Context) error {
		updated, err := c.store.UpdateAppointment(ctx, next)
		if err != nil {
			return err
		}
		next = updated
		return nil
	}

	if moved && next.Status != appointment.StatusCancelled {
		err = c.withSlotLock(ctx, next.DoctorUID, next.Start, func(lockCtx context.Context) error {
			if err := c.ensureFree(lockCtx, next.DoctorUID, next.Start, next.End, next.ID); err != nil {
				return err
			}
			return write(lockCtx)
		})
	} else {
		err = write(ctx)
	}
	if err != nil {
		return appointment.Appointment{}, err
	}

	if next.Status != current.Status {
		c.logger.Info("appointment status changed",
			zap.String("id", next.ID),
			zap.String("from", string(current.Status)),
			zap.String("to", string(next.Status)),
			zap.String("actor_uid", actor.UID),
		)
		if p, err := c.roster.Patient(ctx, next.PatientUID); err == nil {
			c.notify(ctx, statusNotification(p.Email, next, current.Status))
		} else {
			c.logger.Warn("no patient to notify", zap.String("patient_uid", next.PatientUID), zap.Error(err))
		}
	}

	return next, nil
}

// Delete removes an appointment. An id that no longer exists succeeds.
func (c *Controller) Delete(ctx context.Context, actor session.User, id string) error {
	current, err := c.lookup(ctx, id)
	if appointment.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !CanAccess(actor, current) {
		return ErrForbidden
	}

	if err := c.store.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	c.logger.Info("appointment deleted", zap.String("id", id), zap.String("actor_uid", actor.UID))
	return nil
}

// List returns the actor's appointments on the given tab: upcoming ones
// soonest first, past ones most recent first.
func (c *Controller) List(ctx context.Context, actor session.User, tab Tab) ([]appointment.Appointment, error) {
	if tab == "" {
		tab = TabUpcoming
	}
	if tab != TabUpcoming && tab != TabPast {
		return nil, &FieldError{Field: "tab", Message: "must be upcoming or past"}
	}

	if err := c.store.FetchAppointments(ctx); err != nil {
		return nil, err
	}

	now := c.nowMillis()
	var out []appointment.Appointment
	for _, a := range c.store.Snapshot().Appointments {
		if !CanAccess(actor, a) {
			continue
		}
		if (a.Start > now) == (tab == TabUpcoming) {
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if tab == TabPast {
			return out[i].Start > out[j].Start
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

func (c *Controller) refresh(ctx context.Context, doctorUID string) (appointment.Snapshot, error) {
	if err := c.store.FetchAppointments(ctx); err != nil {
		return appointment.Snapshot{}, err
	}
	if err := c.store.FetchAvailableSlots(ctx, doctorUID); err != nil {
		return appointment.Snapshot{}, err
	}
	return c.store.Snapshot(), nil
}

// Calendar re-fetches and returns the events for the window. Every
// appointment blocks its slot, but only the ones the actor may see are
// listed as booked entries.
func (c *Controller) Calendar(ctx context.Context, actor session.User, window availability.Window) ([]availability.Event, error) {
	snap, err := c.refresh(ctx, "")
	if err != nil {
		return nil, err
	}

	events := availability.Events(availability.Blocks(snap.Availability), snap.Appointments, window)
	out := events[:0]
	for _, ev := range events {
		if ev.Kind == availability.KindBooked && !CanAccess(actor, *ev.Appointment) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Slots lists the future bookable slots, optionally for one doctor.
func (c *Controller) Slots(ctx context.Context, doctorUID string) ([]availability.Slot, error) {
	snap, err := c.refresh(ctx, doctorUID)
	if err != nil {
		return nil, err
	}
	slots := availability.Bookable(availability.Blocks(snap.Availability), snap.Appointments)
	return availability.FutureOnly(slots, c.nowMillis()), nil
}

func (c *Controller) lookup(ctx context.Context, id string) (appointment.Appointment, error) {
	if id == "" {
		return appointment.Appointment{}, &FieldError{Field: "id", Message: "is required"}
	}
	// Always the stored record: another instance may have changed it since
	// the last fetch.
	return c.store.Load(ctx, id)
}

// doctor resolves uid against the registered doctors.
func (c *Controller) doctor(ctx context.Context, uid string) (profile.Profile, error) {
	doctors, err := c.roster.Doctors(ctx)
	if err != nil {
		return profile.Profile{}, err
	}
	for _, p := range doctors {
		if p.UID == uid {
			return p, nil
		}
	}
	return profile.Profile{}, &FieldError{Field: "doctorUid", Message: "is not a registered doctor"}
}

// offeredSlot finds the slot of the doctor's availability spanning exactly
// [start, end). Booked slots still match, so a clash surfaces as ErrSlotTaken
// from the overlap check.
func (c *Controller) offeredSlot(ctx context.Context, doctorUID string, start, end appointment.Millis) (availability.Slot, error) {
	if err := c.store.FetchAvailableSlots(ctx, doctorUID); err != nil {
		return availability.Slot{}, err
	}
	for _, b := range availability.Blocks(c.store.Snapshot().Availability) {
		if b.DoctorUID != doctorUID {
			continue
		}
		for _, slot := range availability.Split(b) {
			if slot.Start == start && slot.End == end {
				return slot, nil
			}
		}
	}
	return availability.Slot{}, &FieldError{Field: "start", Message: "is not an available slot of the doctor"}
}

func (c *Controller) withSlotLock(ctx context.Context, doctorUID string, start appointment.Millis, fn func(ctx context.Context) error) error {
	err := c.locker.WithSlotLock(ctx, fmt.Sprintf("%s:%d", doctorUID, start), fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBeingBooked
	}
	return err
}

// ensureFree re-reads the gateway and fails when another appointment of the
// doctor overlaps [start, end). skipID excludes the appointment being moved.
func (c *Controller) ensureFree(ctx context.Context, doctorUID string, start, end appointment.Millis, skipID string) error {
	if err := c.store.FetchAppointments(ctx); err != nil {
		return err
	}
	for _, a := range c.store.Snapshot().Appointments {
		if a.ID == skipID || a.DoctorUID != doctorUID {
			continue
		}
		if a.Overlaps(start, end) {
			return ErrSlotTaken
		}
	}
	return nil
}

func (c *Controller) notify(ctx context.Context, n Notification) {
	if n.To == "" {
		c.logger.Warn("no recipient for notification", zap.String("subject", n.Subject))
		return
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Warn("notification failed", zap.String("to", n.To), zap.Error(err))
	}
}
