package booking

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/availability"
	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/profile"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/session"
)

// countingGateway records every call reaching the gateway.
type countingGateway struct {
	*gateway.MemoryStore
	calls atomic.Int32
}

func (g *countingGateway) CreateRecord(ctx context.Context, collection string, data any) (string, error) {
	g.calls.Add(1)
	return g.MemoryStore.CreateRecord(ctx, collection, data)
}

func (g *countingGateway) SetRecord(ctx context.Context, collection, id string, data any) error {
	g.calls.Add(1)
	return g.MemoryStore.SetRecord(ctx, collection, id, data)
}

func (g *countingGateway) GetRecord(ctx context.Context, collection, id string) (*gateway.Document, error) {
	g.calls.Add(1)
	return g.MemoryStore.GetRecord(ctx, collection, id)
}

func (g *countingGateway) ListRecords(ctx context.Context, collection string, filter *gateway.Filter) ([]gateway.Document, error) {
	g.calls.Add(1)
	return g.MemoryStore.ListRecords(ctx, collection, filter)
}

func (g *countingGateway) UpdateRecord(ctx context.Context, collection, id string, patch map[string]any) error {
	g.calls.Add(1)
	return g.MemoryStore.UpdateRecord(ctx, collection, id, patch)
}

func (g *countingGateway) DeleteRecord(ctx context.Context, collection, id string) error {
	g.calls.Add(1)
	return g.MemoryStore.DeleteRecord(ctx, collection, id)
}

type fakeRoster map[string]profile.Profile

func (r fakeRoster) Patient(_ context.Context, uid string) (profile.Profile, error) {
	p, ok := r[uid]
	if !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	return p, nil
}

func (r fakeRoster) Doctors(context.Context) ([]profile.Profile, error) {
	var out []profile.Profile
	for _, p := range r {
		if p.Role == session.RoleDoctor {
			out = append(out, p)
		}
	}
	return out, nil
}

func text(s string) *string { return &s }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

var (
	today = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	day   = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	patient = session.User{UID: "pat-1", Role: session.RolePatient, FullName: "Pat One", Email: "pat@example.com"}
	other   = session.User{UID: "pat-2", Role: session.RolePatient, FullName: "Sam Two", Email: "sam@example.com"}
	doctor  = session.User{UID: "doc-1", Role: session.RoleDoctor, FullName: "Dr. House", Email: "house@example.com"}
	admin   = session.User{UID: "adm-1", Role: session.RoleAdmin, FullName: "Admin"}
)

func at(hour, minute int) appointment.Millis {
	return appointment.MillisFromTime(day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute))
}

type fixture struct {
	ctrl     *Controller
	store    *appointment.Store
	gw       *countingGateway
	roster   fakeRoster
	notifier *recordingNotifier
}

func newFixture(t *testing.T, locker redisclient.Locker) fixture {
	t.Helper()

	gw := &countingGateway{MemoryStore: gateway.NewMemoryStore()}
	store := appointment.NewStore(gw, zap.NewNop())
	roster := fakeRoster{
		patient.UID: {UID: patient.UID, Role: session.RolePatient, FullName: patient.FullName, Email: patient.Email},
		other.UID:   {UID: other.UID, Role: session.RolePatient, FullName: other.FullName, Email: other.Email},
		doctor.UID:  {UID: doctor.UID, Role: session.RoleDoctor, FullName: doctor.FullName, Email: doctor.Email},
	}
	notifier := &recordingNotifier{}

	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	ctrl := NewController(store, roster, locker, notifier, zap.NewNop())
	ctrl.now = func() time.Time { return today }

	require.NoError(t, appointment.PutAvailability(context.Background(), gw, appointment.DoctorAvailability{
		DoctorUID: doctor.UID,
		Blocks: []appointment.AvailabilityBlock{
			{DoctorUID: doctor.UID, DoctorName: doctor.FullName, Start: at(9, 0), End: at(11, 0)},
		},
	}))
	gw.calls.Store(0)

	return fixture{ctrl: ctrl, store: store, gw: gw, roster: roster, notifier: notifier}
}

func patientDraft() Draft {
	return Draft{
		Title:      "Checkup",
		DoctorName: doctor.FullName,
		DoctorUID:  doctor.UID,
		Start:      at(9, 0),
		End:        at(9, 30),
		Notes:      text("first visit"),
	}
}

func TestSelectSlot(t *testing.T) {
	f := newFixture(t, nil)
	slot := availability.Split(appointment.AvailabilityBlock{
		DoctorUID: doctor.UID, DoctorName: doctor.FullName, Start: at(9, 0), End: at(9, 30),
	})[0]

	d := f.ctrl.SelectSlot(patient, slot)
	assert.Equal(t, patient.UID, d.PatientUID)
	assert.Equal(t, patient.FullName, d.PatientName)
	assert.Equal(t, slot.ID, d.AvailableSlotID)
	assert.Equal(t, doctor.UID, d.DoctorUID)
	assert.Equal(t, at(9, 30), d.End)

	d = f.ctrl.SelectSlot(admin, slot)
	assert.Empty(t, d.PatientUID)
}

func TestCreate_Patient(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.ctrl.Create(context.Background(), patient, patientDraft())
	require.NoError(t, err)

	assert.Equal(t, patient.UID, a.PatientUID)
	assert.Equal(t, patient.FullName, a.PatientName)
	assert.Equal(t, appointment.StatusScheduled, a.Status)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, patient.Email, sent[0].To)
}

func TestCreate_PatientForSomeoneElseRejectedBeforeGateway(t *testing.T) {
	f := newFixture(t, nil)

	d := patientDraft()
	d.PatientUID = other.UID

	_, err := f.ctrl.Create(context.Background(), patient, d)

	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "patientUid", ferr.Field)
	assert.Equal(t, int32(0), f.gw.calls.Load())
	assert.Empty(t, f.store.Snapshot().Appointments)
}

func TestCreate_PatientCannotSetStatus(t *testing.T) {
	f := newFixture(t, nil)

	d := patientDraft()
	d.Status = "confirmed"

	_, err := f.ctrl.Create(context.Background(), patient, d)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "status", ferr.Field)
	assert.Equal(t, int32(0), f.gw.calls.Load())
}

func TestCreate_RejectsPastAndInvertedTimes(t *testing.T) {
	f := newFixture(t, nil)

	past := patientDraft()
	past.Start = appointment.MillisFromTime(today.Add(-time.Hour))
	past.End = appointment.MillisFromTime(today.Add(-30 * time.Minute))
	_, err := f.ctrl.Create(context.Background(), patient, past)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "start", ferr.Field)

	inverted := patientDraft()
	inverted.End = inverted.Start
	_, err = f.ctrl.Create(context.Background(), patient, inverted)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "end", ferr.Field)

	assert.Equal(t, int32(0), f.gw.calls.Load())
}

func TestCreate_AdminPicksPatientFromRoster(t *testing.T) {
	f := newFixture(t, nil)

	d := patientDraft()
	d.PatientUID = other.UID
	d.Status = "Confirmed"

	a, err := f.ctrl.Create(context.Background(), admin, d)
	require.NoError(t, err)
	assert.Equal(t, other.FullName, a.PatientName)
	assert.Equal(t, appointment.StatusConfirmed, a.Status)

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, other.Email, sent[0].To)

	d.PatientUID = "stranger"
	d.Start, d.End = at(10, 0), at(10, 30)
	_, err = f.ctrl.Create(context.Background(), admin, d)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "patientUid", ferr.Field)
}

func TestCreate_DoctorOnlyOwnSchedule(t *testing.T) {
	f := newFixture(t, nil)

	d := patientDraft()
	d.DoctorUID = "doc-2"
	d.PatientUID = patient.UID

	_, err := f.ctrl.Create(context.Background(), doctor, d)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "doctorUid", ferr.Field)

	d.DoctorUID = ""
	a, err := f.ctrl.Create(context.Background(), doctor, d)
	require.NoError(t, err)
	assert.Equal(t, doctor.UID, a.DoctorUID)
}

func TestCreate_OverlapIsSlotTaken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	_, err = f.ctrl.Create(ctx, other, patientDraft())
	assert.ErrorIs(t, err, ErrSlotTaken)

	clash := patientDraft()
	clash.PatientUID = other.UID
	clash.Start, clash.End = at(9, 15), at(9, 45)
	_, err = f.ctrl.Create(ctx, admin, clash)
	assert.ErrorIs(t, err, ErrSlotTaken)

	touching := patientDraft()
	touching.Start, touching.End = at(9, 30), at(10, 0)
	_, err = f.ctrl.Create(ctx, other, touching)
	assert.NoError(t, err)
}

func TestCreate_LockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t, redisclient.NewRedisSlotLocker(rdb, 5*time.Second))

	d := patientDraft()
	require.NoError(t, mr.Set("lock:slot:doc-1:"+strconv.FormatInt(int64(d.Start), 10), "someone-else"))

	_, err := f.ctrl.Create(context.Background(), patient, d)
	assert.ErrorIs(t, err, ErrSlotBeingBooked)

	mr.Del("lock:slot:doc-1:" + strconv.FormatInt(int64(d.Start), 10))
	_, err = f.ctrl.Create(context.Background(), patient, d)
	assert.NoError(t, err)
}

func TestCreate_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = errors.New("smtp down")

	_, err := f.ctrl.Create(context.Background(), patient, patientDraft())
	assert.NoError(t, err)
}

func TestUpdate_PatientRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	_, err = f.ctrl.Update(ctx, patient, a.ID, Draft{Status: "Confirmed"})
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "status", ferr.Field)

	_, err = f.ctrl.Update(ctx, patient, a.ID, Draft{DoctorUID: "doc-2"})
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "doctorUid", ferr.Field)

	_, err = f.ctrl.Update(ctx, other, a.ID, Draft{Notes: text("mine now")})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := f.ctrl.Update(ctx, patient, a.ID, Draft{Notes: text("bring x-rays")})
	require.NoError(t, err)
	assert.Equal(t, "bring x-rays", updated.Notes)
	assert.Equal(t, a.Title, updated.Title)
}

func TestUpdate_StatusMachine(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	confirmed, err := f.ctrl.Update(ctx, doctor, a.ID, Draft{Status: "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, confirmed.Status)

	_, err = f.ctrl.Update(ctx, doctor, a.ID, Draft{Status: "Scheduled"})
	var terr *appointment.TransitionError
	require.ErrorAs(t, err, &terr)

	cancelled, err := f.ctrl.Update(ctx, admin, a.ID, Draft{Status: "Cancelled"})
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	sent := f.notifier.all()
	require.Len(t, sent, 3, "booked, confirmed, cancelled")
	assert.Contains(t, sent[2].Subject, "Cancelled")
}

func TestUpdate_MoveChecksOverlap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	later := patientDraft()
	later.Start, later.End = at(10, 0), at(10, 30)
	second, err := f.ctrl.Create(ctx, other, later)
	require.NoError(t, err)

	_, err = f.ctrl.Update(ctx, other, second.ID, Draft{Start: at(9, 0), End: at(9, 30)})
	assert.ErrorIs(t, err, ErrSlotTaken)

	moved, err := f.ctrl.Update(ctx, admin, first.ID, Draft{Start: at(9, 15), End: at(9, 45)})
	require.NoError(t, err, "an appointment never collides with itself")
	assert.Equal(t, at(9, 15), moved.Start)
	assert.Equal(t, "first visit", moved.Notes)
}

func TestCreate_PatientBooksOnlyOfferedSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ghost := patientDraft()
	ghost.DoctorUID = "ghost-doctor"
	ghost.DoctorName = "Nobody"
	_, err := f.ctrl.Create(ctx, patient, ghost)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "doctorUid", ferr.Field)

	offHours := patientDraft()
	offHours.Start, offHours.End = at(22, 0), at(23, 45)
	_, err = f.ctrl.Create(ctx, patient, offHours)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "start", ferr.Field)

	unaligned := patientDraft()
	unaligned.Start, unaligned.End = at(9, 10), at(9, 40)
	_, err = f.ctrl.Create(ctx, patient, unaligned)
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "start", ferr.Field)

	assert.Empty(t, f.store.Snapshot().Appointments)

	renamed := patientDraft()
	renamed.DoctorName = "Nobody"
	a, err := f.ctrl.Create(ctx, patient, renamed)
	require.NoError(t, err)
	assert.Equal(t, doctor.FullName, a.DoctorName)
	assert.Equal(t, availability.SlotID(doctor.UID, at(9, 0)), a.AvailableSlotID)
}

func TestCreate_AdminNeedsRegisteredDoctor(t *testing.T) {
	f := newFixture(t, nil)

	d := patientDraft()
	d.PatientUID = patient.UID
	d.DoctorUID = "ghost-doctor"

	_, err := f.ctrl.Create(context.Background(), admin, d)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "doctorUid", ferr.Field)

	d.DoctorUID = doctor.UID
	d.DoctorName = ""
	d.Start, d.End = at(15, 0), at(16, 0)
	a, err := f.ctrl.Create(context.Background(), admin, d)
	require.NoError(t, err, "admins may book outside published availability")
	assert.Equal(t, doctor.FullName, a.DoctorName)
}

func TestUpdate_PatientMovesOnlyToOfferedSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	_, err = f.ctrl.Update(ctx, patient, a.ID, Draft{Start: at(18, 0), End: at(18, 30)})
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "start", ferr.Field)

	moved, err := f.ctrl.Update(ctx, patient, a.ID, Draft{Start: at(10, 30), End: at(11, 0)})
	require.NoError(t, err)
	assert.Equal(t, at(10, 30), moved.Start)
	assert.Equal(t, availability.SlotID(doctor.UID, at(10, 30)), moved.AvailableSlotID)
}

func TestUpdate_StartsFromStoredRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	// A second instance sharing the gateway moves the appointment.
	peer := NewController(appointment.NewStore(f.gw, zap.NewNop()), f.roster, redisclient.NoopLocker{}, &recordingNotifier{}, zap.NewNop())
	peer.now = func() time.Time { return today }
	_, err = peer.Update(ctx, admin, a.ID, Draft{Start: at(10, 0), End: at(10, 30)})
	require.NoError(t, err)

	// This instance still caches 09:00 and edits only the notes.
	cached, ok := f.store.Appointment(a.ID)
	require.True(t, ok)
	require.Equal(t, at(9, 0), cached.Start)

	updated, err := f.ctrl.Update(ctx, patient, a.ID, Draft{Notes: text("bring x-rays")})
	require.NoError(t, err)
	assert.Equal(t, at(10, 0), updated.Start)

	fresh := appointment.NewStore(f.gw, zap.NewNop())
	require.NoError(t, fresh.FetchAppointments(ctx))
	stored, ok := fresh.Appointment(a.ID)
	require.True(t, ok)
	assert.Equal(t, at(10, 0), stored.Start)
	assert.Equal(t, at(10, 30), stored.End)
	assert.Equal(t, "bring x-rays", stored.Notes)
	assert.Equal(t, a.Title, stored.Title)
	assert.Equal(t, a.DoctorUID, stored.DoctorUID)
}

func TestUpdate_OmittedNotesAreKept(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	kept, err := f.ctrl.Update(ctx, patient, a.ID, Draft{Title: "Follow-up"})
	require.NoError(t, err)
	assert.Equal(t, "first visit", kept.Notes)
	assert.Equal(t, "Follow-up", kept.Title)

	cleared, err := f.ctrl.Update(ctx, patient, a.ID, Draft{Notes: text("")})
	require.NoError(t, err)
	assert.Empty(t, cleared.Notes)
}

func TestUpdate_UnknownID(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.ctrl.Update(context.Background(), admin, "ghost", Draft{Notes: text("x")})
	assert.True(t, appointment.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	assert.ErrorIs(t, f.ctrl.Delete(ctx, other, a.ID), ErrForbidden)
	require.NoError(t, f.ctrl.Delete(ctx, patient, a.ID))
	assert.Empty(t, f.store.Snapshot().Appointments)

	assert.NoError(t, f.ctrl.Delete(ctx, patient, a.ID), "deleting twice is a no-op")
}

func TestList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	mine, err := f.ctrl.Create(ctx, patient, patientDraft())
	require.NoError(t, err)

	theirs := patientDraft()
	theirs.Start, theirs.End = at(10, 0), at(10, 30)
	_, err = f.ctrl.Create(ctx, other, theirs)
	require.NoError(t, err)

	upcoming, err := f.ctrl.List(ctx, patient, TabUpcoming)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, mine.ID, upcoming[0].ID)

	all, err := f.ctrl.List(ctx, doctor, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Less(t, all[0].Start, all[1].Start)

	f.ctrl.now = func() time.Time { return day.Add(24 * time.Hour) }
	past, err := f.ctrl.List(ctx, admin, TabPast)
	require.NoError(t, err)
	require.Len(t, past, 2)
	assert.Greater(t, past[0].Start, past[1].Start)

	_, err = f.ctrl.List(ctx, admin, "someday")
	var ferr *FieldError
	assert.ErrorAs(t, err, &ferr)
}

func TestCalendarAndSlots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	d := patientDraft()
	d.Start, d.End = at(9, 30), at(10, 0)
	_, err := f.ctrl.Create(ctx, other, d)
	require.NoError(t, err)

	slots, err := f.ctrl.Slots(ctx, doctor.UID)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, at(9, 0), slots[0].Start)
	assert.Equal(t, at(10, 0), slots[1].Start)

	window := availability.Window{Start: at(9, 0), End: at(10, 0)}

	events, err := f.ctrl.Calendar(ctx, patient, window)
	require.NoError(t, err)
	require.Len(t, events, 1, "another patient's booking is hidden but still blocks its slot")
	assert.Equal(t, availability.KindAvailable, events[0].Kind)

	events, err = f.ctrl.Calendar(ctx, doctor, window)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, availability.KindBooked, events[1].Kind)
}
