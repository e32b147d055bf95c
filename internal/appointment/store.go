package appointment

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/gateway"
)

type EventKind string

const (
	EventAppointmentsFetched EventKind = "appointments.fetched"
	EventAppointmentAdded    EventKind = "appointment.added"
	EventAppointmentUpdated  EventKind = "appointment.updated"
	EventAppointmentDeleted  EventKind = "appointment.deleted"
	EventAvailabilityFetched EventKind = "availability.fetched"
)

// Event is published to subscribers after the store's local state changed.
type Event struct {
	Kind          EventKind    `json:"kind"`
	AppointmentID string       `json:"appointmentId,omitempty"`
	Appointment   *Appointment `json:"appointment,omitempty"`
	At            time.Time    `json:"at"`
}

// Snapshot is a copy of the store state safe to hand to readers.
type Snapshot struct {
	Appointments []Appointment
	Availability []DoctorAvailability
	Loading      bool
	Err          error
}

// Store holds the in-memory appointments and raw availability, mutating them
// only after gateway calls complete. Operations are not serialized: when two
// calls overlap, whichever response lands last wins the local state.
type Store struct {
	gw     gateway.Gateway
	logger *zap.Logger

	mu           sync.RWMutex
	appointments []Appointment
	availability []DoctorAvailability
	inFlight     int
	lastErr      error

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewStore(gw gateway.Gateway, logger *zap.Logger) *Store {
	return &Store{
		gw:     gw,
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inFlight++
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Store) finish(err error) error {
	s.mu.Lock()
	s.inFlight--
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	return err
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appts := make([]Appointment, len(s.appointments))
	copy(appts, s.appointments)

	avail := make([]DoctorAvailability, len(s.availability))
	for i, da := range s.availability {
		blocks := make([]AvailabilityBlock, len(da.Blocks))
		copy(blocks, da.Blocks)
		avail[i] = DoctorAvailability{DoctorUID: da.DoctorUID, Blocks: blocks}
	}

	return Snapshot{
		Appointments: appts,
		Availability: avail,
		Loading:      s.inFlight > 0,
		Err:          s.lastErr,
	}
}

// Loading reports whether any operation is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// Err returns the error recorded by the last failed operation.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Subscribe registers for change events. A subscriber that does not keep up
// misses events instead of blocking the store.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publish(ev Event) {
	ev.At = time.Now().UTC()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropping store event for slow subscriber", zap.String("kind", string(ev.Kind)))
		}
	}
}

// FetchAppointments replaces the local appointments with the gateway's
// current contents. On failure the previous state is kept.
func (s *Store) FetchAppointments(ctx context.Context) error {
	s.begin()

	docs, err := s.gw.ListRecords(ctx, gateway.CollectionAppointments, nil)
	if err != nil {
		return s.finish(&GatewayError{Op: "fetch appointments", Err: err})
	}

	appts := make([]Appointment, 0, len(docs))
	for _, doc := range docs {
		a, err := decodeAppointment(doc)
		if err != nil {
			s.logger.Warn("skipping malformed appointment", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		appts = append(appts, a)
	}

	s.mu.Lock()
	s.appointments = appts
	s.mu.Unlock()

	s.publish(Event{Kind: EventAppointmentsFetched})
	return s.finish(nil)
}

// FetchAvailableSlots replaces the local raw availability, grouped by doctor.
// A non-empty doctorUID restricts the result to that doctor.
func (s *Store) FetchAvailableSlots(ctx context.Context, doctorUID string) error {
	s.begin()

	var filter *gateway.Filter
	if doctorUID != "" {
		filter = gateway.Where("doctorUid", doctorUID)
	}

	docs, err := s.gw.ListRecords(ctx, gateway.CollectionAvailableSlots, filter)
	if err != nil {
		return s.finish(&GatewayError{Op: "fetch available slots", Err: err})
	}

	byDoctor := make(map[string]int)
	var grouped []DoctorAvailability
	for _, doc := range docs {
		da, err := decodeAvailability(doc)
		if err != nil {
			s.logger.Warn("skipping malformed availability", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		idx, ok := byDoctor[da.DoctorUID]
		if !ok {
			byDoctor[da.DoctorUID] = len(grouped)
			grouped = append(grouped, da)
			continue
		}
		grouped[idx].Blocks = append(grouped[idx].Blocks, da.Blocks...)
	}

	s.mu.Lock()
	s.availability = grouped
	s.mu.Unlock()

	s.publish(Event{Kind: EventAvailabilityFetched})
	return s.finish(nil)
}

// AddAppointment creates the record in two phases: the created record is
// merged locally right away, then an awaited re-fetch replaces the local
// collection with the gateway's view. The re-fetch may silently overwrite
// the optimistic merge. A failed re-fetch is recorded but does not fail the
// add, since the record already exists at the gateway.
func (s *Store) AddAppointment(ctx context.Context, details NewAppointment) (Appointment, error) {
	s.begin()

	if err := validateInterval(details.Start, details.End); err != nil {
		return Appointment{}, s.finish(err)
	}
	if details.Status == "" {
		details.Status = StatusScheduled
	}

	record := details.withID("")
	id, err := s.gw.CreateRecord(ctx, gateway.CollectionAppointments, encodeAppointment(record))
	if err != nil {
		return Appointment{}, s.finish(&GatewayError{Op: "add appointment", Err: err})
	}
	record.ID = id

	s.mu.Lock()
	s.appointments = append(s.appointments, record)
	s.mu.Unlock()

	created := record
	s.publish(Event{Kind: EventAppointmentAdded, AppointmentID: id, Appointment: &created})
	s.finish(nil)

	if err := s.FetchAppointments(ctx); err != nil {
		s.logger.Warn("reconcile after add failed", zap.String("id", id), zap.Error(err))
	}

	return record, nil
}

// UpdateAppointment writes every field of a keyed by id and replaces the
// local copy. The stored status is read first so an illegal transition is
// refused here as well as in the booking controller.
func (s *Store) UpdateAppointment(ctx context.Context, a Appointment) (Appointment, error) {
	s.begin()

	if a.ID == "" {
		return Appointment{}, s.finish(&ValidationError{Field: "id", Message: "is required"})
	}
	if err := validateInterval(a.Start, a.End); err != nil {
		return Appointment{}, s.finish(err)
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}

	doc, err := s.gw.GetRecord(ctx, gateway.CollectionAppointments, a.ID)
	if err != nil {
		return Appointment{}, s.finish(s.writeError("update appointment", a.ID, err))
	}
	current, err := decodeAppointment(*doc)
	if err != nil {
		return Appointment{}, s.finish(&GatewayError{Op: "update appointment", Err: err})
	}
	if !CanTransition(current.Status, a.Status) {
		return Appointment{}, s.finish(&TransitionError{From: current.Status, To: a.Status})
	}

	if err := s.gw.UpdateRecord(ctx, gateway.CollectionAppointments, a.ID, appointmentPatch(a)); err != nil {
		return Appointment{}, s.finish(s.writeError("update appointment", a.ID, err))
	}

	s.mu.Lock()
	for i := range s.appointments {
		if s.appointments[i].ID == a.ID {
			s.appointments[i] = a
			break
		}
	}
	s.mu.Unlock()

	updated := a
	s.publish(Event{Kind: EventAppointmentUpdated, AppointmentID: a.ID, Appointment: &updated})
	return a, s.finish(nil)
}

// DeleteAppointment removes the record at the gateway and locally. Deleting
// an unknown id succeeds.
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	s.begin()

	if id == "" {
		return s.finish(&ValidationError{Field: "id", Message: "is required"})
	}

	if err := s.gw.DeleteRecord(ctx, gateway.CollectionAppointments, id); err != nil {
		return s.finish(&GatewayError{Op: "delete appointment", Err: err})
	}

	s.mu.Lock()
	kept := s.appointments[:0]
	for _, a := range s.appointments {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.appointments = kept
	s.mu.Unlock()

	s.publish(Event{Kind: EventAppointmentDeleted, AppointmentID: id})
	return s.finish(nil)
}

// Load reads one appointment from the gateway and refreshes its local copy,
// so edits start from the stored record rather than a stale snapshot. A
// record gone from the gateway is dropped locally and reported as
// NotFoundError without becoming the store error.
func (s *Store) Load(ctx context.Context, id string) (Appointment, error) {
	s.begin()

	if id == "" {
		return Appointment{}, s.finish(&ValidationError{Field: "id", Message: "is required"})
	}

	doc, err := s.gw.GetRecord(ctx, gateway.CollectionAppointments, id)
	if errors.Is(err, gateway.ErrNotFound) {
		s.mu.Lock()
		s.appointments = slices.DeleteFunc(s.appointments, func(a Appointment) bool { return a.ID == id })
		s.mu.Unlock()
		_ = s.finish(nil)
		return Appointment{}, &NotFoundError{ID: id}
	}
	if err != nil {
		return Appointment{}, s.finish(&GatewayError{Op: "load appointment", Err: err})
	}

	a, err := decodeAppointment(*doc)
	if err != nil {
		return Appointment{}, s.finish(&GatewayError{Op: "load appointment", Err: err})
	}

	s.mu.Lock()
	i := slices.IndexFunc(s.appointments, func(x Appointment) bool { return x.ID == id })
	if i >= 0 {
		s.appointments[i] = a
	} else {
		s.appointments = append(s.appointments, a)
	}
	s.mu.Unlock()

	return a, s.finish(nil)
}

// Appointment returns the local copy of one appointment.
func (s *Store) Appointment(id string) (Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.appointments {
		if a.ID == id {
			return a, true
		}
	}
	return Appointment{}, false
}

func (s *Store) writeError(op, id string, err error) error {
	if errors.Is(err, gateway.ErrNotFound) {
		return &NotFoundError{ID: id}
	}
	return &GatewayError{Op: op, Err: err}
}
