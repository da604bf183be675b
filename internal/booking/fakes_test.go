package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/booking-engine/internal/availability"
	"github.com/slotwise/booking-engine/internal/slot"
)

// In-memory doubles for the slot store, repository, rule store and emitter.
// The slot store keeps the claim compare-and-set under a mutex so the
// concurrency tests exercise the same one-winner contract as the SQL update.

type memSlots struct {
	mu        sync.Mutex
	slots     map[uuid.UUID]*slot.Slot
	hostNames map[uuid.UUID]string
	hostMails map[uuid.UUID]string
}

func newMemSlots() *memSlots {
	return &memSlots{
		slots:     make(map[uuid.UUID]*slot.Slot),
		hostNames: make(map[uuid.UUID]string),
		hostMails: make(map[uuid.UUID]string),
	}
}

func (m *memSlots) registerHost(id uuid.UUID, name, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostNames[id] = name
	m.hostMails[id] = email
}

func (m *memSlots) add(sl slot.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := sl
	m.slots[sl.ID] = &cp
}

func (m *memSlots) get(id uuid.UUID) *slot.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok {
		return nil
	}
	cp := *sl
	return &cp
}

func (m *memSlots) BulkInsert(ctx context.Context, slots []slot.Slot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, sl := range slots {
		dup := false
		for _, existing := range m.slots {
			if existing.HostID == sl.HostID && existing.StartTime.Equal(sl.StartTime) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := sl
		m.slots[sl.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (m *memSlots) Claim(ctx context.Context, id uuid.UUID) (*slot.Claimed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sl, ok := m.slots[id]
	if !ok || !sl.IsAvailable {
		return nil, slot.ErrClaimFailed
	}
	sl.IsAvailable = false

	return &slot.Claimed{
		Slot:      *sl,
		HostName:  m.hostNames[sl.HostID],
		HostEmail: m.hostMails[sl.HostID],
	}, nil
}

func (m *memSlots) Release(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sl, ok := m.slots[id]; ok {
		sl.IsAvailable = true
	}
	return nil
}

func (m *memSlots) List(ctx context.Context, hostID uuid.UUID, onlyAvailable bool, after *time.Time) ([]slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []slot.Slot
	for _, sl := range m.slots {
		if sl.HostID != hostID {
			continue
		}
		if onlyAvailable && !sl.IsAvailable {
			continue
		}
		if after != nil && !sl.StartTime.After(*after) {
			continue
		}
		out = append(out, *sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

type memRepo struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*User
	patients    map[uuid.UUID]uuid.UUID // patient id -> owner id
	appts       map[uuid.UUID]*Appointment
	events      []EventLog
	slotStore   *memSlots
	failCreate  error  // forced CreatePendingAppointment failure
	afterDetail func() // runs after GetAppointmentDetail returns, outside the lock
}

func newMemRepo(slots *memSlots) *memRepo {
	return &memRepo{
		users:     make(map[uuid.UUID]*User),
		patients:  make(map[uuid.UUID]uuid.UUID),
		appts:     make(map[uuid.UUID]*Appointment),
		slotStore: slots,
	}
}

func (m *memRepo) addUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *memRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) PatientOwnedBy(ctx context.Context, patientID, ownerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.patients[patientID]
	return ok && owner == ownerID, nil
}

func (m *memRepo) CreatePendingAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		return nil, m.failCreate
	}

	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.Status = StatusPending
	appt.PaymentStatus = PaymentPending
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt

	cp := appt
	m.appts[appt.ID] = &cp

	out := appt
	return &out, nil
}

func (m *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) detailLocked(a *Appointment) *AppointmentDetail {
	d := AppointmentDetail{Appointment: *a}
	d.Slot = m.slotStore.get(a.SlotID)
	if h, ok := m.users[a.HostID]; ok {
		cp := *h
		d.Host = &cp
	}
	if a.GuestID != nil {
		if g, ok := m.users[*a.GuestID]; ok {
			cp := *g
			d.Guest = &cp
		}
	}
	return &d
}

func (m *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	a, ok := m.appts[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrAppointmentNotFound
	}
	d := m.detailLocked(a)
	hook := m.afterDetail
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return d, nil
}

func (m *memRepo) ListAppointmentsByParticipant(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AppointmentDetail
	for _, a := range m.appts {
		if a.HostID == userID || (a.GuestID != nil && *a.GuestID == userID) {
			out = append(out, *m.detailLocked(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) ConfirmPending(ctx context.Context, id, hostID uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.HostID != hostID || a.Status != StatusPending {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusConfirmed
	a.UpdatedAt = time.Now()
	return m.detailLocked(a), nil
}

func (m *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancelReason string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if cancelReason != "" {
		a.CancelReason = cancelReason
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) MarkPaid(ctx context.Context, id uuid.UUID, method string, amount int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.PaymentStatus == PaymentPaid {
		return nil, ErrAppointmentNotFound
	}
	a.PaymentStatus = PaymentPaid
	a.PaymentMethod = &method
	a.PaymentAmount = &amount
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) appointmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts)
}

func (m *memRepo) activeAppointmentsForSlot(slotID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.SlotID == slotID && a.Status != StatusCanceled {
			n++
		}
	}
	return n
}

type memRules struct {
	mu    sync.Mutex
	rules map[uuid.UUID]*availability.Rule
}

func newMemRules() *memRules {
	return &memRules{rules: make(map[uuid.UUID]*availability.Rule)}
}

func (m *memRules) Create(ctx context.Context, rule availability.Rule) (*availability.Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	cp := rule
	m.rules[rule.ID] = &cp
	out := rule
	return &out, nil
}

func (m *memRules) GetByID(ctx context.Context, id uuid.UUID) (*availability.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, availability.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRules) ListByHost(ctx context.Context, hostID uuid.UUID) ([]availability.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Rule
	for _, r := range m.rules {
		if r.HostID == hostID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRules) Deactivate(ctx context.Context, id, hostID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.HostID != hostID {
		return availability.ErrRuleNotFound
	}
	r.IsActive = false
	return nil
}

type emittedEvent struct {
	Type    string
	Payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
	fail   bool
}

func (f *fakeEmitter) Emit(ctx context.Context, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sink down")
	}
	f.events = append(f.events, emittedEvent{Type: eventType, Payload: payload})
	return nil
}

func (f *fakeEmitter) byType(eventType string) []emittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emittedEvent
	for _, ev := range f.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
