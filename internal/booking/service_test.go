package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotwise/booking-engine/internal/availability"
	"github.com/slotwise/booking-engine/internal/slot"
)

// 2026-01-05 is a Monday.
var testMonday = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	repo    *memRepo
	slots   *memSlots
	rules   *memRules
	emitter *fakeEmitter
	svc     *Service

	host  User
	guest User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	slots := newMemSlots()
	repo := newMemRepo(slots)
	rules := newMemRules()
	emitter := &fakeEmitter{}

	host := User{ID: uuid.New(), Name: "Dr. Host", Email: "host@example.com", Role: RoleHost}
	guest := User{ID: uuid.New(), Name: "Guest One", Email: "guest@example.com", Role: RoleGuest}
	repo.addUser(host)
	repo.addUser(guest)
	slots.registerHost(host.ID, host.Name, host.Email)

	return &testEnv{
		repo:    repo,
		slots:   slots,
		rules:   rules,
		emitter: emitter,
		svc:     NewService(repo, slots, rules, emitter),
		host:    host,
		guest:   guest,
	}
}

func (e *testEnv) addSlot(start time.Time) slot.Slot {
	sl := slot.Slot{
		ID:          uuid.New(),
		HostID:      e.host.ID,
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		IsAvailable: true,
	}
	e.slots.add(sl)
	return sl
}

func (e *testEnv) bookReq(sl slot.Slot) BookRequest {
	guestID := e.guest.ID
	return BookRequest{
		GuestID: &guestID,
		HostID:  e.host.ID,
		SlotID:  sl.ID,
	}
}

func TestBook_Success(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	req := env.bookReq(sl)
	req.Reason = "checkup"

	appt, err := env.svc.Book(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, sl.ID, appt.SlotID)
	assert.Equal(t, "Guest One", appt.GuestName, "contact denormalized from the user row")
	assert.False(t, env.slots.get(sl.ID).IsAvailable)

	created := env.emitter.byType(EventAppointmentCreated)
	require.Len(t, created, 1)
	payload := created[0].Payload.(CreatedEvent)
	assert.Equal(t, appt.ID.String(), payload.AppointmentID)
	assert.Equal(t, "Dr. Host", payload.HostName)
	assert.Equal(t, "host@example.com", payload.HostEmail)
	assert.Equal(t, env.guest.ID.String(), payload.GuestID)
	assert.Equal(t, "2026-01-05", payload.Date)
	assert.Equal(t, "09:00", payload.Time)
	assert.Equal(t, "checkup", payload.Reason)
}

func TestBook_ConcurrentClaimsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Book(context.Background(), env.bookReq(sl))
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
	assert.False(t, env.slots.get(sl.ID).IsAvailable)
	assert.Equal(t, 1, env.repo.activeAppointmentsForSlot(sl.ID))
}

func TestBook_CompensatesOnAppointmentInsertFailure(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))
	env.repo.failCreate = errors.New("insert blew up")

	_, err := env.svc.Book(context.Background(), env.bookReq(sl))
	require.ErrorIs(t, err, ErrBookingFailed)

	assert.True(t, env.slots.get(sl.ID).IsAvailable, "claim must be rolled back")
	assert.Equal(t, 0, env.repo.appointmentCount())
	assert.Empty(t, env.emitter.events)
}

func TestBook_Validation(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	t.Run("missing slot", func(t *testing.T) {
		req := env.bookReq(sl)
		req.SlotID = uuid.Nil
		_, err := env.svc.Book(context.Background(), req)
		assert.ErrorIs(t, err, ErrMissingSlot)
	})

	t.Run("missing host", func(t *testing.T) {
		req := env.bookReq(sl)
		req.HostID = uuid.Nil
		_, err := env.svc.Book(context.Background(), req)
		assert.ErrorIs(t, err, ErrMissingHost)
	})

	t.Run("self booking", func(t *testing.T) {
		hostID := env.host.ID
		req := BookRequest{GuestID: &hostID, HostID: env.host.ID, SlotID: sl.ID}
		_, err := env.svc.Book(context.Background(), req)
		assert.ErrorIs(t, err, ErrSelfBooking)
	})

	t.Run("patient owned by someone else", func(t *testing.T) {
		patientID := uuid.New()
		env.repo.patients[patientID] = uuid.New()
		req := env.bookReq(sl)
		req.PatientID = &patientID
		_, err := env.svc.Book(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidPatient)
	})

	t.Run("patient with anonymous guest", func(t *testing.T) {
		patientID := uuid.New()
		req := BookRequest{HostID: env.host.ID, SlotID: sl.ID, PatientID: &patientID}
		_, err := env.svc.Book(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidPatient)
	})

	// No claim may have happened on any of the rejected requests.
	assert.True(t, env.slots.get(sl.ID).IsAvailable)
}

func TestBook_AnonymousGuest(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	appt, err := env.svc.Book(context.Background(), BookRequest{
		HostID:     env.host.ID,
		SlotID:     sl.ID,
		GuestName:  "Walk In",
		GuestEmail: "walkin@example.com",
	})
	require.NoError(t, err)

	assert.Nil(t, appt.GuestID)
	assert.Equal(t, "Walk In", appt.GuestName)

	created := env.emitter.byType(EventAppointmentCreated)
	require.Len(t, created, 1)
	payload := created[0].Payload.(CreatedEvent)
	assert.Equal(t, "anonymous", payload.GuestID)
	assert.Equal(t, "walkin@example.com", payload.GuestEmail)
}

func TestBook_EmitterFailureDoesNotFailBooking(t *testing.T) {
	env := newTestEnv(t)
	env.emitter.fail = true
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
}

func TestConfirm(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
	require.NoError(t, err)

	t.Run("wrong host is not confirmable", func(t *testing.T) {
		_, err := env.svc.Confirm(context.Background(), appt.ID, uuid.New())
		assert.ErrorIs(t, err, ErrNotConfirmable)
	})

	t.Run("unknown appointment is not confirmable", func(t *testing.T) {
		_, err := env.svc.Confirm(context.Background(), uuid.New(), env.host.ID)
		assert.ErrorIs(t, err, ErrNotConfirmable)
	})

	t.Run("host confirms pending", func(t *testing.T) {
		detail, err := env.svc.Confirm(context.Background(), appt.ID, env.host.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, detail.Status)

		confirmed := env.emitter.byType(EventAppointmentConfirmed)
		require.Len(t, confirmed, 1)
		payload := confirmed[0].Payload.(ConfirmedEvent)
		assert.Equal(t, "Guest One", payload.GuestName)
		assert.Equal(t, "guest@example.com", payload.GuestEmail)
	})

	t.Run("second confirm is not confirmable", func(t *testing.T) {
		_, err := env.svc.Confirm(context.Background(), appt.ID, env.host.ID)
		assert.ErrorIs(t, err, ErrNotConfirmable)
	})
}

func TestCancel(t *testing.T) {
	t.Run("guest cancels pending, slot released", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)

		updated, err := env.svc.Cancel(context.Background(), appt.ID, env.guest.ID, "conflict")
		require.NoError(t, err)

		assert.Equal(t, StatusCanceled, updated.Status)
		assert.Equal(t, "conflict", updated.CancelReason)
		assert.True(t, env.slots.get(sl.ID).IsAvailable)

		canceled := env.emitter.byType(EventAppointmentCanceled)
		require.Len(t, canceled, 1)
		assert.Equal(t, "guest", canceled[0].Payload.(CanceledEvent).CanceledBy)
	})

	t.Run("host cancels confirmed, slot released", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)
		_, err = env.svc.Confirm(context.Background(), appt.ID, env.host.ID)
		require.NoError(t, err)

		updated, err := env.svc.Cancel(context.Background(), appt.ID, env.host.ID, "")
		require.NoError(t, err)

		assert.Equal(t, StatusCanceled, updated.Status)
		assert.True(t, env.slots.get(sl.ID).IsAvailable)

		canceled := env.emitter.byType(EventAppointmentCanceled)
		require.Len(t, canceled, 1)
		assert.Equal(t, "host", canceled[0].Payload.(CanceledEvent).CanceledBy)
	})

	t.Run("third party cannot cancel", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)

		_, err = env.svc.Cancel(context.Background(), appt.ID, uuid.New(), "mine now")
		assert.ErrorIs(t, err, ErrNotOwner)
		assert.False(t, env.slots.get(sl.ID).IsAvailable)
	})

	t.Run("cancel twice", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)

		_, err = env.svc.Cancel(context.Background(), appt.ID, env.guest.ID, "conflict")
		require.NoError(t, err)
		_, err = env.svc.Cancel(context.Background(), appt.ID, env.guest.ID, "again")
		assert.ErrorIs(t, err, ErrAlreadyCanceled)
	})

	t.Run("cancel completed", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)

		env.repo.mu.Lock()
		env.repo.appts[appt.ID].Status = StatusCompleted
		env.repo.mu.Unlock()

		_, err = env.svc.Cancel(context.Background(), appt.ID, env.guest.ID, "")
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
	})

	t.Run("concurrent confirm does not block the cancel", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)

		// The host confirms between the cancel's status read and its
		// conditional update. The first update misses; the cancel must
		// re-read and land on the confirmed row instead of reporting
		// the appointment as already canceled.
		confirmed := false
		env.repo.afterDetail = func() {
			if confirmed {
				return
			}
			confirmed = true
			_, err := env.repo.ConfirmPending(context.Background(), appt.ID, env.host.ID)
			require.NoError(t, err)
		}

		updated, err := env.svc.Cancel(context.Background(), appt.ID, env.guest.ID, "can no longer make it")
		require.NoError(t, err)

		assert.Equal(t, StatusCanceled, updated.Status)
		assert.True(t, env.slots.get(sl.ID).IsAvailable)

		canceled := env.emitter.byType(EventAppointmentCanceled)
		require.Len(t, canceled, 1)
		assert.Equal(t, "guest", canceled[0].Payload.(CanceledEvent).CanceledBy)
	})

	t.Run("concurrent cancel wins the race", func(t *testing.T) {
		env := newTestEnv(t)
		sl := env.addSlot(testMonday.Add(9 * time.Hour))
		appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
		require.NoError(t, err)

		// The host cancels between the guest's status read and update;
		// the guest's retry observes the canceled row.
		done := false
		env.repo.afterDetail = func() {
			if done {
				return
			}
			done = true
			_, err := env.repo.UpdateStatus(context.Background(), appt.ID, StatusPending, StatusCanceled, "host gave the slot away")
			require.NoError(t, err)
		}

		_, err = env.svc.Cancel(context.Background(), appt.ID, env.guest.ID, "")
		assert.ErrorIs(t, err, ErrAlreadyCanceled)
	})
}

func TestReleaseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))

	_, err := env.slots.Claim(context.Background(), sl.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.slots.Release(context.Background(), sl.ID))
	}
	assert.True(t, env.slots.get(sl.ID).IsAvailable)
}

func TestMarkPaid(t *testing.T) {
	env := newTestEnv(t)
	sl := env.addSlot(testMonday.Add(9 * time.Hour))
	appt, err := env.svc.Book(context.Background(), env.bookReq(sl))
	require.NoError(t, err)

	t.Run("host cannot pay", func(t *testing.T) {
		_, err := env.svc.MarkPaid(context.Background(), appt.ID, env.host.ID, "CARD", 500)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("guest pays once", func(t *testing.T) {
		updated, err := env.svc.MarkPaid(context.Background(), appt.ID, env.guest.ID, "CARD", 500)
		require.NoError(t, err)
		assert.Equal(t, PaymentPaid, updated.PaymentStatus)
		require.NotNil(t, updated.PaymentAmount)
		assert.Equal(t, int64(500), *updated.PaymentAmount)
	})

	t.Run("second payment rejected", func(t *testing.T) {
		_, err := env.svc.MarkPaid(context.Background(), appt.ID, env.guest.ID, "CARD", 500)
		assert.ErrorIs(t, err, ErrAlreadyPaid)
	})
}

func TestGenerateSlots(t *testing.T) {
	env := newTestEnv(t)

	rule, err := env.rules.Create(context.Background(), availability.Rule{
		HostID:     env.host.ID,
		RuleType:   availability.RuleWeekly,
		DaysOfWeek: "MON,TUE,WED,THU,FRI",
		StartHour:  9,
		EndHour:    17,
		IsActive:   true,
	})
	require.NoError(t, err)

	t.Run("non-owner generates nothing", func(t *testing.T) {
		n, err := env.svc.GenerateSlots(context.Background(), uuid.New(), rule.ID, testMonday, testMonday, 60)
		assert.ErrorIs(t, err, ErrNotOwner)
		assert.Zero(t, n)

		slots, err := env.slots.List(context.Background(), env.host.ID, false, nil)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("owner generates a full day", func(t *testing.T) {
		n, err := env.svc.GenerateSlots(context.Background(), env.host.ID, rule.ID, testMonday, testMonday, 60)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
	})

	t.Run("regeneration inserts nothing new", func(t *testing.T) {
		n, err := env.svc.GenerateSlots(context.Background(), env.host.ID, rule.ID, testMonday, testMonday, 60)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("inactive rule refuses generation", func(t *testing.T) {
		require.NoError(t, env.rules.Deactivate(context.Background(), rule.ID, env.host.ID))
		_, err := env.svc.GenerateSlots(context.Background(), env.host.ID, rule.ID, testMonday, testMonday, 60)
		assert.ErrorIs(t, err, availability.ErrRuleInactive)
	})

	t.Run("unknown rule", func(t *testing.T) {
		_, err := env.svc.GenerateSlots(context.Background(), env.host.ID, uuid.New(), testMonday, testMonday, 60)
		assert.ErrorIs(t, err, availability.ErrRuleNotFound)
	})
}

func TestListAvailableSlots_FiltersPastByClock(t *testing.T) {
	env := newTestEnv(t)
	env.addSlot(testMonday.Add(9 * time.Hour))
	future := env.addSlot(testMonday.Add(15 * time.Hour))

	env.svc.now = func() time.Time { return testMonday.Add(12 * time.Hour) }

	slots, err := env.svc.ListAvailableSlots(context.Background(), env.host.ID, nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, future.ID, slots[0].ID)
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rule, err := env.rules.Create(ctx, availability.Rule{
		HostID:     env.host.ID,
		RuleType:   availability.RuleWeekly,
		DaysOfWeek: "MON,TUE,WED,THU,FRI",
		StartHour:  9,
		EndHour:    17,
		IsActive:   true,
	})
	require.NoError(t, err)

	n, err := env.svc.GenerateSlots(ctx, env.host.ID, rule.ID, testMonday, testMonday, 60)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	env.svc.now = func() time.Time { return testMonday }
	slots, err := env.svc.ListAvailableSlots(ctx, env.host.ID, nil)
	require.NoError(t, err)
	require.Len(t, slots, 8)
	first := slots[0]

	appt, err := env.svc.Book(ctx, BookRequest{
		GuestID: &env.guest.ID,
		HostID:  env.host.ID,
		SlotID:  first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)

	detail, err := env.svc.Confirm(ctx, appt.ID, env.host.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, detail.Status)

	updated, err := env.svc.Cancel(ctx, appt.ID, env.guest.ID, "conflict")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, updated.Status)
	assert.Equal(t, "conflict", updated.CancelReason)
	assert.True(t, env.slots.get(first.ID).IsAvailable)

	_, err = env.svc.Confirm(ctx, appt.ID, env.host.ID)
	assert.ErrorIs(t, err, ErrNotConfirmable)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusPending.CanTransitionTo(StatusCanceled))
	assert.True(t, StatusConfirmed.CanTransitionTo(StatusCanceled))
	assert.True(t, StatusConfirmed.CanTransitionTo(StatusCompleted))

	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCanceled.CanTransitionTo(StatusPending))
	assert.False(t, StatusCanceled.CanTransitionTo(StatusConfirmed))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusCanceled))

	assert.True(t, StatusCanceled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusPending.Terminal())
}
