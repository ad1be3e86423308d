package lifecycle

import (
	"testing"
	"time"

	"github.com/Eursukkul/studio-booking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var now = time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApply_LegalTransitions(t *testing.T) {
	cases := []struct {
		from models.BookingState
		ev   Event
		to   models.BookingState
	}{
		{models.StateHold, EventConfirm, models.StateConfirmed},
		{models.StateHold, EventExpire, models.StateExpired},
		{models.StateConfirmed, EventCheckIn, models.StateCheckedIn},
		{models.StateConfirmed, EventCancel, models.StateCancelled},
		{models.StateCheckedIn, EventCancel, models.StateCancelled},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_"+string(tc.ev), func(t *testing.T) {
			b := &models.Booking{State: tc.from}
			require.NoError(t, Apply(b, tc.ev, now))
			assert.Equal(t, tc.to, b.State)
		})
	}
}

func TestApply_IllegalTransitionsHaveNoSideEffects(t *testing.T) {
	cases := []struct {
		from models.BookingState
		ev   Event
	}{
		{models.StateHold, EventCheckIn},
		{models.StateHold, EventCancel},
		{models.StateHold, EventComplete},
		{models.StateConfirmed, EventConfirm},
		{models.StateConfirmed, EventExpire},
		{models.StateCheckedIn, EventCheckIn},
		{models.StateCompleted, EventCancel},
		{models.StateCancelled, EventCancel},
		{models.StateExpired, EventConfirm},
		{models.StateExpired, EventExpire},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"_"+string(tc.ev), func(t *testing.T) {
			b := &models.Booking{State: tc.from}
			err := Apply(b, tc.ev, now)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.from, b.State)
			assert.Nil(t, b.CancelledAt)
			assert.Nil(t, b.ConfirmedAt)
			assert.Nil(t, b.ExpiredAt)
		})
	}
}

func TestApply_ConfirmClearsHoldExpiry(t *testing.T) {
	exp := now.Add(10 * time.Minute)
	b := &models.Booking{State: models.StateHold, HoldExpiresAt: &exp}

	require.NoError(t, Apply(b, EventConfirm, now))

	assert.Nil(t, b.HoldExpiresAt)
	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, now, *b.ConfirmedAt)
}

func TestComplete_RequiresDeclaration(t *testing.T) {
	b := &models.Booking{State: models.StateCheckedIn}

	for _, empty := range []string{"", "null", "{}", "[]", `""`, "  "} {
		err := Complete(b, datatypes.JSON(empty), now)
		assert.ErrorIs(t, err, ErrMissingDeclaration, "declaration %q", empty)
		assert.Equal(t, models.StateCheckedIn, b.State)
	}

	err := Apply(b, EventComplete, now)
	assert.ErrorIs(t, err, ErrMissingDeclaration)

	require.NoError(t, Complete(b, datatypes.JSON(`{"notes":"leg day"}`), now))
	assert.Equal(t, models.StateCompleted, b.State)
	assert.JSONEq(t, `{"notes":"leg day"}`, string(b.Completion))
	assert.NotNil(t, b.CompletedAt)
}

func TestComplete_WrongStateKeepsPreviousDeclaration(t *testing.T) {
	b := &models.Booking{State: models.StateConfirmed}

	err := Complete(b, datatypes.JSON(`{"notes":"x"}`), now)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, b.Completion)
}

func TestHoldLapsed(t *testing.T) {
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	assert.True(t, HoldLapsed(&models.Booking{State: models.StateHold, HoldExpiresAt: &past}, now))
	assert.False(t, HoldLapsed(&models.Booking{State: models.StateHold, HoldExpiresAt: &future}, now))
	assert.False(t, HoldLapsed(&models.Booking{State: models.StateHold, HoldExpiresAt: &now}, now))
	assert.False(t, HoldLapsed(&models.Booking{State: models.StateConfirmed, HoldExpiresAt: &past}, now))
	assert.False(t, HoldLapsed(&models.Booking{State: models.StateHold}, now))
}

func TestStateClassification(t *testing.T) {
	assert.True(t, IsActive(models.StateHold))
	assert.True(t, IsActive(models.StateConfirmed))
	assert.True(t, IsActive(models.StateCheckedIn))
	assert.False(t, IsActive(models.StateCancelled))
	assert.False(t, IsActive(models.StateExpired))

	assert.True(t, IsTerminal(models.StateCompleted))
	assert.True(t, IsTerminal(models.StateCancelled))
	assert.True(t, IsTerminal(models.StateExpired))
	assert.False(t, IsTerminal(models.StateHold))
	assert.True(t, IsTerminal("unknown"))

	assert.Equal(t, models.StateHold, InitialState(true))
	assert.Equal(t, models.StateConfirmed, InitialState(false))
}
