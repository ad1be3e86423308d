package service

import (
	"errors"
	"fmt"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/Eursukkul/studio-booking/internal/ledger"
	"github.com/Eursukkul/studio-booking/internal/lifecycle"
	"gorm.io/gorm"
)

var (
	ErrBookingNotFound           = errors.New("booking not found")
	ErrTrainerNotFound           = errors.New("trainer not found")
	ErrStudioNotFound            = errors.New("studio not found")
	ErrServiceNotFound           = errors.New("service not found")
	ErrServiceInactive           = errors.New("service is not bookable")
	ErrRuleNotFound              = errors.New("availability rule not found")
	ErrSlotConflict              = errors.New("slot overlaps an existing booking")
	ErrOutsideOperatingHours     = errors.New("requested time is outside the trainer's open windows")
	ErrOutsideCancellationWindow = errors.New("booking can no longer be cancelled")
	ErrNotBookingParty           = errors.New("actor is not the booking's client or trainer")

	ErrInvalidTransition  = lifecycle.ErrInvalidTransition
	ErrAlreadyTerminal    = fmt.Errorf("%w: booking is already finished", lifecycle.ErrInvalidTransition)
	ErrMissingDeclaration = lifecycle.ErrMissingDeclaration

	ErrInsufficientCredits = ledger.ErrInsufficientCredits
	ErrPackageNotFound     = ledger.ErrPackageNotFound
	ErrInvalidAmount       = ledger.ErrInvalidAmount

	ErrInvalidRule  = availability.ErrInvalidRule
	ErrInvalidRange = availability.ErrInvalidRange
)

// notFound maps gorm.ErrRecordNotFound to target and passes anything else through.
func notFound(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
