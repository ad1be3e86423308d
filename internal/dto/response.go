package dto

import (
	"encoding/json"
	"time"

	"github.com/Eursukkul/studio-booking/internal/availability"
	"github.com/Eursukkul/studio-booking/internal/ledger"
	"github.com/Eursukkul/studio-booking/internal/models"
)

type BookingResponse struct {
	ID            string              `json:"booking_id"`
	TrainerID     string              `json:"trainer_id"`
	ClientID      string              `json:"client_id"`
	ServiceID     string              `json:"service_id"`
	State         models.BookingState `json:"state"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
	CreditCost    int                 `json:"credit_cost"`
	HoldExpiresAt *time.Time          `json:"hold_expires_at,omitempty"`
	Completion    json.RawMessage     `json:"completion,omitempty"`
	ConfirmedAt   *time.Time          `json:"confirmed_at,omitempty"`
	CheckedInAt   *time.Time          `json:"checked_in_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CancelledAt   *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy   *string             `json:"cancelled_by,omitempty"`
	ExpiredAt     *time.Time          `json:"expired_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

type PackageResponse struct {
	ID              string               `json:"package_id"`
	TotalCredits    int                  `json:"total_credits"`
	ConsumedCredits int                  `json:"consumed_credits"`
	Remaining       int                  `json:"remaining"`
	Status          models.PackageStatus `json:"status"`
	ExpiresAt       *time.Time           `json:"expires_at"`
	SourceRef       *string              `json:"source_ref,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

type CreditSummaryResponse struct {
	ClientID       string            `json:"client_id"`
	TotalRemaining int               `json:"total_remaining"`
	NearestExpiry  *time.Time        `json:"nearest_expiry"`
	Packages       []PackageResponse `json:"packages"`
}

type WindowResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AvailabilityResponse struct {
	TrainerID       string           `json:"trainer_id"`
	ServiceID       string           `json:"service_id"`
	DurationMinutes int              `json:"duration_minutes"`
	Windows         []WindowResponse `json:"windows"`
	SlotStarts      []time.Time      `json:"slot_starts"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ToBookingResponse(b *models.Booking) BookingResponse {
	resp := BookingResponse{
		ID:            b.ID,
		TrainerID:     b.TrainerID,
		ClientID:      b.ClientID,
		ServiceID:     b.ServiceID,
		State:         b.State,
		StartTime:     b.StartsAt,
		EndTime:       b.EndsAt,
		CreditCost:    b.CreditCost,
		HoldExpiresAt: b.HoldExpiresAt,
		ConfirmedAt:   b.ConfirmedAt,
		CheckedInAt:   b.CheckedInAt,
		CompletedAt:   b.CompletedAt,
		CancelledAt:   b.CancelledAt,
		CancelledBy:   b.CancelledBy,
		ExpiredAt:     b.ExpiredAt,
		CreatedAt:     b.CreatedAt,
	}
	if len(b.Completion) > 0 {
		resp.Completion = json.RawMessage(b.Completion)
	}
	return resp
}

func ToBookingResponses(bs []models.Booking) []BookingResponse {
	resp := make([]BookingResponse, len(bs))
	for i := range bs {
		resp[i] = ToBookingResponse(&bs[i])
	}
	return resp
}

func ToPackageResponse(p *models.CreditPackage, status models.PackageStatus) PackageResponse {
	return PackageResponse{
		ID:              p.ID,
		TotalCredits:    p.TotalCredits,
		ConsumedCredits: p.ConsumedCredits,
		Remaining:       p.Remaining(),
		Status:          status,
		ExpiresAt:       p.ExpiresAt,
		SourceRef:       p.SourceRef,
		CreatedAt:       p.CreatedAt,
	}
}

func ToCreditSummaryResponse(s *ledger.Summary) CreditSummaryResponse {
	resp := CreditSummaryResponse{
		ClientID:       s.ClientID,
		TotalRemaining: s.TotalRemaining,
		NearestExpiry:  s.NearestExpiry,
		Packages:       make([]PackageResponse, len(s.Packages)),
	}
	for i := range s.Packages {
		resp.Packages[i] = ToPackageResponse(&s.Packages[i].Package, s.Packages[i].Status)
	}
	return resp
}

func ToWindowResponses(ws []availability.Window) []WindowResponse {
	resp := make([]WindowResponse, len(ws))
	for i, w := range ws {
		resp[i] = WindowResponse{Start: w.Start, End: w.End}
	}
	return resp
}
