/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and in the domain engine, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types these map from
*/
package api

import (
	"time"

	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/ledger"
	"github.com/rofiuddin15/smartbin-api/payout"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateUserRequest is the request to register a user.
type CreateUserRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DepositRequest is the request a smart bin sends after counting bottles.
type DepositRequest struct {
	UserID          string `json:"user_id"`
	BinID           string `json:"smart_bin_id"`
	BottlesCount    int    `json:"bottles_count"`
	PointsPerBottle int    `json:"points_per_bottle,omitempty"`
}

// RedeemRequest is the request to convert points into an e-wallet payout.
type RedeemRequest struct {
	UserID        string `json:"user_id"`
	Points        int64  `json:"points"`
	WalletType    string `json:"wallet_type"`
	WalletAccount string `json:"wallet_account"`
}

// CalculateRequest asks for the cash value of a point amount.
type CalculateRequest struct {
	Points int64 `json:"points"`
}

// CreateBinRequest registers a smart bin.
type CreateBinRequest struct {
	ID       string `json:"id"`
	Code     string `json:"bin_code"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// BinStatusRequest is the device status report.
type BinStatusRequest struct {
	Status             string `json:"status"`
	CapacityPercentage *int   `json:"capacity_percentage,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// UserDTO represents a user in API responses.
type UserDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TotalPoints int64  `json:"total_points"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// BalanceDTO is the balance summary for a user.
type BalanceDTO struct {
	UserID      string `json:"user_id"`
	TotalPoints int64  `json:"total_points"`
	CashValue   string `json:"cash_value"`
	Currency    string `json:"currency"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	BinID        *string    `json:"smart_bin_id,omitempty"`
	Kind         string     `json:"transaction_type"`
	PointsDelta  int64      `json:"points"`
	BottlesCount *int       `json:"bottles_count,omitempty"`
	Payout       *PayoutDTO `json:"payout,omitempty"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    string     `json:"created_at"`
}

// PayoutDTO describes the e-wallet leg of a redemption.
type PayoutDTO struct {
	WalletType    string `json:"wallet_type"`
	WalletAccount string `json:"wallet_account"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// AuditDTO is one row of the points audit chain.
type AuditDTO struct {
	ID           string `json:"id"`
	EntryID      string `json:"transaction_id"`
	PointsBefore int64  `json:"points_before"`
	PointsChange int64  `json:"points_change"`
	PointsAfter  int64  `json:"points_after"`
	Description  string `json:"description"`
	CreatedAt    string `json:"created_at"`
}

// CalculateDTO is the cash quote for a point amount.
type CalculateDTO struct {
	Points        int64  `json:"points"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	MinimumPoints int64  `json:"minimum_points"`
	Redeemable    bool   `json:"redeemable"`
}

// BinDTO represents a smart bin in API responses.
type BinDTO struct {
	ID                    string `json:"id"`
	Code                  string `json:"bin_code"`
	Name                  string `json:"name"`
	Location              string `json:"location"`
	Status                string `json:"status"`
	CapacityPercentage    int    `json:"capacity_percentage"`
	TotalBottlesCollected int64  `json:"total_bottles_collected"`
	LastSeenAt            string `json:"last_online_at,omitempty"`
	CreatedAt             string `json:"created_at,omitempty"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

// WalletOptionDTO is one selectable e-wallet provider.
type WalletOptionDTO struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// PackageDTO is one predefined redemption amount.
type PackageDTO struct {
	ID     int    `json:"id"`
	Points int64  `json:"points"`
	Amount string `json:"amount"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:          string(u.ID),
		Name:        u.Name,
		TotalPoints: int64(u.TotalPoints),
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e ledger.LedgerEntry) EntryDTO {
	dto := EntryDTO{
		ID:           string(e.ID),
		UserID:       string(e.UserID),
		Kind:         string(e.Kind),
		PointsDelta:  int64(e.PointsDelta),
		BottlesCount: e.BottlesCount,
		Status:       string(e.Status),
		Notes:        e.Notes,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
	if e.BinID != nil {
		id := string(*e.BinID)
		dto.BinID = &id
	}
	if e.Payout != nil {
		dto.Payout = &PayoutDTO{
			WalletType:    string(e.Payout.Method),
			WalletAccount: e.Payout.Account,
			Amount:        e.Payout.Amount.StringFixed(2),
			Currency:      "IDR",
		}
	}
	return dto
}

func toAuditDTO(a ledger.PointsAudit) AuditDTO {
	return AuditDTO{
		ID:           a.ID,
		EntryID:      string(a.EntryID),
		PointsBefore: int64(a.PointsBefore),
		PointsChange: int64(a.PointsChange),
		PointsAfter:  int64(a.PointsAfter),
		Description:  a.Description,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
}

func toBinDTO(b bin.SmartBin) BinDTO {
	dto := BinDTO{
		ID:                    string(b.ID),
		Code:                  b.Code,
		Name:                  b.Name,
		Location:              b.Location,
		Status:                string(b.Status),
		CapacityPercentage:    b.CapacityPercentage,
		TotalBottlesCollected: b.TotalBottlesCollected,
		CreatedAt:             b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             b.UpdatedAt.Format(time.RFC3339),
	}
	if !b.LastSeenAt.IsZero() {
		dto.LastSeenAt = b.LastSeenAt.Format(time.RFC3339)
	}
	return dto
}

func toWalletOptionDTO(o payout.Option) WalletOptionDTO {
	return WalletOptionDTO{Type: string(o.Type), Name: o.Name, Icon: o.Icon}
}
