/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

ENVELOPE:
  Every response is wrapped in {success, message, data}. Clients branch on
  success and read the human-readable message on failure; data carries the
  payload on success.

MONEY:
  Balances and amounts travel as JSON numbers (decimal internally,
  float64 at the boundary). The service currency uses whole units, so the
  float conversion is lossless for realistic magnitudes.

VALIDATION:
  Validation is done in the domain services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: uses these types
  - hierarchy/types.go: the domain model these mirror
*/
package api

import (
	"time"

	"github.com/skycast/reseller-engine/catalog"
	"github.com/skycast/reseller-engine/hierarchy"
)

// =============================================================================
// RESPONSE ENVELOPE
// =============================================================================

// Envelope wraps every API response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents a hierarchy account in API responses.
type AccountDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Tier          string  `json:"tier"`
	Balance       float64 `json:"balance"`
	Status        string  `json:"status"`
	ValidUntil    *string `json:"valid_until,omitempty"`
	ParentID      string  `json:"parent_id,omitempty"`
	SubscriberCap *int    `json:"subscriber_cap,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create a distributor or reseller.
type CreateAccountRequest struct {
	Name          string  `json:"name"`
	Tier          string  `json:"tier"`
	ParentID      string  `json:"parent_id,omitempty"`
	ValidUntil    *string `json:"valid_until,omitempty"`
	SubscriberCap *int    `json:"subscriber_cap,omitempty"`
}

// UpdateAccountRequest is the admin edit request. Omitted fields are left
// untouched; clear_valid_until removes the expiry.
type UpdateAccountRequest struct {
	Name            *string `json:"name,omitempty"`
	ValidUntil      *string `json:"valid_until,omitempty"`
	ClearValidUntil bool    `json:"clear_valid_until,omitempty"`
	SubscriberCap   *int    `json:"subscriber_cap,omitempty"`
	ParentID        *string `json:"parent_id,omitempty"`
}

// ReactivateRequest optionally sets a new validity window.
type ReactivateRequest struct {
	ValidUntil *string `json:"valid_until,omitempty"`
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionDTO represents a ledger entry in API responses.
type TransactionDTO struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`

	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	TargetName string `json:"target_name,omitempty"`

	SenderBalanceAfter float64  `json:"sender_balance_after"`
	TargetBalanceAfter *float64 `json:"target_balance_after,omitempty"`

	CreatedAt string `json:"created_at"`
}

// CreateTransactionRequest is the request to execute a transfer.
type CreateTransactionRequest struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	SenderID string  `json:"sender_id"`
	TargetID string  `json:"target_id,omitempty"`
}

// =============================================================================
// CAPPING TYPES
// =============================================================================

// CappingDTO represents the current floor configuration.
type CappingDTO struct {
	DistributorFloor float64 `json:"distributor_floor"`
	ResellerFloor    float64 `json:"reseller_floor"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
}

// UpdateCappingRequest replaces the floors.
type UpdateCappingRequest struct {
	DistributorFloor float64 `json:"distributor_floor"`
	ResellerFloor    float64 `json:"reseller_floor"`
}

// =============================================================================
// SUBSCRIBER TYPES
// =============================================================================

// SubscriberDTO represents a leaf subscriber record.
type SubscriberDTO struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	ResellerID       string   `json:"reseller_id,omitempty"`
	Status           string   `json:"status"`
	ExpiryDate       *string  `json:"expiry_date,omitempty"`
	PackageIDs       []string `json:"package_ids,omitempty"`
	PrimaryPackageID string   `json:"primary_package_id,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
}

// CreateSubscriberRequest is the request to create a Fresh subscriber.
type CreateSubscriberRequest struct {
	Name       string `json:"name"`
	ResellerID string `json:"reseller_id,omitempty"`
}

// ActivateSubscriberRequest names the package to activate or renew with.
type ActivateSubscriberRequest struct {
	PackageID string `json:"package_id"`
}

// =============================================================================
// CATALOG TYPES
// =============================================================================

// PackageDTO represents a catalog package.
type PackageDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Cost         float64 `json:"cost"`
	DurationDays int     `json:"duration_days"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest names the scenario to seed.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(a *hierarchy.Account) AccountDTO {
	dto := AccountDTO{
		ID:            a.ID,
		Name:          a.Name,
		Tier:          string(a.Tier),
		Balance:       a.Balance.InexactFloat64(),
		Status:        string(a.Status),
		ParentID:      a.ParentID,
		SubscriberCap: a.SubscriberCap,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
	if a.ValidUntil != nil {
		v := a.ValidUntil.Format(time.RFC3339)
		dto.ValidUntil = &v
	}
	return dto
}

func toTransactionDTO(e *hierarchy.LedgerEntry, names map[string]string) TransactionDTO {
	dto := TransactionDTO{
		ID:                 e.ID,
		Type:               string(e.Type),
		Amount:             e.Amount.InexactFloat64(),
		SenderID:           e.SenderID,
		SenderName:         names[e.SenderID],
		SenderBalanceAfter: e.SenderBalanceAfter.InexactFloat64(),
		CreatedAt:          e.CreatedAt.Format(time.RFC3339),
	}
	if e.HasTarget() {
		dto.TargetID = e.TargetID
		dto.TargetName = names[e.TargetID]
		after := e.TargetBalanceAfter.InexactFloat64()
		dto.TargetBalanceAfter = &after
	}
	return dto
}

func toSubscriberDTO(s *hierarchy.Subscriber) SubscriberDTO {
	dto := SubscriberDTO{
		ID:               s.ID,
		Name:             s.Name,
		ResellerID:       s.ResellerID,
		Status:           string(s.Status),
		PackageIDs:       s.PackageIDs,
		PrimaryPackageID: s.PrimaryPackageID,
		CreatedAt:        s.CreatedAt.Format(time.RFC3339),
	}
	if s.ExpiryDate != nil {
		v := s.ExpiryDate.Format(time.RFC3339)
		dto.ExpiryDate = &v
	}
	return dto
}

func toPackageDTO(p catalog.Package) PackageDTO {
	return PackageDTO{
		ID:           p.ID,
		Name:         p.Name,
		Cost:         p.Cost.InexactFloat64(),
		DurationDays: p.DurationDays,
	}
}
