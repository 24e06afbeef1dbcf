/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupled from the domain model.
  Persisted field names (code, sponsorCode, balancePending,
  balanceAvailable, totalEarnings, directReferralCount, downlineCount;
  orderId, beneficiaryCode, level, amount, status, createdAt) are stable
  for compatibility - do not rename.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

Monetary values travel as decimal strings ("12.40"), never floats.
*/
package api

import (
	"time"

	"github.com/netweave/affiliate-engine/commission"
	"github.com/netweave/affiliate-engine/downline"
)

// =============================================================================
// AFFILIATES
// =============================================================================

type RegisterAffiliateRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Code        string `json:"code,omitempty"`        // generated when absent
	SponsorCode string `json:"sponsorCode,omitempty"` // immutable afterwards
}

type AffiliateDTO struct {
	ID                  string    `json:"id"`
	Code                string    `json:"code"`
	SponsorCode         string    `json:"sponsorCode,omitempty"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	BalancePending      string    `json:"balancePending"`
	BalanceAvailable    string    `json:"balanceAvailable"`
	TotalEarnings       string    `json:"totalEarnings"`
	DirectReferralCount int       `json:"directReferralCount"`
	DownlineCount       int       `json:"downlineCount"`
	Active              bool      `json:"active"`
	JoinedAt            time.Time `json:"joinedAt"`
}

// =============================================================================
// PRODUCTS
// =============================================================================

type LevelRateDTO struct {
	Level int    `json:"level"`
	Rate  string `json:"rate"`
}

type CreateProductRequest struct {
	Name             string         `json:"name"`
	Price            string         `json:"price"`
	LevelCommissions []LevelRateDTO `json:"levelCommissions"`
}

type ProductDTO struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Price            string         `json:"price"`
	Active           bool           `json:"active"`
	LevelCommissions []LevelRateDTO `json:"levelCommissions"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// =============================================================================
// ORDERS & COMMISSIONS
// =============================================================================

type OrderCompletedRequest struct {
	OrderID     string `json:"orderId"`
	BuyerCode   string `json:"buyerCode"`
	ProductID   string `json:"productId"`
	TotalAmount string `json:"totalAmount"`
}

type CommissionDTO struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"orderId"`
	BeneficiaryCode string    `json:"beneficiaryCode"`
	Level           int       `json:"level"`
	Amount          string    `json:"amount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// OrderCompletedResponse carries the entries written for this event. It
// is a denormalized summary for the order service to cache; the ledger
// remains the single source of truth.
type OrderCompletedResponse struct {
	OrderID     string          `json:"orderId"`
	Commissions []CommissionDTO `json:"commissions"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type PayoutRequest struct {
	CommissionID string `json:"commissionId"`
	// Action is "confirm" (pending -> paid, balance released to
	// available) or "cancel" (pending -> cancelled, pending debited).
	Action string `json:"action"`
}

// =============================================================================
// DOWNLINE
// =============================================================================

type DownlineResponse struct {
	Root      *downline.Node `json:"root"`
	Truncated bool           `json:"truncated"`
	Visited   int            `json:"visited"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func commissionDTO(c commission.Commission) CommissionDTO {
	return CommissionDTO{
		ID:              c.ID,
		OrderID:         c.OrderID,
		BeneficiaryCode: string(c.BeneficiaryCode),
		Level:           c.Level,
		Amount:          c.Amount.String(),
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt,
	}
}

func productDTO(p *commission.Product) ProductDTO {
	levels := make([]LevelRateDTO, 0)
	for _, lr := range p.Levels.Levels() {
		levels = append(levels, LevelRateDTO{Level: lr.Level, Rate: lr.Rate.String()})
	}
	return ProductDTO{
		ID:               p.ID,
		Name:             p.Name,
		Price:            p.Price.String(),
		Active:           p.Active,
		LevelCommissions: levels,
		CreatedAt:        p.CreatedAt,
	}
}
