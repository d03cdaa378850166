package entities

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// WalletBalance is a user's internal balance of one asset, kept in minor units.
// Rows are created on first credit and never deleted.
type WalletBalance struct {
	UserID         uuid.UUID `json:"user_id"`
	Asset          Asset     `json:"asset"`
	Balance        *big.Int  `json:"-"`
	TotalDeposited *big.Int  `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ZeroBalance is the balance reported for a user/asset pair with no ledger row.
func ZeroBalance(userID uuid.UUID, asset Asset) *WalletBalance {
	return &WalletBalance{
		UserID:         userID,
		Asset:          asset,
		Balance:        new(big.Int),
		TotalDeposited: new(big.Int),
	}
}

func (w *WalletBalance) Clone() *WalletBalance {
	if w == nil {
		return nil
	}
	c := *w
	c.Balance = cloneInt(w.Balance)
	c.TotalDeposited = cloneInt(w.TotalDeposited)
	return &c
}
