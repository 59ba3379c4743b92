package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrOrderNotFound = errors.New("order not found")

// LineShortfall names one cart line that could not be fulfilled, with
// the stock that was actually lockable at reservation time.
type LineShortfall struct {
	VariantID uuid.UUID `json:"variant_id"`
	ColorID   uuid.UUID `json:"color_id"`
	StoreID   uuid.UUID `json:"store_id"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

// CapacityError aborts a whole reservation: no partial hold is ever
// left behind. It carries every failing line so the caller can show a
// precise per-line message. It is retryable by re-verifying the cart.
type CapacityError struct {
	Lines []LineShortfall
}

func (e *CapacityError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("variant %s: requested %d, available %d", l.VariantID, l.Requested, l.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}
