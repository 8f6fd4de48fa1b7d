package domain

import (
	"time"

	"github.com/google/uuid"
)

// RealPhone is the user's actual, verified phone number. Verification itself
// happens outside this service; the relay engine only reads the verified row.
type RealPhone struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Number      string    `json:"number"`
	Verified    bool      `json:"verified"`
	CountryCode string    `json:"country_code"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile carries the per-user settings the relay engine consults. A user who
// disables the caller/text log cannot block contacts or reply, since nothing
// is recorded to block or reply to.
type Profile struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	StorePhoneLog bool      `json:"store_phone_log"`
}
