package payment

import (
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/domain"
)

// ValidatePayer checks payer details locally before any order is created.
// Card fields are format-checked only and never forwarded.
func ValidatePayer(customer domain.Customer, method domain.PaymentMethod, card *domain.CardDetails, now time.Time) error {
	if err := domain.Validate(customer); err != nil {
		return err
	}
	if method != domain.PaymentGatewayCard || card == nil {
		return nil
	}
	if err := domain.Validate(*card); err != nil {
		return err
	}
	return checkExpiry(card.Expiry, now)
}

// checkExpiry accepts MM/YY and rejects months already over.
func checkExpiry(expiry string, now time.Time) error {
	parts := strings.Split(expiry, "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return domain.NewValidationError("expiry", "must be in MM/YY format")
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return domain.NewValidationError("expiry", "month must be between 01 and 12")
	}
	yy, err := strconv.Atoi(parts[1])
	if err != nil {
		return domain.NewValidationError("expiry", "year must be numeric")
	}
	year := 2000 + yy
	// valid through the last day of the expiry month
	lastValid := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.UTC().Before(lastValid) {
		return domain.NewValidationError("expiry", "card has expired")
	}
	return nil
}
