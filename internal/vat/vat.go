// Package vat holds the domain model of monitored VAT registrations.
package vat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MinNumberLength is the shortest accepted raw VAT string: a 2-letter country code and one digit.
const MinNumberLength = 3

var (
	// ErrMissingOwner is returned when a request carries no owner (chat) id.
	ErrMissingOwner = errors.New("vat: missing owner id")
	// ErrMissingNumber is returned when no VAT string was supplied.
	ErrMissingNumber = errors.New("vat: missing vat number")
	// ErrNumberTooShort is returned when the VAT string is shorter than MinNumberLength.
	ErrNumberTooShort = errors.New("vat: vat number too short")
)

// Identity is the compound key of one monitored registration.
type Identity struct {
	OwnerID     int64  `db:"owner_id" json:"ownerId"`
	CountryCode string `db:"country_code" json:"countryCode"`
	VatNumber   string `db:"vat_number" json:"vatNumber"`
}

// String renders the number the way users type it, e.g. PL1234567890.
func (i Identity) String() string {
	return i.CountryCode + i.VatNumber
}

// WithNumber returns a copy of the identity with new country code and number.
func (i Identity) WithNumber(countryCode, vatNumber string) Identity {
	return Identity{OwnerID: i.OwnerID, CountryCode: countryCode, VatNumber: vatNumber}
}

// PendingRequest is an identity under active periodic monitoring.
type PendingRequest struct {
	Identity
	ExpirationDate time.Time `db:"expiration_date" json:"expirationDate"`
}

// Expired reports whether monitoring should be abandoned at now.
func (p PendingRequest) Expired(now time.Time) bool {
	return now.After(p.ExpirationDate)
}

// ErroredRequest records one failed monitoring attempt.
type ErroredRequest struct {
	ID string `db:"id" json:"id"`
	Identity
	ExpirationDate time.Time `db:"expiration_date" json:"expirationDate"`
	ErrorText      string    `db:"error_text" json:"error"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Pending returns the pending request the error was produced from.
func (e ErroredRequest) Pending() PendingRequest {
	return PendingRequest{Identity: e.Identity, ExpirationDate: e.ExpirationDate}
}

// SplitNumber splits a raw VAT string into an upper-cased country code and the remainder.
// The caller is expected to have checked the length.
func SplitNumber(raw string) (countryCode, vatNumber string) {
	r := []rune(raw)
	if len(r) < 2 {
		return strings.ToUpper(raw), ""
	}
	return strings.ToUpper(string(r[:2])), string(r[2:])
}

// ParseNumber validates a raw VAT string and splits it.
// No format validation is done past the minimal length.
func ParseNumber(raw string) (countryCode, vatNumber string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrMissingNumber
	}
	if utf8.RuneCountInString(raw) < MinNumberLength {
		return "", "", ErrNumberTooShort
	}
	countryCode, vatNumber = SplitNumber(raw)
	return countryCode, vatNumber, nil
}

// NewIdentity validates admission input and builds the identity.
func NewIdentity(ownerID int64, raw string) (Identity, error) {
	if ownerID == 0 {
		return Identity{}, ErrMissingOwner
	}
	cc, num, err := ParseNumber(raw)
	if err != nil {
		return Identity{}, err
	}
	return Identity{OwnerID: ownerID, CountryCode: cc, VatNumber: num}, nil
}

// IsValidationError reports whether err is one of the admission validation errors.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingOwner) ||
		errors.Is(err, ErrMissingNumber) ||
		errors.Is(err, ErrNumberTooShort)
}
