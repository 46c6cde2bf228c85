package enums

import "fmt"

type DonationStatus string

const (
	DonationStatusPending DonationStatus = "pending"
	DonationStatusPaid    DonationStatus = "paid"
	DonationStatusFailed  DonationStatus = "failed"
)

func (s DonationStatus) IsValid() bool {
	switch s {
	case DonationStatusPending, DonationStatusPaid, DonationStatusFailed:
		return true
	}
	return false
}

func ParseDonationStatus(value string) (DonationStatus, error) {
	s := DonationStatus(value)
	if !s.IsValid() {
		return "", fmt.Errorf("invalid donation status %q", value)
	}
	return s, nil
}
