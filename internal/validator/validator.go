package validator

import (
	"errors"
	"regexp"

	"fintrack/internal/store"
)

var (
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidAccountKind = errors.New("invalid account kind")
	ErrInvalidKind        = errors.New("invalid transaction kind")
	ErrInvalidStatus      = errors.New("invalid transaction status")
	ErrInvalidFrequency   = errors.New("invalid recurrence frequency")
	ErrInvalidColor       = errors.New("invalid color")
)

var colorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func ValidateName(name string) error {
	if name == "" || len(name) > 120 {
		return ErrInvalidName
	}
	return nil
}

func ValidateAccountKind(kind string) error {
	switch kind {
	case store.AccountKindWallet, store.AccountKindChecking, store.AccountKindSavings, store.AccountKindInvestment:
		return nil
	}
	return ErrInvalidAccountKind
}

func ValidateTransactionKind(kind string) error {
	switch kind {
	case store.KindIncome, store.KindExpense:
		return nil
	}
	return ErrInvalidKind
}

func ValidateTransactionStatus(status string) error {
	switch status {
	case store.StatusPending, store.StatusSettled, store.StatusCancelled:
		return nil
	}
	return ErrInvalidStatus
}

func ValidateFrequency(frequency string) error {
	switch frequency {
	case store.FrequencyDaily, store.FrequencyWeekly, store.FrequencyMonthly, store.FrequencyYearly:
		return nil
	}
	return ErrInvalidFrequency
}

func ValidateColor(color string) error {
	if !colorRegex.MatchString(color) {
		return ErrInvalidColor
	}
	return nil
}
