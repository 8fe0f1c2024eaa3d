package services

import "fintrack/internal/store"

// RecomputeBalance derives an account's current balance from its stored
// initial balance and the full set of its settled transactions. Income adds,
// expense subtracts. The function is pure and exact: amounts are int64 minor
// units, so summation order cannot change the result and no float drift is
// possible. An empty list yields the initial balance unchanged.
func RecomputeBalance(initialMinor int64, settled []store.SettledAmount) int64 {
	current := initialMinor
	for _, item := range settled {
		if item.Kind == store.KindIncome {
			current += item.AmountMinor
		} else {
			current -= item.AmountMinor
		}
	}
	return current
}
