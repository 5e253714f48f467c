package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// Delta is the change a ledger operation applies to an enrollment's counters.
type Delta struct {
	Paid            decimal.Decimal `json:"paid"`
	Unpaid          decimal.Decimal `json:"unpaid"`
	AttendedNonPaid int             `json:"attended_non_paid_classes"`
}

// IsZero reports whether the delta moves nothing.
func (d Delta) IsZero() bool {
	return d.Paid.IsZero() && d.Unpaid.IsZero() && d.AttendedNonPaid == 0
}

// Balance holds the counters cached on an enrollment.
type Balance struct {
	Paid            decimal.Decimal `json:"paid_amount"`
	Unpaid          decimal.Decimal `json:"unpaid_amount"`
	AttendedNonPaid int             `json:"attended_non_paid_classes"`
}

// BalanceOf reads the cached counters of an enrollment.
func BalanceOf(e models.Enrollment) Balance {
	return Balance{Paid: e.PaidAmount, Unpaid: e.UnpaidAmount, AttendedNonPaid: e.AttendedNonPaidClasses}
}

// Apply adds d to the balance. Counters never go negative: a counter that would
// is clamped to zero and its name is returned in clamped.
func (b Balance) Apply(d Delta) (next Balance, clamped []string) {
	next.Paid = b.Paid.Add(d.Paid)
	if next.Paid.IsNegative() {
		next.Paid = decimal.Zero
		clamped = append(clamped, "paid_amount")
	}
	next.Unpaid = b.Unpaid.Add(d.Unpaid)
	if next.Unpaid.IsNegative() {
		next.Unpaid = decimal.Zero
		clamped = append(clamped, "unpaid_amount")
	}
	next.AttendedNonPaid = b.AttendedNonPaid + d.AttendedNonPaid
	if next.AttendedNonPaid < 0 {
		next.AttendedNonPaid = 0
		clamped = append(clamped, "attended_non_paid_classes")
	}
	return next, clamped
}

// Equal compares balances by value.
func (b Balance) Equal(o Balance) bool {
	return b.Paid.Equal(o.Paid) && b.Unpaid.Equal(o.Unpaid) && b.AttendedNonPaid == o.AttendedNonPaid
}

// Summarize derives the balance an enrollment must hold for its sessions at price.
func Summarize(price decimal.Decimal, sessions []models.Session) Balance {
	var paid, due, notDue int64
	for _, s := range sessions {
		switch s.Status {
		case models.SessionAttendedPaid:
			paid++
		case models.SessionAttendedDue:
			due++
		case models.SessionAttendedNotDue:
			notDue++
		}
	}
	return Balance{
		Paid:            price.Mul(decimal.NewFromInt(paid)),
		Unpaid:          price.Mul(decimal.NewFromInt(due)),
		AttendedNonPaid: int(due + notDue),
	}
}
