package ledger

import (
	"errors"
	"strings"
	"time"
)

// Kind is the direction of a transaction.
type Kind string

const (
	KindIncome  Kind = "INCOME"
	KindExpense Kind = "EXPENSE"
)

// Categories booked automatically at week rollover.
const (
	CategoryTax         = "TAX"
	CategoryCommissions = "COMMISSIONS"
)

// SuggestedCategories feed the category datalist of the ledger form.
var SuggestedCategories = []string{"STOCK", "SALAIRES", "LOYER", "ENTRETIEN", "APPORT", "SUBVENTION", CategoryTax, CategoryCommissions, "AUTRE"}

var (
	// ErrNotFound is returned when a transaction does not exist.
	ErrNotFound = errors.New("ledger: transaction not found")
	// ErrLocked is returned when deleting a transaction of a finalized week.
	ErrLocked = errors.New("ledger: transaction belongs to a finalized week")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// ParseKind normalises user input.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToUpper(strings.TrimSpace(raw))) {
	case KindIncome:
		return KindIncome, true
	case KindExpense:
		return KindExpense, true
	}
	return "", false
}

// Label returns the display label of the kind.
func (k Kind) Label() string {
	if k == KindIncome {
		return "Entrée"
	}
	return "Sortie"
}

// Transaction is a row of financial_transactions.
type Transaction struct {
	ID            int64
	WeekID        *int64
	WeekNumber    *int
	Kind          Kind
	Category      string
	Amount        float64
	Description   string
	CreatedBy     *int64
	CreatedByName string
	CreatedAt     time.Time
}

// RecordInput is a manual ledger entry.
type RecordInput struct {
	Kind        Kind    `validate:"required,oneof=INCOME EXPENSE"`
	Category    string  `validate:"required,max=40"`
	Amount      float64 `validate:"gt=0,lte=100000000"`
	Description string  `validate:"max=500"`
	ActorID     int64
}

// ListFilter narrows List results.
type ListFilter struct {
	WeekID  *int64
	Kind    Kind
	Page    int
	PerPage int
}

// Summary aggregates a set of transactions.
type Summary struct {
	Income  float64
	Expense float64
	Balance float64
	Count   int
}
