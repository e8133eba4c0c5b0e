package sales

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tavern-panel/panel/internal/payroll"
)

var (
	ErrNotFound        = errors.New("sales: sale not found")
	ErrProductNotFound = errors.New("sales: product not found")
	ErrProductInactive = errors.New("sales: product inactive")
	ErrEmptyCart       = errors.New("sales: empty cart")
	ErrInvalidInput    = errors.New("sales: invalid input")
	ErrDuplicate       = errors.New("sales: duplicate product name")
	ErrForbidden       = errors.New("sales: not allowed")
)

// MaxQuantity caps a single line.
const MaxQuantity = 999

// PaymentMethod is how the customer settled.
type PaymentMethod string

const (
	PaymentCash PaymentMethod = "CASH"
	PaymentCard PaymentMethod = "CARD"
)

// PaymentMethods lists accepted methods in display order.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard}

// Label returns the French label of the method.
func (p PaymentMethod) Label() string {
	switch p {
	case PaymentCash:
		return "Espèces"
	case PaymentCard:
		return "Carte"
	default:
		return string(p)
	}
}

// ParsePaymentMethod defaults to cash.
func ParsePaymentMethod(raw string) PaymentMethod {
	if PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) == PaymentCard {
		return PaymentCard
	}
	return PaymentCash
}

// Product is an item of the menu.
type Product struct {
	ID        int64
	Name      string
	Category  string
	Price     float64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductInput creates or updates a product.
type ProductInput struct {
	Name     string  `validate:"required,max=80"`
	Category string  `validate:"max=40"`
	Price    float64 `validate:"gte=0,lte=1000000"`
}

// Sale is a recorded ticket.
type Sale struct {
	ID             int64
	Reference      uuid.UUID
	WeekID         int64
	WeekNumber     int
	UserID         int64
	SellerName     string
	CustomerName   string
	PaymentMethod  PaymentMethod
	Total          float64
	CommissionRate float64
	Commission     float64
	CreatedAt      time.Time
	Items          []Item
}

// ShortRef is the first block of the reference, shown on tickets.
func (s Sale) ShortRef() string {
	return strings.ToUpper(strings.SplitN(s.Reference.String(), "-", 2)[0])
}

// Item is a line of a sale.
type Item struct {
	ID          int64
	SaleID      int64
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   float64
	LineTotal   float64
}

// LineInput is a requested cart line.
type LineInput struct {
	ProductID int64 `validate:"gt=0"`
	Quantity  int   `validate:"min=1,max=999"`
}

// RecordInput records a sale for the seller.
type RecordInput struct {
	SellerID      int64         `validate:"gt=0"`
	CustomerName  string        `validate:"max=80"`
	PaymentMethod PaymentMethod `validate:"oneof=CASH CARD"`
	Lines         []LineInput   `validate:"dive"`
}

// CancelInput deletes a sale of the active week.
type CancelInput struct {
	SaleID    int64
	ActorID   int64
	ActorRole payroll.Role
}

// ListFilter selects sales.
type ListFilter struct {
	WeekID  *int64
	UserID  *int64
	Page    int
	PerPage int
}

// Totals summarises a list of sales.
type Totals struct {
	Count      int
	Revenue    float64
	Commission float64
}

// MergeLines folds repeated products into one line and drops empty lines.
func MergeLines(lines []LineInput) []LineInput {
	qty := map[int64]int{}
	var order []int64
	for _, l := range lines {
		if l.ProductID <= 0 || l.Quantity == 0 {
			continue
		}
		if _, seen := qty[l.ProductID]; !seen {
			order = append(order, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	out := make([]LineInput, 0, len(order))
	for _, id := range order {
		out = append(out, LineInput{ProductID: id, Quantity: qty[id]})
	}
	return out
}

// BuildItems prices lines against the catalogue and returns the sale total.
func BuildItems(lines []LineInput, catalogue map[int64]Product) ([]Item, float64, error) {
	if len(lines) == 0 {
		return nil, 0, ErrEmptyCart
	}
	items := make([]Item, 0, len(lines))
	var total float64
	for _, l := range lines {
		if l.Quantity < 1 || l.Quantity > MaxQuantity {
			return nil, 0, fmt.Errorf("%w: quantity %d out of range", ErrInvalidInput, l.Quantity)
		}
		p, ok := catalogue[l.ProductID]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %d", ErrProductNotFound, l.ProductID)
		}
		if !p.IsActive {
			return nil, 0, fmt.Errorf("%w: %s", ErrProductInactive, p.Name)
		}
		line := payroll.LineTotal(l.Quantity, p.Price)
		total += line
		items = append(items, Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
			LineTotal:   line,
		})
	}
	return items, payroll.RoundCents(total), nil
}

// Summarize totals a list of sales.
func Summarize(list []Sale) Totals {
	var t Totals
	for _, s := range list {
		t.Count++
		t.Revenue += s.Total
		t.Commission += s.Commission
	}
	t.Revenue = payroll.RoundCents(t.Revenue)
	t.Commission = payroll.RoundCents(t.Commission)
	return t
}

// GroupByCategory orders active products by category then name for the till.
func GroupByCategory(products []Product) []CategoryGroup {
	byCat := map[string][]Product{}
	for _, p := range products {
		if !p.IsActive {
			continue
		}
		cat := p.Category
		if cat == "" {
			cat = "Divers"
		}
		byCat[cat] = append(byCat[cat], p)
	}
	groups := make([]CategoryGroup, 0, len(byCat))
	for cat, list := range byCat {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		groups = append(groups, CategoryGroup{Name: cat, Products: list})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// CategoryGroup is a till section.
type CategoryGroup struct {
	Name     string
	Products []Product
}
