package payments

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Environment is the payments backend base URL.
type Environment string

const (
	Dev  Environment = "https://api.payments.dev.paltabrain.com"
	Prod Environment = "https://api.payments.paltabrain.com"
)

func (e Environment) String() string { return string(e) }

func (e Environment) IsProduction() bool { return e == Prod }

// UserID identifies a customer either by UUID or by an opaque string.
type UserID struct {
	uuid  uuid.UUID
	str   string
	isStr bool
}

func UUIDUser(id uuid.UUID) UserID { return UserID{uuid: id} }

func StringUser(id string) UserID { return UserID{str: id, isStr: true} }

// ParseUserID returns a UUID user when s parses as one.
func ParseUserID(s string) UserID {
	if id, err := uuid.Parse(s); err == nil {
		return UUIDUser(id)
	}
	return StringUser(s)
}

func (u UserID) String() string {
	if u.isStr {
		return u.str
	}
	return u.uuid.String()
}

func (u UserID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *UserID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*u = ParseUserID(s)
	return nil
}

type CheckoutState string

const (
	StateProcessing CheckoutState = "processing"
	StateCompleted  CheckoutState = "completed"
	StateFailed     CheckoutState = "failed"
	StateCancelled  CheckoutState = "cancelled"
)

func (s CheckoutState) Valid() bool {
	switch s {
	case StateProcessing, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

type Feature struct {
	Name                string     `json:"name"`
	Quantity            int        `json:"quantity"`
	ActualFrom          time.Time  `json:"actualFrom"`
	ActualTill          *time.Time `json:"actualTill,omitempty"`
	TransactionType     string     `json:"transactionType"`
	LastTransactionType string     `json:"lastTransactionType"`
}

type PaidFeatures struct {
	Features []Feature `json:"features"`
}

func (p PaidFeatures) Has(name string) bool {
	_, ok := p.Feature(name)
	return ok
}

func (p PaidFeatures) Feature(name string) (Feature, bool) {
	for _, f := range p.Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

type PricePoint struct {
	Ident         string `json:"ident"`
	AppStoreID    string `json:"productId"`
	UseIntroOffer bool   `json:"useIntroOffer"`
	Priority      int    `json:"priority"`
}

// ShowcaseProduct is the purchasable pairing of a backend ident and a store product.
type ShowcaseProduct struct {
	Ident             string `json:"ident"`
	ProductIdentifier string `json:"productIdentifier"`
}

// StoreProduct is what the platform store reports for a product id.
type StoreProduct struct {
	ProductIdentifier string `json:"productIdentifier"`
	Title             string `json:"title"`
	Price             string `json:"price"`
	CurrencyCode      string `json:"currencyCode"`
}

// Product is a store product together with the price point it was offered at.
type Product struct {
	StoreProduct
	PricePoint *PricePoint `json:"pricePoint,omitempty"`
}

// Showcase returns the product in the shape CheckoutFlow purchases.
func (p Product) Showcase() ShowcaseProduct {
	ident := ""
	if p.PricePoint != nil {
		ident = p.PricePoint.Ident
	}
	return ShowcaseProduct{Ident: ident, ProductIdentifier: p.ProductIdentifier}
}

type Transaction struct {
	ID         string
	OriginalID string
}

type PaymentType string

const (
	PaymentSubscription PaymentType = "subscription"
	PaymentOneOff       PaymentType = "oneOff"
)

type PaidService struct {
	Name              string      `json:"name"`
	ProductIdentifier string      `json:"productIdentifier"`
	PaymentType       PaymentType `json:"paymentType"`
	StartDate         time.Time   `json:"startDate"`
	EndDate           *time.Time  `json:"endDate,omitempty"`
}

// IsActive reports whether the service is usable at the given instant.
func (s PaidService) IsActive(at time.Time) bool {
	return s.EndDate == nil || s.EndDate.After(at)
}

type PaidServices struct {
	Services []PaidService `json:"services"`
}

func (p PaidServices) Active(at time.Time) []PaidService {
	var active []PaidService
	for _, service := range p.Services {
		if service.IsActive(at) {
			active = append(active, service)
		}
	}
	return active
}

func statusOK(status string) bool {
	return strings.EqualFold(status, "ok")
}
