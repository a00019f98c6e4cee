package payments

import (
	"sort"
	"time"
)

type Entitlement struct {
	Identifier         string     `json:"identifier"`
	ProductIdentifier  string     `json:"productIdentifier"`
	LatestPurchaseDate *time.Time `json:"latestPurchaseDate,omitempty"`
	ExpirationDate     *time.Time `json:"expirationDate,omitempty"`
}

type NonSubscriptionTransaction struct {
	ProductIdentifier string    `json:"productIdentifier"`
	PurchaseDate      time.Time `json:"purchaseDate"`
}

// CustomerInfo is the subscription-provider view of a customer.
type CustomerInfo struct {
	Entitlements                map[string]Entitlement       `json:"entitlements"`
	NonSubscriptionTransactions []NonSubscriptionTransaction `json:"nonSubscriptionTransactions"`
}

// PaidServices lists subscriptions (by entitlement identifier) followed by one-off purchases.
func (c CustomerInfo) PaidServices() PaidServices {
	services := make([]PaidService, 0, len(c.Entitlements)+len(c.NonSubscriptionTransactions))

	keys := make([]string, 0, len(c.Entitlements))
	for key := range c.Entitlements {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entitlement := c.Entitlements[key]
		start := time.Unix(0, 0).UTC()
		if entitlement.LatestPurchaseDate != nil {
			start = *entitlement.LatestPurchaseDate
		}
		services = append(services, PaidService{
			Name:              entitlement.Identifier,
			ProductIdentifier: entitlement.ProductIdentifier,
			PaymentType:       PaymentSubscription,
			StartDate:         start,
			EndDate:           entitlement.ExpirationDate,
		})
	}

	for _, tx := range c.NonSubscriptionTransactions {
		services = append(services, PaidService{
			Name:              tx.ProductIdentifier,
			ProductIdentifier: tx.ProductIdentifier,
			PaymentType:       PaymentOneOff,
			StartDate:         tx.PurchaseDate,
		})
	}
	return PaidServices{Services: services}
}
