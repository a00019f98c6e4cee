package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerInfoPaidServices(t *testing.T) {
	purchased := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	expires := purchased.AddDate(1, 0, 0)
	info := CustomerInfo{
		Entitlements: map[string]Entitlement{
			"pro":   {Identifier: "pro", ProductIdentifier: "com.app.year", LatestPurchaseDate: &purchased, ExpirationDate: &expires},
			"extra": {Identifier: "extra", ProductIdentifier: "com.app.extra"},
		},
		NonSubscriptionTransactions: []NonSubscriptionTransaction{
			{ProductIdentifier: "com.app.coins", PurchaseDate: purchased},
		},
	}

	services := info.PaidServices().Services
	require.Len(t, services, 3)

	assert.Equal(t, PaidService{
		Name:              "extra",
		ProductIdentifier: "com.app.extra",
		PaymentType:       PaymentSubscription,
		StartDate:         time.Unix(0, 0).UTC(),
	}, services[0])
	assert.Equal(t, "pro", services[1].Name)
	assert.Equal(t, &expires, services[1].EndDate)
	assert.Equal(t, PaidService{
		Name:              "com.app.coins",
		ProductIdentifier: "com.app.coins",
		PaymentType:       PaymentOneOff,
		StartDate:         purchased,
	}, services[2])

	active := info.PaidServices().Active(expires.Add(time.Hour))
	assert.Len(t, active, 2)
}
