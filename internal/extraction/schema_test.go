package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeKeepsExistingFields(t *testing.T) {
	base := OrderFields{
		Items:        []LineItem{{ProductName: "Napoleon cake", Quantity: 2, Unit: "kg"}},
		DeliveryDate: "2025-11-05",
	}
	merged := base.Merge(OrderFields{CustomerName: "Alice", ContactNumber: "+77011234567"})

	assert.Equal(t, "2025-11-05", merged.DeliveryDate)
	assert.Equal(t, "Alice", merged.CustomerName)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, "Napoleon cake", merged.Items[0].ProductName)
}

func TestMergeOverwritesWithIncoming(t *testing.T) {
	base := OrderFields{DeliveryDate: "2025-11-05", DeliveryTime: "15:00"}
	merged := base.Merge(OrderFields{DeliveryDate: "2025-11-06"})

	assert.Equal(t, "2025-11-06", merged.DeliveryDate)
	assert.Equal(t, "15:00", merged.DeliveryTime)
}

func TestMissingGroupsOrder(t *testing.T) {
	var f OrderFields
	assert.Equal(t, []string{GroupItems, GroupDelivery, GroupPayment, GroupContacts}, f.MissingGroups())

	f.Items = []LineItem{{ProductName: "cake", Quantity: 1}}
	f.PaymentStatus = "paid"
	assert.Equal(t, []string{GroupDelivery, GroupContacts}, f.MissingGroups())
}

func TestConfidenceFor(t *testing.T) {
	full := OrderFields{
		Items:         []LineItem{{ProductName: "Napoleon cake", Quantity: 2, Unit: "kg"}},
		DeliveryDate:  "2025-11-05",
		DeliveryTime:  "15:00",
		PaymentStatus: "paid",
		CustomerName:  "Alice",
		ContactNumber: "+77011234567",
	}
	assert.Equal(t, ConfidenceHigh, ConfidenceFor(full))

	medium := OrderFields{
		Items:         full.Items,
		DeliveryDate:  "2025-11-05",
		PaymentStatus: "paid",
	}
	assert.Equal(t, ConfidenceMedium, ConfidenceFor(medium))

	assert.Equal(t, ConfidenceLow, ConfidenceFor(OrderFields{CustomerName: "Alice"}))
	assert.Equal(t, ConfidenceLow, ConfidenceFor(OrderFields{Items: full.Items}))
}

func TestDecodeResult(t *testing.T) {
	raw := "```json\n{\"is_order\": true, \"delivery_date\": \"2025-11-05\", \"delivery_time\": \"15:00\", \"payment_status\": \"PAID\", \"customer_name\": \"Alice\", \"contact_number\": \"+77011234567\", \"items\": [{\"product_name\": \"Napoleon cake\", \"quantity\": 2, \"unit\": \"kg\"}]}\n```"
	result, err := decodeResult(raw)
	require.NoError(t, err)
	assert.True(t, result.IsOrder)
	assert.Equal(t, "paid", result.Fields.PaymentStatus)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
}

func TestDecodeResultNotAnOrder(t *testing.T) {
	result, err := decodeResult(`{"is_order": false}`)
	require.NoError(t, err)
	assert.False(t, result.IsOrder)
	assert.Equal(t, ConfidenceLow, result.Confidence)
}

func TestDecodeResultMalformed(t *testing.T) {
	_, err := decodeResult("sure! here is the order you asked about")
	require.Error(t, err)
}

func TestDetectConfirmation(t *testing.T) {
	assert.Equal(t, ConfirmYes, DetectConfirmation("Yes, all correct"))
	assert.Equal(t, ConfirmYes, DetectConfirmation("да"))
	assert.Equal(t, ConfirmNo, DetectConfirmation("no, change the date please"))
	assert.Equal(t, ConfirmUnclear, DetectConfirmation("what about macarons?"))

	// Whole-word matching: "another" must not read as "not".
	assert.Equal(t, ConfirmYes, DetectConfirmation("yes, and another eclair"))
	assert.Equal(t, ConfirmNo, DetectConfirmation("Not the right address"))
	assert.Equal(t, ConfirmUnclear, DetectConfirmation("announcement"))
}
