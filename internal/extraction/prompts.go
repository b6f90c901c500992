package extraction

import (
	"fmt"
	"time"
)

// The parser prompt mirrors the order schema exactly; the model is told to
// answer with JSON only so the response can be decoded without scraping.
const orderParserPrompt = `You are an order parser for a bakery that takes orders over chat.
Extract order information from the message.

Rules:
- Current date is %s. Resolve relative dates ("tomorrow", "завтра") against it.
- Dates in DD.MM format belong to the current year.
- Customer names are often single given names.
- payment_status is one of: paid, partially_paid, pending.
- Do NOT invent values. Omit anything the message does not state.

Respond with ONLY valid JSON, no text outside the JSON:
{
  "is_order": true|false,
  "delivery_date": "YYYY-MM-DD",
  "delivery_time": "HH:MM",
  "address": "string",
  "payment_status": "string",
  "customer_name": "string",
  "contact_number": "string",
  "items": [{"product_name": "string", "quantity": 1, "unit": "string"}],
  "notes": "string"
}

If the message contains no order information, respond {"is_order": false}.`

var scopeInstructions = map[Scope]string{
	ScopeItems:    `Extract ONLY the ordered products: items[{product_name, quantity, unit}]. Other fields may be filled if the customer volunteers them, but never guessed.`,
	ScopeDelivery: `Extract ONLY delivery details: delivery_date, delivery_time, address. Other fields may be filled if the customer volunteers them, but never guessed.`,
	ScopePayment:  `Extract ONLY the payment status (paid, partially_paid or pending). Other fields may be filled if the customer volunteers them, but never guessed.`,
	ScopeContacts: `Extract ONLY contact details: customer_name and contact_number. Other fields may be filled if the customer volunteers them, but never guessed.`,
}

func systemPrompt(scope Scope, now time.Time) string {
	base := fmt.Sprintf(orderParserPrompt, now.Format("2006-01-02"))
	if scope == ScopeFull || scope == "" {
		return base
	}
	if extra, ok := scopeInstructions[scope]; ok {
		return base + "\n\nThis turn: " + extra
	}
	return base
}
