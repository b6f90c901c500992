// Package report builds operator-facing summaries of the day's orders.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
	"github.com/beybars1/napoleon-tseh/internal/orders"
)

type orderSource interface {
	ListManagerOrdersForDate(ctx context.Context, date string) ([]orders.ManagerOrder, error)
	ListAIOrdersForDate(ctx context.Context, date string) ([]orders.AIGeneratedOrder, error)
}

// Digest renders the daily production summary for the kitchen: every order
// due on a date plus per-product totals. The output is assembled locally,
// not by a model, so the same orders always produce the same text.
type Digest struct {
	store orderSource
}

// NewDigest creates a digest builder.
func NewDigest(store orderSource) *Digest {
	if store == nil {
		panic("report: order store required")
	}
	return &Digest{store: store}
}

// entry is one order flattened for rendering, whichever lane produced it.
type entry struct {
	source     string
	fields     extraction.OrderFields
	confidence extraction.Confidence
}

// BuildForDate renders the digest for a YYYY-MM-DD delivery date.
func (d *Digest) BuildForDate(ctx context.Context, date string) (string, error) {
	managerOrders, err := d.store.ListManagerOrdersForDate(ctx, date)
	if err != nil {
		return "", fmt.Errorf("report: load manager orders: %w", err)
	}
	aiOrders, err := d.store.ListAIOrdersForDate(ctx, date)
	if err != nil {
		return "", fmt.Errorf("report: load ai orders: %w", err)
	}

	entries := make([]entry, 0, len(managerOrders)+len(aiOrders))
	for _, o := range managerOrders {
		entries = append(entries, entry{source: "manager", fields: o.Fields, confidence: o.Confidence})
	}
	for _, o := range aiOrders {
		entries = append(entries, entry{source: "client", fields: o.Fields, confidence: o.Confidence})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Orders for %s\n", date)

	if len(entries) == 0 {
		b.WriteString("No orders.\n")
		return b.String(), nil
	}

	// Orders sort by delivery time, unknown times last, so the kitchen
	// reads the list top to bottom through the day.
	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].fields.DeliveryTime, entries[j].fields.DeliveryTime
		if ti == "" {
			return false
		}
		if tj == "" {
			return true
		}
		return ti < tj
	})

	fmt.Fprintf(&b, "Total: %d\n\n", len(entries))

	for i, e := range entries {
		fmt.Fprintf(&b, "%d. ", i+1)
		if e.fields.DeliveryTime != "" {
			fmt.Fprintf(&b, "%s ", e.fields.DeliveryTime)
		}
		fmt.Fprintf(&b, "[%s]", e.source)
		if e.confidence != "" && e.confidence != extraction.ConfidenceHigh {
			fmt.Fprintf(&b, " (%s confidence)", string(e.confidence))
		}
		b.WriteString("\n")
		for _, item := range e.fields.Items {
			fmt.Fprintf(&b, "   - %s x %s\n", item.ProductName, formatQuantity(item.Quantity, item.Unit))
		}
		if e.fields.Address != "" {
			fmt.Fprintf(&b, "   Address: %s\n", e.fields.Address)
		}
		if e.fields.CustomerName != "" || e.fields.ContactNumber != "" {
			fmt.Fprintf(&b, "   Contact: %s %s\n", e.fields.CustomerName, e.fields.ContactNumber)
		}
		if e.fields.PaymentStatus != "" {
			fmt.Fprintf(&b, "   Payment: %s\n", strings.ReplaceAll(e.fields.PaymentStatus, "_", " "))
		}
		if e.fields.Notes != "" {
			fmt.Fprintf(&b, "   Notes: %s\n", e.fields.Notes)
		}
	}

	b.WriteString("\nProduction totals:\n")
	for _, line := range productTotals(entries) {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return b.String(), nil
}

// productTotals aggregates quantities per (product, unit), case-insensitive
// on product name, sorted alphabetically for a stable rendering.
func productTotals(entries []entry) []string {
	type key struct {
		product string
		unit    string
	}
	totals := make(map[key]float64)
	names := make(map[key]string)
	for _, e := range entries {
		for _, item := range e.fields.Items {
			name := strings.TrimSpace(item.ProductName)
			k := key{product: strings.ToLower(name), unit: item.Unit}
			totals[k] += item.Quantity
			// The smallest spelling wins so the displayed name does not
			// depend on entry order ("Napoleon cake" over "napoleon cake").
			if current, seen := names[k]; !seen || name < current {
				names[k] = name
			}
		}
	}

	keys := make([]key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].product != keys[j].product {
			return keys[i].product < keys[j].product
		}
		return keys[i].unit < keys[j].unit
	})

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", names[k], formatQuantity(totals[k], k.unit)))
	}
	return lines
}

func formatQuantity(qty float64, unit string) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", qty), "0"), ".")
	if unit != "" {
		return s + " " + unit
	}
	return s
}
