package conversation

import (
	"fmt"
	"strings"

	"github.com/beybars1/napoleon-tseh/internal/extraction"
)

// Replies renders the assistant side of the dialogue. Texts are templates,
// not model output, so the flow stays deterministic and testable.
type Replies struct {
	BusinessName string
}

func (r Replies) business() string {
	if r.BusinessName == "" {
		return "Napoleon Tseh"
	}
	return r.BusinessName
}

// Welcome opens a new conversation and immediately asks for items.
func (r Replies) Welcome() string {
	return fmt.Sprintf("Hello! Welcome to %s. What would you like to order?", r.business())
}

// Prompt asks for the field group a collect state owns.
func (r Replies) Prompt(s State) string {
	switch s {
	case StateCollectItems:
		return "What would you like to order? Please name the products and quantities."
	case StateCollectDelivery:
		return "When should the order be ready? Please share the date, time and delivery address."
	case StateCollectPayment:
		return "How would you like to pay? Let me know if the order is already paid, partially paid, or payment is pending."
	case StateCollectContacts:
		return "Could you share your name and a contact phone number?"
	}
	return "Could you tell me a bit more about your order?"
}

// Reprompt is used after an unclear answer; it restates the question.
func (r Replies) Reprompt(s State) string {
	switch s {
	case StateCollectItems:
		return "Sorry, I couldn't catch the items. Could you list the products and quantities, for example: Napoleon cake, 2 kg?"
	case StateCollectDelivery:
		return "Sorry, I couldn't catch the delivery details. Could you repeat the date, time and address?"
	case StateCollectPayment:
		return "Sorry, I couldn't catch the payment status. Is the order paid, partially paid, or pending?"
	case StateCollectContacts:
		return "Sorry, I couldn't catch your contact details. Could you repeat your name and phone number?"
	}
	return "Sorry, could you repeat that?"
}

// TransientTrouble is sent when extraction itself failed and will be retried.
func (r Replies) TransientTrouble() string {
	return "Sorry, I'm having trouble right now. Could you send that again?"
}

// Summary renders the collected order for confirmation.
func (r Replies) Summary(f extraction.OrderFields) string {
	var b strings.Builder
	b.WriteString("Here is your order:\n")
	for _, item := range f.Items {
		qty := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", item.Quantity), "0"), ".")
		if item.Unit != "" {
			fmt.Fprintf(&b, "- %s, %s %s\n", item.ProductName, qty, item.Unit)
		} else {
			fmt.Fprintf(&b, "- %s, %s\n", item.ProductName, qty)
		}
	}
	fmt.Fprintf(&b, "Delivery: %s", f.DeliveryDate)
	if f.DeliveryTime != "" {
		fmt.Fprintf(&b, " at %s", f.DeliveryTime)
	}
	if f.Address != "" {
		fmt.Fprintf(&b, ", %s", f.Address)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Payment: %s\n", strings.ReplaceAll(f.PaymentStatus, "_", " "))
	fmt.Fprintf(&b, "Contact: %s, %s\n", f.CustomerName, f.ContactNumber)
	if f.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", f.Notes)
	}
	b.WriteString("Is everything correct?")
	return b.String()
}

// Confirmed closes a successfully saved order.
func (r Replies) Confirmed() string {
	return "Thank you! Your order is confirmed. We'll be in touch if anything comes up."
}

// CorrectionPrompt is sent when the client rejects the summary.
func (r Replies) CorrectionPrompt(s State) string {
	return "No problem, let's fix that. " + r.Prompt(s)
}

// ConfirmReprompt is sent when a confirmation answer was neither yes nor no.
func (r Replies) ConfirmReprompt() string {
	return "Please reply yes to confirm the order, or tell me what to change."
}

// CorrectionQuestion is sent when the client rejects the summary without
// saying what is wrong.
func (r Replies) CorrectionQuestion() string {
	return "No problem. What should I change?"
}

// Escalation tells the client a human will take over after repeated
// unclear answers.
func (r Replies) Escalation() string {
	return fmt.Sprintf("I'm sorry, I'm having trouble understanding. A member of the %s team will contact you shortly to finish your order.", r.business())
}
