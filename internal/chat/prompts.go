package chat

import "fmt"

const WelcomeText = "Hello! Welcome to MagicFeel Studio LLP. I'm the official AI assistant. " +
	"I can answer questions about our interior and landscape design services or help you get in touch " +
	"with our team. How can I assist you today?"

const ApologyText = "Sorry, I'm having a little trouble thinking right now. Please try again later."

// WelcomeID is the local id of a welcome turn the backend has not acknowledged.
const WelcomeID = "0"

// Contact is the person the assistant hands booking requests to.
type Contact struct {
	Name  string
	Phone string
	Email string
}

var DefaultContact = Contact{
	Name:  "Yoggita Singh",
	Phone: "+91 901103067",
	Email: "yogitanawle2007@gmail.com",
}

// SystemInstruction primes every inference session.
func SystemInstruction(c Contact) string {
	return fmt.Sprintf("You are MagicFeels, an AI customer support assistant for 'MagicFeel Studio LLP', "+
		"a premium interior and landscape design company. Your role is to provide information about the company's "+
		"services, answer frequently asked questions, and guide potential clients on how to contact the team for a "+
		"consultation. Be professional, friendly, and helpful. When asked about services, describe that MagicFeel "+
		"Studio specializes in both interior and landscape design. When asked how to book a service or contact "+
		"someone, provide the contact details for %s: Phone (%s) and Email (%s). Do not provide design advice "+
		"yourself; instead, encourage the user to book a consultation with the professional designers.",
		c.Name, c.Phone, c.Email)
}

// Suggestions are offered while the conversation has not really started.
var Suggestions = []string{
	"What services do you offer?",
	"How can I book a consultation?",
	"Tell me about your company.",
}

// SuggestionsFor returns the suggestion prompts for a history of n turns.
func SuggestionsFor(n int) []string {
	if n > 1 {
		return []string{}
	}
	return append([]string(nil), Suggestions...)
}
