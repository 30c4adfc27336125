package common

import (
	"strings"
)

const (
	DefaultCustomerName = "User"
	DefaultProductName  = "Product"
	UnknownValue        = "Unknown"
	NoDescription       = "No description provided."
)

// TicketRecord is one normalized, optionally enriched support ticket as it
// arrives at the ingest boundary. Required identity fields are plain strings,
// everything else may be absent.
//
// The record is validated exactly once with ValidateRecord before any store
// interaction. Downstream code works on the NormalizedTicket produced by
// Normalize.
type TicketRecord struct {
	TicketID      string  `json:"ticket_id" validate:"required"`
	CustomerEmail string  `json:"customer_email" validate:"required,contains=@"`
	CustomerName  *string `json:"customer_name,omitempty"`
	ProductName   *string `json:"product_name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Status        *string `json:"status,omitempty"`
	Priority      *string `json:"priority,omitempty"`
	IssueSummary  *string `json:"issue_summary,omitempty"`
	RootCause     *string `json:"root_cause,omitempty"`
	Sentiment     *string `json:"sentiment,omitempty"`
}

// NormalizedTicket is a validated TicketRecord with defaults applied and
// identities canonicalized. Derived fields stay nil when absent; they are
// never invented.
type NormalizedTicket struct {
	ID            string
	CustomerEmail string
	CustomerName  string
	ProductName   string
	Description   *string
	Status        *string
	Priority      *string
	IssueSummary  *string
	RootCause     *string
	Sentiment     *string
}

// Normalize trims every value, lower-cases the customer email and the
// priority and applies the default customer and product names. Blank
// optional values become nil.
func (r TicketRecord) Normalize() NormalizedTicket {
	n := NormalizedTicket{
		ID:            strings.TrimSpace(r.TicketID),
		CustomerEmail: strings.ToLower(strings.TrimSpace(r.CustomerEmail)),
		CustomerName:  DefaultCustomerName,
		ProductName:   DefaultProductName,
		Description:   clean(r.Description),
		Status:        clean(r.Status),
		Priority:      clean(r.Priority),
		IssueSummary:  clean(r.IssueSummary),
		RootCause:     clean(r.RootCause),
		Sentiment:     clean(r.Sentiment),
	}
	if name := clean(r.CustomerName); name != nil {
		n.CustomerName = *name
	}
	if product := clean(r.ProductName); product != nil {
		n.ProductName = *product
	}
	if n.Priority != nil {
		p := strings.ToLower(*n.Priority)
		n.Priority = &p
	}
	return n
}

// Content renders the rich text that is embedded for similarity search.
// The same ticket always renders to the same string.
func (n NormalizedTicket) Content() string {
	var b strings.Builder
	b.WriteString("Ticket ")
	b.WriteString(n.ID)
	b.WriteString(" regarding ")
	b.WriteString(n.ProductName)
	b.WriteString(". Customer: ")
	b.WriteString(n.CustomerName)
	b.WriteString(". Description: ")
	b.WriteString(sentence(orDefault(n.Description, NoDescription)))
	b.WriteString(" Root Cause: ")
	b.WriteString(sentence(orDefault(n.RootCause, UnknownValue)))
	b.WriteString(" Sentiment: ")
	b.WriteString(sentence(orDefault(n.Sentiment, UnknownValue)))
	return b.String()
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the value behind p or the zero value.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func clean(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func sentence(s string) string {
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?") {
		return s
	}
	return s + "."
}

// MaskEmail hides the local part of an address except for its first rune,
// e.g. "frank@example.com" becomes "f***@example.com". Values without an
// "@" are returned unchanged and already masked values stay stable.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	local := []rune(email[:at])
	return string(local[0]) + "***" + email[at:]
}
