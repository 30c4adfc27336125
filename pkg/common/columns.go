package common

import "strings"

// column aliases of the public customer support ticket dataset and of the
// snake_case exports written by this module
var ticketColumns = map[string]func(r *TicketRecord) **string{
	"customer_name":      func(r *TicketRecord) **string { return &r.CustomerName },
	"product_purchased":  func(r *TicketRecord) **string { return &r.ProductName },
	"product_name":       func(r *TicketRecord) **string { return &r.ProductName },
	"product":            func(r *TicketRecord) **string { return &r.ProductName },
	"ticket_description": func(r *TicketRecord) **string { return &r.Description },
	"description":        func(r *TicketRecord) **string { return &r.Description },
	"ticket_status":      func(r *TicketRecord) **string { return &r.Status },
	"status":             func(r *TicketRecord) **string { return &r.Status },
	"ticket_priority":    func(r *TicketRecord) **string { return &r.Priority },
	"priority":           func(r *TicketRecord) **string { return &r.Priority },
	"issue_summary":      func(r *TicketRecord) **string { return &r.IssueSummary },
	"root_cause":         func(r *TicketRecord) **string { return &r.RootCause },
	"sentiment":          func(r *TicketRecord) **string { return &r.Sentiment },
}

// ColumnKey folds a column header such as "Ticket ID" or "ticket-id" to
// its snake_case key "ticket_id".
func ColumnKey(header string) string {
	h := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// SetColumn assigns value to the record field named by the column key.
// Blank optional values are left unset. It reports whether the key names a
// ticket field.
func (r *TicketRecord) SetColumn(key, value string) bool {
	switch key {
	case "ticket_id", "id":
		r.TicketID = strings.TrimSpace(value)
		return true
	case "customer_email", "email":
		r.CustomerEmail = strings.TrimSpace(value)
		return true
	}

	field, ok := ticketColumns[key]
	if !ok {
		return false
	}
	if strings.TrimSpace(value) == "" {
		*field(r) = nil
		return true
	}
	*field(r) = &value
	return true
}
