package common

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator"
)

var (
	// ErrInvalidRecord marks input that can never be stored, e.g. a record
	// without ticket id or customer email.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrStoreUnavailable marks connectivity, timeout or transaction failures
	// of the graph store. Operations failing with it may be retried.
	ErrStoreUnavailable = errors.New("graph store unavailable")
	// ErrStaleEmbedding marks a ticket whose content was stored but whose
	// embedding could not be refreshed.
	ErrStaleEmbedding            = errors.New("stale embedding")
	ErrRetrievalUnavailable      = errors.New("retrieval unavailable")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	// ErrConfigurationMismatch is returned when the embedding model or
	// dimensions recorded in the graph differ from the configured ones.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrUnsupportedAggregate  = errors.New("unsupported aggregate")
)

// RecordError ties an error to the ticket it happened for.
type RecordError struct {
	TicketID string
	Err      error
}

func (e *RecordError) Error() string {
	if e.TicketID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("ticket %s: %v", e.TicketID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidateRecord checks the required identity fields of r. The returned
// error wraps ErrInvalidRecord.
func ValidateRecord(r TicketRecord) error {
	validateOnce.Do(func() {
		validate = validator.New()
	})

	if err := validate.Struct(r); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
		}
		return &RecordError{
			TicketID: r.TicketID,
			Err:      fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(fields, ", ")),
		}
	}
	if strings.TrimSpace(r.TicketID) == "" {
		return &RecordError{Err: fmt.Errorf("%w: TicketID blank", ErrInvalidRecord)}
	}
	if at := strings.LastIndex(strings.TrimSpace(r.CustomerEmail), "@"); at <= 0 {
		return &RecordError{
			TicketID: r.TicketID,
			Err:      fmt.Errorf("%w: CustomerEmail malformed", ErrInvalidRecord),
		}
	}
	return nil
}
