package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/lib/pq"
)

// classify maps a PostgreSQL failure onto the store error taxonomy.
// pgvector dimension errors become DimensionMismatchError; everything else
// is a StoreError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, facematch.ErrDimensionMismatch) || errors.Is(err, facematch.ErrStoreUnavailable) {
		return err
	}
	if mismatch := dimensionMismatch(err); mismatch != nil {
		return mismatch
	}
	return facematch.NewStoreError(op, err)
}

// dimensionMismatch parses the two pgvector dimension errors:
//
//	different vector dimensions 512 and 3   (comparison)
//	expected 512 dimensions, not 3          (insert into vector(512))
func dimensionMismatch(err error) *facematch.DimensionMismatchError {
	msg := err.Error()
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		msg = pqErr.Message
	}

	var want, got int
	if i := strings.Index(msg, "different vector dimensions"); i >= 0 {
		if _, scanErr := fmt.Sscanf(msg[i:], "different vector dimensions %d and %d", &want, &got); scanErr == nil {
			return &facematch.DimensionMismatchError{Want: want, Got: got}
		}
		return &facematch.DimensionMismatchError{}
	}
	if i := strings.Index(msg, "expected "); i >= 0 && strings.Contains(msg, "dimensions, not") {
		if _, scanErr := fmt.Sscanf(msg[i:], "expected %d dimensions, not %d", &want, &got); scanErr == nil {
			return &facematch.DimensionMismatchError{Want: want, Got: got}
		}
	}
	return nil
}
