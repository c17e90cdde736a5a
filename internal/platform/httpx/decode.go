package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes caps every JSON body the API accepts.
const MaxBodyBytes = 64 << 10

// DecodeJSON reads exactly one JSON object from the request into target.
// Oversized bodies wrap ErrTooLarge. Malformed input, unknown fields and
// trailing data wrap ErrValidation.
func DecodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err != nil {
			if wrapped := decodeError(err); errors.Is(wrapped, ErrTooLarge) {
				return wrapped
			}
		}
		return fmt.Errorf("%w: body must hold a single JSON object", ErrValidation)
	}
	return nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, tooLarge.Limit)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: empty body", ErrValidation)
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
