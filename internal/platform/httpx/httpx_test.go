package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsCategories(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("x: %w", ErrConflict), http.StatusConflict},
		{fmt.Errorf("x: %w", ErrLocked), http.StatusLocked},
		{fmt.Errorf("x: %w", ErrInconsistent), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}

	rr := httptest.NewRecorder()
	RespondError(rr, ErrLocked)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestValidatorHandlesDecimals(t *testing.T) {
	type payload struct {
		Quantity decimal.Decimal     `json:"quantity" validate:"gt=0"`
		Cost     decimal.NullDecimal `json:"cost" validate:"omitempty,gte=0"`
	}
	v := NewValidator()
	require.NoError(t, Validate(v, payload{Quantity: decimal.NewFromInt(3)}))

	err := Validate(v, payload{Quantity: decimal.Zero})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "quantity")

	err = Validate(v, payload{Quantity: decimal.NewFromInt(1), Cost: decimal.NewNullDecimal(decimal.NewFromInt(-1))})
	require.ErrorIs(t, err, ErrValidation)
}
