package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll-ledger/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("payslip: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrDuplicateRecord, http.StatusConflict},
		{fmt.Errorf("finalize: %w", shared.ErrInvalidState), http.StatusConflict},
		{shared.Invalidf("earnings required"), http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("password=secret"))
	require.NotContains(t, rr.Body.String(), "secret")
}

type sampleRequest struct {
	Year int    `json:"year" validate:"required,gte=2000"`
	Name string `json:"name" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"year":1999}`))
	rr := httptest.NewRecorder()
	var body sampleRequest
	require.False(t, DecodeAndValidate(rr, req, v, &body))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "gte", problem.Errors["Year"])
	require.Equal(t, "required", problem.Errors["Name"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"year":2025,"name":"ok","extra":1}`))
	rr = httptest.NewRecorder()
	require.False(t, DecodeAndValidate(rr, req, v, &body))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"year":2025,"name":"ok"}`))
	rr = httptest.NewRecorder()
	require.True(t, DecodeAndValidate(rr, req, v, &body))
	require.Equal(t, 2025, body.Year)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=2&year=abc", nil)
	v, ok, err := QueryInt(req, "page")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok, err = QueryInt(req, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = QueryInt64(req, "year")
	require.ErrorIs(t, err, ErrBadRequest)
}
