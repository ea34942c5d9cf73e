package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/waitline/internal/apperr"
)

func TestRespondEnvelopeShape(t *testing.T) {
	rr := httptest.NewRecorder()
	respond(rr, http.StatusCreated, "made", map[string]string{"id": "x"})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "made", env.Message)
	assert.JSONEq(t, `{"id":"x"}`, string(env.Data))
	assert.NotContains(t, rr.Body.String(), `"token"`)
}

func TestRespondTokenIncludesToken(t *testing.T) {
	rr := httptest.NewRecorder()
	respondToken(rr, http.StatusOK, "in", nil, "jwt-here")

	var env struct {
		Token *string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NotNil(t, env.Token)
	assert.Equal(t, "jwt-here", *env.Token)
}

func TestRespondErrMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.InvalidArgument("bad"), http.StatusBadRequest},
		{apperr.Unauthorized("no"), http.StatusUnauthorized},
		{apperr.Forbidden("nope"), http.StatusForbidden},
		{apperr.NotFound("missing"), http.StatusNotFound},
		{apperr.FailedPrecondition("not yet"), http.StatusBadRequest},
		{apperr.Conflict("busy"), http.StatusConflict},
		{apperr.Internal(assert.AnError), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		respondErr(rr, nil, tc.err)
		assert.Equal(t, tc.status, rr.Code)
		assert.Contains(t, rr.Body.String(), `"success":false`)
	}
}

func TestRespondErrHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	respondErr(rr, nil, apperr.Internal(assert.AnError))
	assert.NotContains(t, rr.Body.String(), assert.AnError.Error())
	assert.Contains(t, rr.Body.String(), "internal error")
}

func TestDecodeStrict(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"name":"a"}`, true},
		{"empty body", ``, false},
		{"unknown field", `{"name":"a","extra":1}`, false},
		{"wrong type", `{"name":42}`, false},
		{"trailing data", `{"name":"a"}{"name":"b"}`, false},
		{"malformed", `{"name":`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst payload
			err := decodeStrict(req, &dst)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
		})
	}
}

func TestTimeParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2026-03-14T10:00:00Z", nil)
	got, err := timeParam(req, "from")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), got)

	req = httptest.NewRequest(http.MethodGet, "/?from=1773741600000", nil)
	got, err = timeParam(req, "from")
	require.NoError(t, err)
	assert.Equal(t, int64(1773741600000), got.UnixMilli())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err = timeParam(req, "from")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	req = httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	_, err = timeParam(req, "from")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}
