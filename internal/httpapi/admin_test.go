package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/m3rciful/vatwatch/internal/lifecycle"
	"github.com/m3rciful/vatwatch/internal/scheduler"
	"github.com/m3rciful/vatwatch/internal/vat"
)

func (s *HTTPSuite) admin(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, body, "X-Admin-Token", adminToken)
}

func (s *HTTPSuite) seedError(owner int64, number, text string) vat.ErroredRequest {
	id, err := vat.NewIdentity(owner, number)
	s.Require().NoError(err)
	e, err := s.store.AddError(context.Background(), vat.PendingRequest{
		Identity:       id,
		ExpirationDate: time.Now().Add(24 * time.Hour),
	}, text)
	s.Require().NoError(err)
	return e
}

func (s *HTTPSuite) TestAdminTokenRequired() {
	rec := s.do(http.MethodGet, "/admin/list", nil, "X-Api-Key", apiToken)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/admin/list?code="+adminToken, nil, "", "")
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HTTPSuite) TestAdminListings() {
	rec := s.admin(http.MethodGet, "/admin/list", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`[]`, rec.Body.String())

	s.api("/api/check?telegramChatId=1&vatNumber=PL123", nil)
	s.seedError(2, "FR44", "Oops")

	rec = s.admin(http.MethodGet, "/admin/list", nil)
	var pending []vat.PendingRequest
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &pending))
	s.Require().Len(pending, 1)
	s.Equal("PL123", pending[0].String())

	rec = s.admin(http.MethodGet, "/admin/listErrors", nil)
	var errs []vat.ErroredRequest
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &errs))
	s.Require().Len(errs, 1)
	s.Equal("Oops", errs[0].ErrorText)
	s.Equal(int64(2), errs[0].OwnerID)
}

func (s *HTTPSuite) TestResolveError() {
	e := s.seedError(2, "FR44", "Oops")

	rec := s.admin(http.MethodPost, "/admin/resolveError", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("Missing VAT Request Error ID", rec.Body.String())

	rec = s.admin(http.MethodPost, "/admin/resolveError?errorId="+e.ID, nil)
	s.Equal(http.StatusNoContent, rec.Code)

	sent := s.notifier.Sent()
	s.Require().Len(sent, 1)
	s.Equal("We resumed monitoring your VAT number 'FR44'.", sent[0].Text)

	rec = s.admin(http.MethodPost, "/admin/resolveError", map[string]any{"errorId": e.ID})
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("VAT Request Error with id '"+e.ID+"' not found", rec.Body.String())
}

func (s *HTTPSuite) TestResolveAllErrorsSilent() {
	s.seedError(1, "PL1", "a")
	s.seedError(2, "PL2", "b")

	rec := s.admin(http.MethodPost, "/admin/resolveAllErrors", map[string]any{"silent": true})
	s.Equal(http.StatusNoContent, rec.Code)
	s.Empty(s.notifier.Sent())

	errs, err := s.store.ListErrors(context.Background())
	s.Require().NoError(err)
	s.Empty(errs)
	pending, err := s.store.ListPending(context.Background())
	s.Require().NoError(err)
	s.Len(pending, 2)
}

func (s *HTTPSuite) TestRemoveError() {
	e := s.seedError(2, "FR44", "Oops")

	rec := s.admin(http.MethodPost, "/admin/removeError?errorId="+e.ID, nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.admin(http.MethodPost, "/admin/removeError?errorId="+e.ID, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	pending, err := s.store.ListPending(context.Background())
	s.Require().NoError(err)
	s.Empty(pending, "removing an error does not resume monitoring")
}

func (s *HTTPSuite) TestUpdate() {
	s.api("/api/check?telegramChatId=1&vatNumber=PL123", nil)
	s.api("/api/check?telegramChatId=1&vatNumber=PL777", nil)

	cases := []struct {
		query string
		code  int
		body  string
	}{
		{"vatNumber=PL123&newVatNumber=PL124", http.StatusBadRequest, "Missing Telegram Chat ID"},
		{"telegramChatId=1&newVatNumber=PL124", http.StatusBadRequest, "Missing VAT Number"},
		{"telegramChatId=1&vatNumber=PL123", http.StatusBadRequest, "Missing new VAT Number"},
		{"telegramChatId=1&vatNumber=PL123&newVatNumber=PL123", http.StatusNoContent, ""},
		{"telegramChatId=1&vatNumber=PL123&newVatNumber=X", http.StatusBadRequest, "VAT number is in invalid format (expected at least 3 symbols)."},
		{"telegramChatId=1&vatNumber=PL123&newVatNumber=PL777", http.StatusConflict, ""},
		{"telegramChatId=1&vatNumber=PL999&newVatNumber=PL998", http.StatusNotFound, "VAT Request with number 'PL999' and Telegram Chat ID '1' not found."},
		{"telegramChatId=1&vatNumber=PL123&newVatNumber=de555", http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		rec := s.admin(http.MethodPost, "/admin/update?"+tc.query, nil)
		s.Equal(tc.code, rec.Code, tc.query)
		if tc.body != "" {
			s.Equal(tc.body, rec.Body.String(), tc.query)
		}
	}

	list, err := s.store.ListPendingByOwner(context.Background(), 1)
	s.Require().NoError(err)
	var numbers []string
	for _, p := range list {
		numbers = append(numbers, p.String())
	}
	s.ElementsMatch([]string{"DE555", "PL777"}, numbers)
}

func (s *HTTPSuite) TestRunCycle() {
	s.api("/api/check?telegramChatId=1&vatNumber=PL123", nil)
	s.checker.SetValid("PL123", true)

	rec := s.admin(http.MethodPost, "/admin/runCycle", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var body cycleBody
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(1, body.Total)
	s.Equal(1, body.Valid)
	s.Empty(body.Stopped)

	sent := s.notifier.Sent()
	s.Require().Len(sent, 1)
	s.Contains(sent[0].Text, "is now VALID")
}

type busyCycles struct{}

func (busyCycles) Trigger(context.Context) (lifecycle.CycleReport, error) {
	return lifecycle.CycleReport{}, scheduler.ErrCycleInProgress
}

type brokenAdmin struct{}

func (brokenAdmin) ListPending(context.Context) ([]vat.PendingRequest, error) { return nil, errDown }
func (brokenAdmin) ListErrors(context.Context) ([]vat.ErroredRequest, error)  { return nil, errDown }
func (brokenAdmin) ResolveError(context.Context, string, bool) (vat.ResolveResult, error) {
	return vat.ResolveResult{}, errDown
}
func (brokenAdmin) ResolveAllErrors(context.Context, bool) (lifecycle.ResolveSummary, error) {
	return lifecycle.ResolveSummary{}, errDown
}
func (brokenAdmin) RemoveError(context.Context, string) (bool, error) { return false, errDown }
func (brokenAdmin) UpdateIdentity(context.Context, int64, string, string) (lifecycle.UpdateOutcome, error) {
	return "", errDown
}

func TestAdminFailures(t *testing.T) {
	router := NewRouter(nil, brokenAdmin{}, Options{AdminToken: adminToken, Cycles: busyCycles{}})

	send := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-Admin-Token", adminToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusConflict, send(http.MethodPost, "/admin/runCycle").Code)
	assert.Equal(t, http.StatusInternalServerError, send(http.MethodGet, "/admin/list").Code)
	assert.Equal(t, http.StatusInternalServerError, send(http.MethodGet, "/admin/listErrors").Code)
	assert.Equal(t, http.StatusInternalServerError, send(http.MethodPost, "/admin/resolveError?errorId=x").Code)
	assert.Equal(t, http.StatusInternalServerError, send(http.MethodPost, "/admin/resolveAllErrors").Code)
	assert.Equal(t, http.StatusInternalServerError, send(http.MethodPost, "/admin/removeError?errorId=x").Code)
	assert.Equal(t, http.StatusInternalServerError,
		send(http.MethodPost, "/admin/update?telegramChatId=1&vatNumber=PL1&newVatNumber=PL2").Code)
}
