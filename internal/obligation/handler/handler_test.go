package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerservice "clearfund/internal/ledger/service"
	ledgerstore "clearfund/internal/ledger/store"
	obligationservice "clearfund/internal/obligation/service"
	obligationstore "clearfund/internal/obligation/store"
	id "clearfund/pkg/domain"
)

type fixture struct {
	router     chi.Router
	caseID     id.CaseID
	petitioner id.PartyID
	respondent id.PartyID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := obligationstore.NewInMemory()
	calc := ledgerservice.NewCalculator(ledgerstore.NewInMemory(), store)
	svc := obligationservice.NewService(store, calc)
	h := New(svc, slog.Default())
	r := chi.NewRouter()
	h.Register(r)
	return &fixture{
		router:     r,
		caseID:     id.NewCaseID(),
		petitioner: id.NewPartyID(),
		respondent: id.NewPartyID(),
	}
}

func (f *fixture) post(t *testing.T, path string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, total string) string {
	t.Helper()
	rec := f.post(t, "/obligations", map[string]any{
		"case_id":          f.caseID.String(),
		"title":            "School laptop",
		"category":         "device",
		"total_amount":     total,
		"petitioner_share": "250.00",
		"respondent_share": "250.00",
		"created_by":       f.petitioner.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var o struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	return o.ID
}

func TestHandleCreate(t *testing.T) {
	f := newFixture(t)
	obligationID := f.create(t, "500.00")
	assert.NotEmpty(t, obligationID)
}

func TestHandleCreateInvalidCategory(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/obligations", map[string]any{
		"case_id":          f.caseID.String(),
		"title":            "Mystery",
		"category":         "gambling",
		"total_amount":     "10.00",
		"petitioner_share": "5.00",
		"respondent_share": "5.00",
		"created_by":       f.petitioner.String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateSharesMismatch(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/obligations", map[string]any{
		"case_id":          f.caseID.String(),
		"title":            "School laptop",
		"category":         "device",
		"total_amount":     "500.00",
		"petitioner_share": "300.00",
		"respondent_share": "100.00",
		"created_by":       f.petitioner.String(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleFund(t *testing.T) {
	f := newFixture(t)
	obligationID := f.create(t, "500.00")

	rec := f.post(t, "/obligations/"+obligationID+"/fund", map[string]any{
		"amount":     "200.00",
		"obligor_id": f.respondent.String(),
		"obligee_id": f.petitioner.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Obligation struct {
			Status       string `json:"status"`
			AmountFunded string `json:"amount_funded"`
		} `json:"obligation"`
		Entry struct {
			EntryType string `json:"entry_type"`
		} `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "partially_funded", body.Obligation.Status)
	assert.Equal(t, "200", body.Obligation.AmountFunded)
	assert.Equal(t, "funding", body.Entry.EntryType)
}

func TestHandleFundOverfund(t *testing.T) {
	f := newFixture(t)
	obligationID := f.create(t, "500.00")

	rec := f.post(t, "/obligations/"+obligationID+"/fund", map[string]any{
		"amount":     "600.00",
		"obligor_id": f.respondent.String(),
		"obligee_id": f.petitioner.String(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "overfund", body.Error)
}

func TestHandleCancelThenFundConflicts(t *testing.T) {
	f := newFixture(t)
	obligationID := f.create(t, "500.00")

	rec := f.post(t, "/obligations/"+obligationID+"/cancel", map[string]any{
		"party_id": f.respondent.String(),
		"reason":   "duplicate request",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.post(t, "/obligations/"+obligationID+"/fund", map[string]any{
		"amount":     "100.00",
		"obligor_id": f.respondent.String(),
		"obligee_id": f.petitioner.String(),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetNotFound(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/obligations/"+id.NewObligationID().String(), nil)
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleList(t *testing.T) {
	f := newFixture(t)
	f.create(t, "500.00")
	f.create(t, "500.00")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/obligations?case_id="+f.caseID.String(), nil)
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Obligations []json.RawMessage `json:"obligations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Obligations, 2)
}

func TestHandleCaseMetrics(t *testing.T) {
	f := newFixture(t)
	f.create(t, "500.00")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics/case?case_id="+f.caseID.String(), nil)
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ByStatus map[string]int `json:"obligations_by_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ByStatus["open"])
}
