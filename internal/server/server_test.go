package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurisoft/contractdesk/internal/contract"
	"github.com/nurisoft/contractdesk/internal/extract"
	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/internal/store"
	"github.com/nurisoft/contractdesk/internal/template"
)

const testTemplates = `
templates:
  - name: 표준형
    period_months: 12
    first_payment_offset_months: 1
    interval_months: 1
    unit_amount: 10000000
    per_unit_rate: 1500000
    other_support: 100000
`

type fakeAnalyzer struct {
	result *model.ExtractionResult
	err    error
	calls  int
	last   extract.Document
}

func (f *fakeAnalyzer) Analyze(_ context.Context, doc extract.Document, _ model.Engine) (*model.ExtractionResult, error) {
	f.calls++
	f.last = doc
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type memStore struct {
	contracts map[string]*model.Contract
	schedules map[string][]model.PaymentEntry
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{contracts: map[string]*model.Contract{}, schedules: map[string][]model.PaymentEntry{}}
}

func (m *memStore) CreateContract(_ context.Context, c *model.Contract) error {
	m.nextID++
	if c.ID == "" {
		c.ID = fmt.Sprintf("ct-%d", m.nextID)
	}
	cp := *c
	m.contracts[c.ID] = &cp
	return nil
}

func (m *memStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return nil, eris.Wrap(store.ErrNotFound, "contract")
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListContracts(context.Context, store.ContractFilter) ([]model.Contract, error) {
	var out []model.Contract
	for _, c := range m.contracts {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memStore) UpdateContract(_ context.Context, c *model.Contract) error {
	if _, ok := m.contracts[c.ID]; !ok {
		return eris.Wrap(store.ErrNotFound, "contract")
	}
	cp := *c
	m.contracts[c.ID] = &cp
	return nil
}

func (m *memStore) DeleteContract(_ context.Context, id string) error {
	if _, ok := m.contracts[id]; !ok {
		return eris.Wrap(store.ErrNotFound, "contract")
	}
	delete(m.contracts, id)
	return nil
}

func (m *memStore) FindByContent(_ context.Context, name string, date time.Time) (*model.Contract, error) {
	for _, c := range m.contracts {
		if c.ContractorName == name && c.ContractDate.Format("2006-01-02") == date.Format("2006-01-02") {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ReplaceSchedule(_ context.Context, contractID string, entries []model.PaymentEntry) error {
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = fmt.Sprintf("%s-p%d", contractID, entries[i].PaymentNumber)
		}
		entries[i].ContractID = contractID
	}
	m.schedules[contractID] = entries
	return nil
}

func (m *memStore) ListSchedule(_ context.Context, contractID string) ([]model.PaymentEntry, error) {
	return m.schedules[contractID], nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, paymentID string, status model.PaymentStatus, paidDate *time.Time) error {
	for id, entries := range m.schedules {
		for i := range entries {
			if entries[i].ID == paymentID {
				entries[i].Status = status
				entries[i].PaidDate = paidDate
				m.schedules[id] = entries
				return nil
			}
		}
	}
	return eris.Wrap(store.ErrNotFound, "payment")
}

func (m *memStore) SaveCorrections(context.Context, string, model.CorrectionSet) error { return nil }
func (m *memStore) ListCorrections(context.Context, string) (model.CorrectionSet, error) {
	return nil, nil
}
func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func newTestServer(t *testing.T, analyzer *fakeAnalyzer) (*Server, *memStore) {
	t.Helper()
	tpls, err := template.Parse([]byte(testTemplates))
	require.NoError(t, err)
	st := newMemStore()
	svc := contract.NewService(st, tpls)
	return New(analyzer, svc, st, Options{MaxUploadBytes: 1 << 20, UploadDir: t.TempDir()}), st
}

func confidentResult() *model.ExtractionResult {
	fm := model.FieldMap{
		model.FieldContractorName: {Value: "홍길동", Confidence: 95},
		model.FieldPhone:          {Value: "010-1234-5678", Confidence: 90},
	}.Complete()
	return &model.ExtractionResult{
		FieldMap:          fm,
		Engine:            model.EngineVision,
		OverallConfidence: 92.5,
		NeedsReview:       false,
		Cost:              &model.Cost{InputTokens: 1200, OutputTokens: 300, TotalUSD: 0.0081},
	}
}

func multipartUpload(t *testing.T, field, filename, mimeType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestExtract_Success(t *testing.T) {
	analyzer := &fakeAnalyzer{result: confidentResult()}
	srv, _ := newTestServer(t, analyzer)

	buf, contentType := multipartUpload(t, "file", "contract.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", buf)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "vision", body["engine"])
	assert.Equal(t, 92.5, body["overall_confidence"])
	assert.Equal(t, false, body["needs_review"])
	assert.NotNil(t, body["cost"])
	assert.NotNil(t, body["data"])

	// Null fields are flagged for review; extracted fields are not.
	reviewFields, ok := body["review_fields"].([]any)
	require.True(t, ok)
	assert.Contains(t, reviewFields, model.FieldEmail)
	assert.NotContains(t, reviewFields, model.FieldContractorName)

	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, "contract.pdf", analyzer.last.Ref)
	assert.Equal(t, "application/pdf", analyzer.last.MIME)
	assert.Equal(t, []byte("%PDF-1.4 test"), analyzer.last.Data)
}

func TestExtract_RejectsBadMIME(t *testing.T) {
	analyzer := &fakeAnalyzer{result: confidentResult()}
	srv, _ := newTestServer(t, analyzer)

	buf, contentType := multipartUpload(t, "file", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", buf)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Zero(t, analyzer.calls, "extractor must not run on rejected input")
}

func TestExtract_RejectsOversize(t *testing.T) {
	analyzer := &fakeAnalyzer{result: confidentResult()}
	srv, _ := newTestServer(t, analyzer)

	big := bytes.Repeat([]byte("a"), 2<<20)
	buf, contentType := multipartUpload(t, "file", "contract.pdf", "application/pdf", big)
	req := httptest.NewRequest(http.MethodPost, "/api/extract", buf)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, analyzer.calls)
}

func TestExtract_MissingFile(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("engine", "regex"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtract_AnalyzerFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{err: eris.New("engines down")}
	srv, _ := newTestServer(t, analyzer)

	buf, contentType := multipartUpload(t, "file", "contract.pdf", "application/pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/extract", buf)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func saveRequestBody() string {
	return `{
		"contractor_name": "홍길동",
		"phone": "010-1234-5678",
		"contract_date": "2024-01-15",
		"contract_type": "표준형",
		"investment_amount": 20000000,
		"unit_count": 2,
		"analysis_method": "vision",
		"confidence_score": 92.5
	}`
}

func postJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateContract_Success(t *testing.T) {
	srv, st := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodPost, "/api/contracts", saveRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var c model.Contract
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Regexp(t, `^CT-20240115-\d{4}$`, c.ContractNumber)
	assert.Equal(t, int64(3_100_000), c.TotalMonthlyPayment)
	assert.NotEmpty(t, st.schedules[c.ID])
}

func TestCreateContract_DuplicateContentShape(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodPost, "/api/contracts", saveRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, srv, http.MethodPost, "/api/contracts", saveRequestBody())
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["duplicateContent"])
	assert.NotEmpty(t, body["error"])
	_, hasDuplicate := body["duplicate"]
	assert.False(t, hasDuplicate)
}

func TestCreateContract_ValidationFields(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodPost, "/api/contracts", `{
		"contractor_name": "",
		"phone": "",
		"contract_date": "2024-01-15",
		"contract_type": "표준형",
		"investment_amount": 0
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, model.FieldContractorName)
	assert.Contains(t, fields, model.FieldPhone)
	assert.Contains(t, fields, model.FieldInvestmentAmount)
}

func TestGetContract_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodGet, "/api/contracts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContractLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodPost, "/api/contracts", saveRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var c model.Contract
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))

	// Read back.
	rec = postJSON(t, srv, http.MethodGet, "/api/contracts/"+c.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// List.
	rec = postJSON(t, srv, http.MethodGet, "/api/contracts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Update with a larger investment: terms recompute.
	updated := strings.Replace(saveRequestBody(), "20000000", "30000000", 1)
	rec = postJSON(t, srv, http.MethodPut, "/api/contracts/"+c.ID, updated)
	require.Equal(t, http.StatusOK, rec.Code)
	var after model.Contract
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, int64(4_600_000), after.TotalMonthlyPayment)

	// Delete.
	rec = postJSON(t, srv, http.MethodDelete, "/api/contracts/"+c.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postJSON(t, srv, http.MethodGet, "/api/contracts/"+c.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	srv, st := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodPost, "/api/contracts", saveRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var c model.Contract
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))

	rec = postJSON(t, srv, http.MethodGet, "/api/contracts/"+c.ID+"/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	entries, ok := body["schedule"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 11)

	// Regenerate: paid marks are wiped.
	first := st.schedules[c.ID][0]
	rec = postJSON(t, srv, http.MethodPatch, "/api/payments/"+first.ID, `{"status":"paid","paid_date":"2024-02-16"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, srv, http.MethodPost, "/api/contracts/"+c.ID+"/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PaymentPending, st.schedules[c.ID][0].Status)
}

func TestUpdatePayment_Shapes(t *testing.T) {
	srv, st := newTestServer(t, &fakeAnalyzer{})

	rec := postJSON(t, srv, http.MethodPost, "/api/contracts", saveRequestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var c model.Contract
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	first := st.schedules[c.ID][0]

	rec = postJSON(t, srv, http.MethodPatch, "/api/payments/"+first.ID, `{"status":"paid","paid_date":"2024-02-16"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := st.schedules[c.ID][0]
	assert.Equal(t, model.PaymentPaid, got.Status)
	require.NotNil(t, got.PaidDate)

	rec = postJSON(t, srv, http.MethodPatch, "/api/payments/missing", `{"status":"paid"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = postJSON(t, srv, http.MethodPatch, "/api/payments/"+first.ID, `{"status":"refunded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
