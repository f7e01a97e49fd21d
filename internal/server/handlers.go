package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nurisoft/contractdesk/internal/contract"
	"github.com/nurisoft/contractdesk/internal/extract"
	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/internal/review"
	"github.com/nurisoft/contractdesk/internal/store"
)

// allowedMIMETypes is the upload whitelist. Anything else is rejected before
// an extractor runs.
var allowedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

type extractResponse struct {
	Success           bool           `json:"success"`
	Data              model.FieldMap `json:"data"`
	Engine            model.Engine   `json:"engine"`
	OverallConfidence float64        `json:"overall_confidence"`
	NeedsReview       bool           `json:"needs_review"`
	ReviewFields      []string       `json:"review_fields,omitempty"`
	Cost              *model.Cost    `json:"cost,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "file too large"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "file too large or malformed form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "file field is required"})
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !allowedMIMETypes[mimeType] {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": "unsupported file type"})
		return
	}

	// Spool the upload to a temp file, removed on every exit path.
	tmp, err := os.CreateTemp(s.opts.UploadDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "upload spool failed"})
		return
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil {
			zap.L().Warn("temp file cleanup failed", zap.String("path", tmp.Name()), zap.Error(err))
		}
	}()

	data, err := io.ReadAll(io.TeeReader(file, tmp))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "upload read failed"})
		return
	}

	doc := extract.Document{
		Ref:      header.Filename,
		Data:     data,
		MIME:     mimeType,
		TypeHint: r.FormValue("document_type"),
	}

	result, err := s.analyzer.Analyze(r.Context(), doc, model.Engine(r.FormValue("engine")))
	if err != nil {
		zap.L().Error("extraction failed", zap.String("file", header.Filename), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "extraction failed"})
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Success:           true,
		Data:              result.FieldMap,
		Engine:            result.Engine,
		OverallConfidence: result.OverallConfidence,
		NeedsReview:       result.NeedsReview,
		ReviewFields:      review.LowTierFields(result.FieldMap),
		Cost:              result.Cost,
	})
}

// saveContractRequest mirrors contract.SaveInput with wire-friendly dates.
type saveContractRequest struct {
	ContractorName   string              `json:"contractor_name"`
	Phone            string              `json:"phone"`
	Email            string              `json:"email"`
	Address          string              `json:"address"`
	ContractDate     string              `json:"contract_date"`
	BankName         string              `json:"bank_name"`
	AccountNumber    string              `json:"account_number"`
	ContractType     string              `json:"contract_type"`
	InvestmentAmount int64               `json:"investment_amount"`
	UnitCount        int                 `json:"unit_count"`
	AnalysisFilePath string              `json:"analysis_file_path"`
	AnalysisMethod   string              `json:"analysis_method"`
	ConfidenceScore  float64             `json:"confidence_score"`
	OriginalData     model.FieldMap      `json:"original_data"`
	Corrections      model.CorrectionSet `json:"corrections"`
}

func (r saveContractRequest) toInput() (contract.SaveInput, error) {
	date, err := parseDate(r.ContractDate)
	if err != nil {
		return contract.SaveInput{}, err
	}
	return contract.SaveInput{
		ContractorName:   r.ContractorName,
		Phone:            r.Phone,
		Email:            r.Email,
		Address:          r.Address,
		ContractDate:     date,
		BankName:         r.BankName,
		AccountNumber:    r.AccountNumber,
		ContractType:     r.ContractType,
		InvestmentAmount: r.InvestmentAmount,
		UnitCount:        r.UnitCount,
		AnalysisFilePath: r.AnalysisFilePath,
		AnalysisMethod:   model.Engine(r.AnalysisMethod),
		ConfidenceScore:  r.ConfidenceScore,
		OriginalData:     r.OriginalData,
		Corrections:      r.Corrections,
	}, nil
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	var req saveContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid contract_date"})
		return
	}

	c, err := s.contracts.Save(r.Context(), in)
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	filter := store.ContractFilter{
		ContractorName: r.URL.Query().Get("contractor_name"),
		ContractType:   r.URL.Query().Get("contract_type"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	contracts, err := s.store.ListContracts(r.Context(), filter)
	if err != nil {
		writeContractError(w, err)
		return
	}
	if contracts == nil {
		contracts = []model.Contract{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contracts": contracts})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	var req saveContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid contract_date"})
		return
	}

	c, err := s.contracts.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteContract(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeContractError(w, err)
		return
	}
	if entries == nil {
		entries = []model.PaymentEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": entries})
}

func (s *Server) handleRegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	entries, err := s.contracts.RegenerateSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": entries})
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status   string `json:"status"`
		PaidDate string `json:"paid_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	var paidDate *time.Time
	if req.PaidDate != "" {
		d, err := parseDate(req.PaidDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid paid_date"})
			return
		}
		paidDate = &d
	}

	err := s.contracts.MarkPayment(r.Context(), chi.URLParam(r, "id"), model.PaymentStatus(req.Status), paidDate)
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// writeContractError maps service and store errors onto the wire contract.
// The duplicate shapes are fixed for client compatibility.
func writeContractError(w http.ResponseWriter, err error) {
	var vErr *contract.ValidationError
	switch {
	case eris.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Error(), "fields": vErr.Fields})
	case eris.Is(err, contract.ErrDuplicateContent):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "같은 계약자와 계약일의 계약이 이미 존재합니다", "duplicateContent": true})
	case eris.Is(err, store.ErrDuplicateNumber):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "계약번호가 중복되었습니다", "duplicate": true})
	case eris.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

// parseDate accepts both date-only and RFC3339 timestamps.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "server: parse date %q", s)
	}
	return t, nil
}
