package model

// Field names form the fixed extraction field set. Keys are the Korean labels
// as they appear in source contracts; every FieldMap covers all of them.
const (
	FieldContractorName   = "계약자명"
	FieldPhone            = "연락처"
	FieldEmail            = "이메일"
	FieldAddress          = "주소"
	FieldContractDate     = "계약일"
	FieldContractEndDate  = "계약종료일"
	FieldBankName         = "은행명"
	FieldAccountNumber    = "계좌번호"
	FieldContractType     = "계약유형"
	FieldInvestmentAmount = "투자금액"
	FieldMonthlyPayment   = "월지급액"
	FieldOtherSupport     = "기타지원금"
	FieldUnitCount        = "구좌수"
)

// fieldNames is the canonical field order used when rendering maps.
var fieldNames = []string{
	FieldContractorName,
	FieldPhone,
	FieldEmail,
	FieldAddress,
	FieldContractDate,
	FieldContractEndDate,
	FieldBankName,
	FieldAccountNumber,
	FieldContractType,
	FieldInvestmentAmount,
	FieldMonthlyPayment,
	FieldOtherSupport,
	FieldUnitCount,
}

// FieldNames returns the fixed field set in canonical order.
func FieldNames() []string {
	out := make([]string, len(fieldNames))
	copy(out, fieldNames)
	return out
}

// RequiredFields are the fields that must be confidently extracted (or
// corrected) before a contract can be saved without review.
var RequiredFields = []string{
	FieldContractorName,
	FieldPhone,
	FieldContractDate,
	FieldInvestmentAmount,
}

// ExtractedField is one extractor output: a value (string, number, or nil for
// not found) plus a 0-100 confidence. Immutable once produced; corrections
// create new values rather than mutating these in place.
type ExtractedField struct {
	Value      any `json:"value"`
	Confidence int `json:"confidence"`
}

// IsNull reports whether the extractor found no value for the field.
func (f ExtractedField) IsNull() bool {
	return f.Value == nil
}

// FieldMap maps field names to extracted fields.
type FieldMap map[string]ExtractedField

// Complete returns a copy of the map guaranteed to contain every name in the
// fixed field set, defaulting missing keys to a null value with confidence 0.
// No partial map escapes an extractor boundary.
func (m FieldMap) Complete() FieldMap {
	out := make(FieldMap, len(fieldNames))
	for _, name := range fieldNames {
		if f, ok := m[name]; ok {
			out[name] = f
		} else {
			out[name] = ExtractedField{Value: nil, Confidence: 0}
		}
	}
	return out
}

// Clone returns a shallow copy of the map.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Engine identifies which extractor produced a result.
type Engine string

const (
	EngineRegex  Engine = "regex"
	EngineVision Engine = "vision"
)

// Cost carries token and dollar accounting for a metered extraction call.
type Cost struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalUSD     float64 `json:"total_usd"`
}

// ExtractionResult is the orchestrator output for one analyze request.
// Created once per request and never mutated; a retry supersedes it.
type ExtractionResult struct {
	FieldMap          FieldMap `json:"data"`
	Engine            Engine   `json:"engine"`
	OverallConfidence float64  `json:"overall_confidence"`
	NeedsReview       bool     `json:"needs_review"`
	SourceDocumentRef string   `json:"source_document_ref"`
	Cost              *Cost    `json:"cost,omitempty"`
}

// CorrectionSet records user edits made during review: field name to corrected
// value, containing only fields whose value differs from the original
// extraction. Persisted as an audit trail, never mutated after creation.
type CorrectionSet map[string]any
