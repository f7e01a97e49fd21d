package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nurisoft/contractdesk/internal/cost"
	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/internal/resilience"
	"github.com/nurisoft/contractdesk/pkg/anthropic"
)

// Document is an uploaded contract document handed to an engine.
type Document struct {
	Ref      string // opaque handle, assigned at upload time
	Data     []byte
	MIME     string // application/pdf, image/jpeg, image/png
	TypeHint string // optional document-type hint from the caller
}

// IsPDF reports whether the document is a PDF (vs a rendered image).
func (d Document) IsPDF() bool {
	return d.MIME == "application/pdf"
}

// VisionEngine extracts contract fields by sending the document to a
// multimodal model and parsing its structured JSON reply. Confidence values
// are model-reported and taken verbatim.
type VisionEngine struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	calc      *cost.Calculator
	retry     resilience.Policy
}

// NewVisionEngine creates the vision extractor. limiter may be nil to disable
// client-side rate limiting.
func NewVisionEngine(client anthropic.Client, modelID string, calc *cost.Calculator, limiter *rate.Limiter) *VisionEngine {
	retry := resilience.DefaultPolicy()
	retry.OnRetry = resilience.RetryLogger("anthropic", "vision extract")

	return &VisionEngine{
		client:    client,
		model:     modelID,
		maxTokens: 2048,
		limiter:   limiter,
		calc:      calc,
		retry:     retry,
	}
}

// SetMaxTokens overrides the default response token cap. Values of zero or
// less are ignored.
func (e *VisionEngine) SetMaxTokens(n int64) {
	if n > 0 {
		e.maxTokens = n
	}
}

// visionField mirrors the per-field JSON object the model is instructed to emit.
type visionField struct {
	Value      any `json:"value"`
	Confidence int `json:"confidence"`
}

// Extract issues one model request for the document and parses the reply into
// a complete field map. A provider error or an unparseable reply is a hard
// typed failure; this engine never returns a partial map.
func (e *VisionEngine) Extract(ctx context.Context, doc Document) (model.FieldMap, *model.Cost, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, nil, &EngineError{Engine: model.EngineVision, Kind: FailureProvider, Err: err}
		}
	}

	block := anthropic.Block{Type: "document", Data: doc.Data}
	if !doc.IsPDF() {
		block = anthropic.Block{Type: "image", MediaType: doc.MIME, Data: doc.Data}
	}

	req := anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    visionSystemPrompt,
		Messages: []anthropic.Message{{
			Role: "user",
			Blocks: []anthropic.Block{
				block,
				{Type: "text", Text: buildVisionPrompt(doc.TypeHint)},
			},
		}},
	}

	resp, err := resilience.Do(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, nil, &EngineError{Engine: model.EngineVision, Kind: FailureProvider, Err: err}
	}

	fm, err := parseVisionReply(resp.Text())
	if err != nil {
		return nil, nil, &EngineError{Engine: model.EngineVision, Kind: FailureBadReply, Err: err}
	}

	c := &model.Cost{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalUSD:     e.calc.Claude(e.model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}

	zap.L().Info("vision extraction complete",
		zap.String("model", e.model),
		zap.String("doc_ref", doc.Ref),
		zap.Int64("input_tokens", c.InputTokens),
		zap.Int64("output_tokens", c.OutputTokens),
		zap.Float64("cost_usd", c.TotalUSD),
	)

	return fm, c, nil
}

const visionSystemPrompt = `당신은 한국어 계약서에서 정보를 추출하는 전문가입니다. ` +
	`응답은 반드시 JSON 객체 하나만 출력하고 다른 텍스트는 출력하지 마십시오.`

func buildVisionPrompt(typeHint string) string {
	var sb strings.Builder

	sb.WriteString("이 계약서 문서에서 다음 항목을 추출하십시오:\n")
	for _, name := range model.FieldNames() {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}

	if typeHint != "" {
		fmt.Fprintf(&sb, "\n문서 유형: %s\n", typeHint)
	}

	sb.WriteString(`
규칙:
- 각 항목에 대해 {"value": 값, "confidence": 0-100 정수} 형태로 답하십시오.
- 문서에 없는 항목은 value를 null, confidence를 0으로 하십시오.
- 날짜는 YYYY-MM-DD 형식, 금액은 원 단위 정수로 변환하십시오.
- 항목 이름을 키로 하는 JSON 객체 하나만 출력하십시오.`)

	return sb.String()
}

// parseVisionReply strips any code-fence wrapping and parses the model reply
// as a field map. Malformed JSON fails outright; fields are never guessed
// from unparseable text.
func parseVisionReply(text string) (model.FieldMap, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("vision: empty reply")
	}

	var raw map[string]visionField
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, eris.Wrap(err, "vision: parse reply")
	}

	fm := model.FieldMap{}
	for name, f := range raw {
		fm[name] = model.ExtractedField{Value: f.Value, Confidence: f.Confidence}
	}
	return fm.Complete(), nil
}

// cleanJSON strips markdown fences and slices the reply down to the outermost
// JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
