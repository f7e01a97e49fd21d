package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/pkg/pdftext"
)

// Engine extracts a field map from an uploaded document. The vision extractor
// sits behind this interface so the orchestrator depends only on the
// capability, not the provider.
type Engine interface {
	Extract(ctx context.Context, doc Document) (model.FieldMap, *model.Cost, error)
}

// Orchestrator selects an engine, normalizes its output, and scores the
// result for review.
type Orchestrator struct {
	vision     Engine // nil when no vision provider is configured
	regex      *RegexEngine
	noFallback bool
}

// NewOrchestrator wires the engines. vision may be nil.
func NewOrchestrator(vision Engine, regex *RegexEngine) *Orchestrator {
	return &Orchestrator{vision: vision, regex: regex}
}

// DisableFallback makes Analyze surface the primary engine's error directly
// instead of retrying with the other engine.
func (o *Orchestrator) DisableFallback() {
	o.noFallback = true
}

// Analyze runs extraction for one document. If preferred names an engine it is
// used; otherwise the vision engine is preferred when available. On failure of
// the chosen engine exactly one fallback attempt is made with the other engine
// before the combined failure is surfaced.
func (o *Orchestrator) Analyze(ctx context.Context, doc Document, preferred model.Engine) (*model.ExtractionResult, error) {
	primary := o.pickEngine(preferred)

	res, primaryErr := o.runEngine(ctx, primary, doc)
	if primaryErr == nil {
		return res, nil
	}
	if o.noFallback {
		return nil, primaryErr
	}

	fallback := otherEngine(primary)
	zap.L().Warn("extraction engine failed, attempting fallback",
		zap.String("engine", string(primary)),
		zap.String("fallback", string(fallback)),
		zap.String("doc_ref", doc.Ref),
		zap.Error(primaryErr),
	)

	res, fallbackErr := o.runEngine(ctx, fallback, doc)
	if fallbackErr == nil {
		return res, nil
	}

	return nil, &FallbackError{Primary: primaryErr, Fallback: fallbackErr}
}

func (o *Orchestrator) pickEngine(preferred model.Engine) model.Engine {
	switch preferred {
	case model.EngineRegex, model.EngineVision:
		return preferred
	}
	// Vision gives richer coverage (including contract-type classification)
	// when a provider is configured.
	if o.vision != nil {
		return model.EngineVision
	}
	return model.EngineRegex
}

func otherEngine(e model.Engine) model.Engine {
	if e == model.EngineVision {
		return model.EngineRegex
	}
	return model.EngineVision
}

func (o *Orchestrator) runEngine(ctx context.Context, engine model.Engine, doc Document) (*model.ExtractionResult, error) {
	var (
		fm  model.FieldMap
		c   *model.Cost
		err error
	)

	switch engine {
	case model.EngineVision:
		if o.vision == nil {
			return nil, &EngineError{Engine: model.EngineVision, Kind: FailureUnsupported,
				Err: errNoVision}
		}
		fm, c, err = o.vision.Extract(ctx, doc)
	default:
		fm, err = o.runRegex(doc)
	}
	if err != nil {
		return nil, err
	}

	return o.score(fm, engine, doc.Ref, c), nil
}

// runRegex feeds the regex engine. PDFs go through plain-text extraction;
// image uploads have no text source, so the regex engine cannot serve them.
func (o *Orchestrator) runRegex(doc Document) (model.FieldMap, error) {
	if !doc.IsPDF() {
		return nil, &EngineError{Engine: model.EngineRegex, Kind: FailureUnsupported,
			Err: errImageUpload}
	}

	text, err := pdftext.FromBytes(doc.Data)
	if err != nil {
		// Unreadable or image-only PDFs degrade to an all-null map rather
		// than failing; the result is surfaced through needs_review.
		zap.L().Warn("pdf text extraction failed, degrading to empty",
			zap.String("doc_ref", doc.Ref),
			zap.Error(err))
		text = ""
	}

	return o.regex.ExtractText(text), nil
}

// score normalizes the field map and computes the review verdict.
func (o *Orchestrator) score(fm model.FieldMap, engine model.Engine, ref string, c *model.Cost) *model.ExtractionResult {
	fm = fm.Complete()
	overall := OverallConfidence(fm)

	return &model.ExtractionResult{
		FieldMap:          fm,
		Engine:            engine,
		OverallConfidence: overall,
		NeedsReview:       NeedsReview(fm, overall),
		SourceDocumentRef: ref,
		Cost:              c,
	}
}

// OverallConfidence is the arithmetic mean of confidences over fields with a
// non-null value. Fields the engine did not find are excluded so a sparse
// document does not drag down the score of fields that were found; the sparse
// case is still flagged through the per-field review rule.
func OverallConfidence(fm model.FieldMap) float64 {
	var sum, n int
	for _, f := range fm {
		if f.IsNull() {
			continue
		}
		sum += f.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// NeedsReview is true when the overall confidence is below the review
// threshold, or when any field required for saving scored below the per-field
// threshold.
func NeedsReview(fm model.FieldMap, overall float64) bool {
	if overall < ReviewThreshold {
		return true
	}
	for _, name := range model.RequiredFields {
		if fm[name].Confidence < FieldThreshold {
			return true
		}
	}
	return false
}
