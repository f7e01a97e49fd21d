package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurisoft/contractdesk/internal/model"
)

// fakeEngine implements Engine with canned output.
type fakeEngine struct {
	fm    model.FieldMap
	cost  *model.Cost
	err   error
	calls int
}

func (f *fakeEngine) Extract(ctx context.Context, doc Document) (model.FieldMap, *model.Cost, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.fm, f.cost, nil
}

func confidentMap() model.FieldMap {
	fm := model.FieldMap{}
	for _, name := range model.FieldNames() {
		fm[name] = model.ExtractedField{Value: "x", Confidence: 90}
	}
	return fm
}

func TestAnalyze_PrefersVisionWhenAvailable(t *testing.T) {
	vision := &fakeEngine{fm: confidentMap()}
	o := NewOrchestrator(vision, NewRegexEngine())

	res, err := o.Analyze(context.Background(), pdfDoc(), "")
	require.NoError(t, err)
	assert.Equal(t, model.EngineVision, res.Engine)
	assert.Equal(t, 1, vision.calls)
}

func TestAnalyze_HonorsEnginePreference(t *testing.T) {
	vision := &fakeEngine{fm: confidentMap()}
	o := NewOrchestrator(vision, NewRegexEngine())

	// Regex preferred: vision is not called even though available. The fake
	// PDF has no text layer, so the regex path degrades to an all-null map.
	res, err := o.Analyze(context.Background(), pdfDoc(), model.EngineRegex)
	require.NoError(t, err)
	assert.Equal(t, model.EngineRegex, res.Engine)
	assert.Equal(t, 0, vision.calls)
	assert.True(t, res.NeedsReview)
}

func TestAnalyze_FallsBackExactlyOnce(t *testing.T) {
	vision := &fakeEngine{err: &EngineError{Engine: model.EngineVision, Kind: FailureProvider, Err: eris.New("down")}}
	o := NewOrchestrator(vision, NewRegexEngine())

	// Image upload: vision fails, regex cannot serve an image, so the
	// combined failure surfaces after one fallback attempt.
	doc := Document{Ref: "img-1", Data: []byte{0xFF, 0xD8}, MIME: "image/jpeg"}
	_, err := o.Analyze(context.Background(), doc, "")
	require.Error(t, err)

	var fe *FallbackError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, vision.calls)
}

func TestAnalyze_RegexPreferredImageFallsBackToVision(t *testing.T) {
	vision := &fakeEngine{fm: confidentMap()}
	o := NewOrchestrator(vision, NewRegexEngine())

	doc := Document{Ref: "img-2", Data: []byte{0xFF, 0xD8}, MIME: "image/png"}
	res, err := o.Analyze(context.Background(), doc, model.EngineRegex)
	require.NoError(t, err)
	assert.Equal(t, model.EngineVision, res.Engine)
	assert.Equal(t, 1, vision.calls)
}

func TestAnalyze_DisabledFallbackSurfacesPrimaryError(t *testing.T) {
	vision := &fakeEngine{err: &EngineError{Engine: model.EngineVision, Kind: FailureProvider, Err: eris.New("down")}}
	o := NewOrchestrator(vision, NewRegexEngine())
	o.DisableFallback()

	_, err := o.Analyze(context.Background(), pdfDoc(), "")
	require.Error(t, err)

	var fe *FallbackError
	assert.False(t, eris.As(err, &fe))

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.EngineVision, ee.Engine)
}

func TestAnalyze_NoVisionConfigured(t *testing.T) {
	o := NewOrchestrator(nil, NewRegexEngine())

	// Image upload with no vision provider: both engines unavailable.
	doc := Document{Ref: "img-3", Data: []byte{0xFF, 0xD8}, MIME: "image/jpeg"}
	_, err := o.Analyze(context.Background(), doc, "")
	require.Error(t, err)
}

func TestOverallConfidence_ExcludesNullFields(t *testing.T) {
	fm := model.FieldMap{
		model.FieldContractorName: {Value: "홍길동", Confidence: 90},
		model.FieldPhone:          {Value: "010-1234-5678", Confidence: 80},
	}.Complete()

	// 2 of 13 fields non-null with confidences {90, 80}: mean is 85,
	// independent of the null fields.
	assert.InDelta(t, 85.0, OverallConfidence(fm), 0.001)
}

func TestOverallConfidence_AllNull(t *testing.T) {
	assert.Equal(t, 0.0, OverallConfidence(model.FieldMap{}.Complete()))
}

func TestNeedsReview_Rules(t *testing.T) {
	base := func() model.FieldMap {
		fm := model.FieldMap{}
		for _, name := range model.FieldNames() {
			fm[name] = model.ExtractedField{Value: "x", Confidence: 90}
		}
		return fm
	}

	t.Run("high overall and strong required fields pass", func(t *testing.T) {
		fm := base()
		assert.False(t, NeedsReview(fm, OverallConfidence(fm)))
	})

	t.Run("overall below threshold flags", func(t *testing.T) {
		fm := base()
		for _, name := range model.FieldNames() {
			fm[name] = model.ExtractedField{Value: "x", Confidence: 80}
		}
		assert.True(t, NeedsReview(fm, OverallConfidence(fm)))
	})

	t.Run("weak required field flags despite high overall", func(t *testing.T) {
		fm := base()
		fm[model.FieldContractDate] = model.ExtractedField{Value: "2024-01-15", Confidence: 50}
		overall := OverallConfidence(fm)
		require.GreaterOrEqual(t, overall, float64(ReviewThreshold))
		assert.True(t, NeedsReview(fm, overall))
	})

	t.Run("no review implies both conditions hold", func(t *testing.T) {
		fm := base()
		overall := OverallConfidence(fm)
		if !NeedsReview(fm, overall) {
			assert.GreaterOrEqual(t, overall, float64(ReviewThreshold))
			for _, name := range model.RequiredFields {
				assert.GreaterOrEqual(t, fm[name].Confidence, FieldThreshold)
			}
		}
	})
}
