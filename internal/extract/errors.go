package extract

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/nurisoft/contractdesk/internal/model"
)

var (
	errNoVision    = eris.New("no vision provider configured")
	errImageUpload = eris.New("regex engine needs text, image upload has none")
)

// FailureKind classifies a hard extraction failure.
type FailureKind string

const (
	// FailureProvider: the external provider call failed (network, 5xx).
	FailureProvider FailureKind = "provider"
	// FailureBadReply: the provider replied but the reply was unparseable.
	// Never degraded into a partial field map.
	FailureBadReply FailureKind = "bad_reply"
	// FailureUnsupported: the engine cannot process this document kind
	// (e.g. regex fallback on an image upload).
	FailureUnsupported FailureKind = "unsupported"
)

// EngineError is a typed hard failure from one extraction engine. Extractor
// failures never crash the request handler; they resolve to this error for
// the orchestrator and caller to inspect.
type EngineError struct {
	Engine model.Engine
	Kind   FailureKind
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s engine: %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// FallbackError reports that both the preferred engine and its single
// fallback attempt failed.
type FallbackError struct {
	Primary  error
	Fallback error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("extraction failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *FallbackError) Unwrap() error {
	return e.Primary
}
