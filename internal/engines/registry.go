package engines

import (
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
)

// RegistryConfig lists the engines that initialized. A nil engine is
// unavailable; Reasons explains why for health reporting.
type RegistryConfig struct {
	Tesseract    Engine
	Span         Engine
	SpanStandard Engine
	Seq2Seq      Engine
	Reasons      map[ocr.EngineKind]string
}

// Registry is built once at startup and only read afterwards, so it needs
// no locking.
type Registry struct {
	byKind       map[ocr.EngineKind]Engine
	spanStandard Engine
	availability ocr.EngineAvailability
	reasons      map[ocr.EngineKind]string
}

// NewRegistry freezes the given engines
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		byKind:       make(map[ocr.EngineKind]Engine, len(ocr.EngineOrder)),
		availability: make(ocr.EngineAvailability, len(ocr.EngineOrder)),
		reasons:      make(map[ocr.EngineKind]string, len(cfg.Reasons)),
	}

	for kind, e := range map[ocr.EngineKind]Engine{
		ocr.TesseractLike: cfg.Tesseract,
		ocr.SpanDetector:  cfg.Span,
		ocr.Seq2SeqVision: cfg.Seq2Seq,
	} {
		r.availability[kind] = e != nil
		if e != nil {
			r.byKind[kind] = e
		}
	}
	if cfg.Span != nil {
		r.spanStandard = cfg.SpanStandard
	}
	for k, v := range cfg.Reasons {
		r.reasons[k] = v
	}
	return r
}

// Available reports the startup outcome for kind
func (r *Registry) Available(kind ocr.EngineKind) bool {
	return r.availability[kind]
}

// Availability returns a copy of the availability map
func (r *Registry) Availability() ocr.EngineAvailability {
	out := make(ocr.EngineAvailability, len(r.availability))
	for k, v := range r.availability {
		out[k] = v
	}
	return out
}

// Engine returns the engine for kind or an EngineUnavailable error
func (r *Registry) Engine(kind ocr.EngineKind) (Engine, error) {
	e, ok := r.byKind[kind]
	if !ok {
		return nil, errors.NewEngineUnavailableError("", kind.String())
	}
	return e, nil
}

// Span returns the span detector in the requested mode
func (r *Registry) Span(mode SpanMode) (Engine, error) {
	if mode == SpanStandard {
		if r.spanStandard == nil {
			return nil, errors.NewEngineUnavailableError("", ocr.SpanDetector.String()+"-standard")
		}
		return r.spanStandard, nil
	}
	return r.Engine(ocr.SpanDetector)
}

// Engines returns available engines in the fixed tie-break order
func (r *Registry) Engines() []Engine {
	out := make([]Engine, 0, len(r.byKind))
	for _, kind := range ocr.EngineOrder {
		if e, ok := r.byKind[kind]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Describe returns, per public label, the backend name or the reason it is
// unavailable
func (r *Registry) Describe() map[string]string {
	out := make(map[string]string, len(ocr.EngineOrder))
	for _, kind := range ocr.EngineOrder {
		if e, ok := r.byKind[kind]; ok {
			out[kind.String()] = e.Name()
			continue
		}
		reason := r.reasons[kind]
		if reason == "" {
			reason = "not configured"
		}
		out[kind.String()] = "unavailable: " + reason
	}
	return out
}
