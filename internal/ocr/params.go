package ocr

// SpanParams are the detector knobs forwarded to span backends
type SpanParams struct {
	Decoder   string  `json:"decoder"`
	BeamWidth int     `json:"beam_width"`
	WidthThs  float64 `json:"width_ths"`
	HeightThs float64 `json:"height_ths"`
	Paragraph bool    `json:"paragraph"`
}

// EnhancedSpanParams favors accuracy over speed
func EnhancedSpanParams() SpanParams {
	return SpanParams{
		Decoder:   "beamsearch",
		BeamWidth: 5,
		WidthThs:  0.7,
		HeightThs: 0.7,
		Paragraph: false,
	}
}

// StandardSpanParams are the backend defaults
func StandardSpanParams() SpanParams {
	return SpanParams{
		Decoder:   "greedy",
		BeamWidth: 5,
		WidthThs:  0.5,
		HeightThs: 0.5,
		Paragraph: false,
	}
}

// GenerationParams constrain sequence-to-sequence decoding
type GenerationParams struct {
	NumBeams          int     `json:"num_beams"`
	MaxLength         int     `json:"max_length"`
	EarlyStopping     bool    `json:"early_stopping"`
	DoSample          bool    `json:"do_sample"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	LengthPenalty     float64 `json:"length_penalty"`
}

// DefaultGenerationParams is beam search with a mild repetition penalty
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		NumBeams:          5,
		MaxLength:         256,
		EarlyStopping:     true,
		DoSample:          false,
		RepetitionPenalty: 1.1,
		LengthPenalty:     1.0,
	}
}
