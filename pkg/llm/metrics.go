package llm

// TokenCounts holds normalized token counters for one accounted generation.
type TokenCounts struct {
	Input  int64
	Output int64
	Cached int64
}

// CacheDetail is the per-call prompt cache breakdown reported by a backend.
type CacheDetail struct {
	CachedTokens int64
}

// GenerationMetrics is the terminal usage report of a generation source.
// Backends report either a single call's counters (ScalarMetrics) or the
// parallel per-call lists of a multi-call generation (AggregatedMetrics);
// Normalize collapses both shapes into TokenCounts before any accounting.
type GenerationMetrics interface {
	Normalize() TokenCounts
}

// ScalarMetrics holds the counters of a single model call.
type ScalarMetrics struct {
	InputTokens         int64
	OutputTokens        int64
	PromptTokensDetails []CacheDetail
}

// Normalize implements GenerationMetrics. Cached tokens come from the first
// cache detail entry when present; anything missing or negative counts as 0.
func (m ScalarMetrics) Normalize() TokenCounts {
	counts := TokenCounts{
		Input:  clampTokens(m.InputTokens),
		Output: clampTokens(m.OutputTokens),
	}
	if len(m.PromptTokensDetails) > 0 {
		counts.Cached = clampTokens(m.PromptTokensDetails[0].CachedTokens)
	}
	return counts
}

// AggregatedMetrics holds parallel per-call counter lists for a logical
// generation that spanned multiple internal model calls.
type AggregatedMetrics struct {
	InputTokens         []int64
	OutputTokens        []int64
	PromptTokensDetails []CacheDetail
}

// Normalize implements GenerationMetrics. Each list is summed; cached tokens
// are summed across the per-call cache details.
func (m AggregatedMetrics) Normalize() TokenCounts {
	var counts TokenCounts
	for _, v := range m.InputTokens {
		counts.Input += clampTokens(v)
	}
	for _, v := range m.OutputTokens {
		counts.Output += clampTokens(v)
	}
	for _, d := range m.PromptTokensDetails {
		counts.Cached += clampTokens(d.CachedTokens)
	}
	return counts
}

func clampTokens(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
