package llm

// UsageTally collects per-call token counters while a backend works through a
// logical generation. One recorded call yields ScalarMetrics; several yield
// AggregatedMetrics with parallel per-call lists.
type UsageTally struct {
	inputs  []int64
	outputs []int64
	details []CacheDetail
}

// Add records the counters of one internal model call.
func (t *UsageTally) Add(input, output, cached int64) {
	t.inputs = append(t.inputs, input)
	t.outputs = append(t.outputs, output)
	t.details = append(t.details, CacheDetail{CachedTokens: cached})
}

// Calls returns how many model calls have been recorded.
func (t *UsageTally) Calls() int { return len(t.inputs) }

// Metrics returns the collected usage in the shape matching the call count,
// or nil when nothing was recorded.
func (t *UsageTally) Metrics() GenerationMetrics {
	switch len(t.inputs) {
	case 0:
		return nil
	case 1:
		return ScalarMetrics{
			InputTokens:         t.inputs[0],
			OutputTokens:        t.outputs[0],
			PromptTokensDetails: t.details,
		}
	default:
		return AggregatedMetrics{
			InputTokens:         t.inputs,
			OutputTokens:        t.outputs,
			PromptTokensDetails: t.details,
		}
	}
}
