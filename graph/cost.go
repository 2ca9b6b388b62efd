package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/langgraph-travel/graph/model"
)

// ModelPricing is the USD cost per million input and output tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the models the travel and RAG flows default to.
// Unknown models are recorded with zero cost.
var defaultModelPricing = map[string]ModelPricing{
	"claude-3-5-haiku-latest":    {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-5-sonnet-latest":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-2.5-flash":           {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// LLMCall is one recorded model invocation.
type LLMCall struct {
	ThreadID     string
	NodeID       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates token usage and cost of model calls made by
// nodes, broken down by model and by thread.
//
// Nodes that call a ChatModel record the returned usage:
//
//	out, err := chat.Chat(ctx, msgs, specs)
//	tracker.Record(cfg.ThreadID, "assistant", out)
//
// All methods are safe for concurrent use. A nil *CostTracker ignores
// every call, so nodes can record unconditionally.
type CostTracker struct {
	mu          sync.RWMutex
	pricing     map[string]ModelPricing
	calls       []LLMCall
	total       float64
	byModel     map[string]float64
	byThread    map[string]float64
	inputTotal  int64
	outputTotal int64
	enabled     bool
}

// NewCostTracker returns a tracker using the default pricing table.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing:  pricing,
		byModel:  make(map[string]float64),
		byThread: make(map[string]float64),
		enabled:  true,
	}
}

// Record stores the usage of one chat completion. The model name is taken
// from out.Model; calls without usage are still counted.
func (ct *CostTracker) Record(threadID, nodeID string, out model.ChatOut) {
	ct.RecordLLMCall(threadID, nodeID, out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)
}

// RecordLLMCall stores a single model invocation and returns its cost.
func (ct *CostTracker) RecordLLMCall(threadID, nodeID, modelName string, inputTokens, outputTokens int) float64 {
	if ct == nil {
		return 0
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.enabled {
		return 0
	}

	p := ct.pricing[modelName]
	cost := float64(inputTokens)/1_000_000*p.InputPer1M + float64(outputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		ThreadID:     threadID,
		NodeID:       nodeID,
		Model:        modelName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})
	ct.total += cost
	ct.byModel[modelName] += cost
	ct.byThread[threadID] += cost
	ct.inputTotal += int64(inputTokens)
	ct.outputTotal += int64(outputTokens)

	return cost
}

// TotalCost returns the cumulative cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	if ct == nil {
		return 0
	}
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// ThreadCost returns the cumulative cost of one thread.
func (ct *CostTracker) ThreadCost(threadID string) float64 {
	if ct == nil {
		return 0
	}
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byThread[threadID]
}

// CostByModel returns a copy of the per-model breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	if ct == nil {
		return nil
	}
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.byModel))
	for m, c := range ct.byModel {
		costs[m] = c
	}
	return costs
}

// Calls returns the recorded calls, optionally filtered to one thread.
func (ct *CostTracker) Calls(threadID string) []LLMCall {
	if ct == nil {
		return nil
	}
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make([]LLMCall, 0, len(ct.calls))
	for _, c := range ct.calls {
		if threadID == "" || c.ThreadID == threadID {
			out = append(out, c)
		}
	}
	return out
}

// TokenUsage returns the total input and output tokens.
func (ct *CostTracker) TokenUsage() (inputTokens, outputTokens int64) {
	if ct == nil {
		return 0, 0
	}
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTotal, ct.outputTotal
}

// SetPricing overrides the price of a model.
func (ct *CostTracker) SetPricing(modelName string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[modelName] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops recording until Enable is called.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording after Disable.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded calls and totals. Pricing is kept.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.calls = nil
	ct.total = 0
	ct.byModel = make(map[string]float64)
	ct.byThread = make(map[string]float64)
	ct.inputTotal = 0
	ct.outputTotal = 0
}

// String returns a one-line summary, models sorted by name.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	models := make([]string, 0, len(ct.byModel))
	for m := range ct.byModel {
		models = append(models, m)
	}
	sort.Strings(models)

	return fmt.Sprintf("CostTracker{Calls: %d, TotalCost: $%.4f, InputTokens: %d, OutputTokens: %d, Models: %v}",
		len(ct.calls), ct.total, ct.inputTotal, ct.outputTotal, models)
}
