package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/langgraph-travel/graph"
	"github.com/dshills/langgraph-travel/graph/emit"
	"github.com/dshills/langgraph-travel/graph/model"
	"github.com/dshills/langgraph-travel/graph/store"
	"github.com/dshills/langgraph-travel/internal/log"
)

// NoAnswer is returned as the answer when the flow produced none.
const NoAnswer = "No answer generated"

// ErrEmptyQuery is returned by Query for blank input.
var ErrEmptyQuery = errors.New("Query text is required") //nolint:staticcheck // shown to users as is

// Step is one node execution of a query.
type Step struct {
	Step    string `json:"step"`
	Content string `json:"content"`
}

// Answer is the result of a query.
type Answer struct {
	ThreadID string  `json:"thread_id"`
	Answer   string  `json:"answer"`
	Steps    []Step  `json:"steps"`
	History  []Entry `json:"history"`
}

// Entry is one message of the pipeline's chat history.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Status describes the pipeline.
type Status struct {
	Initialized bool   `json:"initialized"`
	Processing  bool   `json:"processing"`
	CurrentStep string `json:"current_step"`
	Documents   int    `json:"documents"`
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Models   Models
	Loader   *Loader
	Embedder model.Embedder

	// URLs are loaded when Initialize gets none.
	URLs []string
	TopK int

	// Store defaults to an in-memory store. Each query runs on its own
	// thread, which is deleted once answered when Store is a
	// store.Deleter.
	Store   store.Store[graph.State]
	Emitter emit.Emitter
	Cost    *graph.CostTracker
	Options []graph.Option
}

// Pipeline owns the document index and the retrieval graph and serves
// queries one at a time.
type Pipeline struct {
	cfg  PipelineConfig
	init singleflight.Group

	mu     sync.RWMutex
	engine *graph.Engine
	index  *Index

	run sync.Mutex // serializes queries

	stateMu     sync.Mutex
	history     []Entry
	processing  bool
	currentStep string
}

// NewPipeline validates cfg and returns an uninitialized pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Models.validate(); err != nil {
		return nil, err
	}
	if cfg.Loader == nil {
		return nil, errors.New("rag: loader is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("rag: embedder is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemStore[graph.State]()
	}
	return &Pipeline{cfg: cfg}, nil
}

// Initialize loads and indexes urls, or the configured URLs when urls is
// empty, and rebuilds the graph over the new index. Concurrent calls share
// one load. A failed load leaves the previous index in place.
func (p *Pipeline) Initialize(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		urls = p.cfg.URLs
	}
	if len(urls) == 0 {
		return errors.New("rag: no urls to load")
	}

	_, err, _ := p.init.Do("init", func() (interface{}, error) {
		docs, err := p.cfg.Loader.Load(ctx, urls)
		if err != nil {
			return nil, err
		}
		index := NewIndex(p.cfg.Embedder)
		if err := index.Add(ctx, docs); err != nil {
			return nil, err
		}
		engine, err := NewGraph(GraphConfig{
			Models:    p.cfg.Models,
			Retriever: RetrieverTool(index, p.cfg.TopK),
			Store:     p.cfg.Store,
			Emitter:   p.cfg.Emitter,
			Cost:      p.cfg.Cost,
			Options:   p.cfg.Options,
		})
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.engine, p.index = engine, index
		p.mu.Unlock()
		log.Infof("rag pipeline initialized with %d documents", index.Len())
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	return nil
}

func (p *Pipeline) current() (*graph.Engine, *Index) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine, p.index
}

// Query answers text, initializing the pipeline with the configured URLs
// on first use.
func (p *Pipeline) Query(ctx context.Context, text string) (Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Answer{}, ErrEmptyQuery
	}

	engine, _ := p.current()
	if engine == nil {
		if err := p.Initialize(ctx, nil); err != nil {
			return Answer{}, err
		}
		engine, _ = p.current()
	}

	p.addEntry(model.RoleUser, text)

	p.run.Lock()
	defer p.run.Unlock()
	p.setProcessing(true, "")
	defer p.setProcessing(false, "")

	threadID := uuid.NewString()
	defer p.forget(threadID)
	progress := emit.Func(func(ev emit.Event) {
		if ev.Msg == "node completed" {
			p.setProcessing(true, ev.NodeID)
		}
	})
	res, err := engine.Run(ctx, threadID, graph.NewState(graph.UserText(text)), graph.WithEmitter(progress))
	if err != nil {
		log.Errorf("rag query on thread %s failed: %v", threadID, err)
		return Answer{}, err
	}

	checkpoints, err := engine.History(ctx, threadID)
	if err != nil {
		return Answer{}, err
	}
	steps := stepsOf(checkpoints)
	answer := finalAnswer(steps, res.State.Messages)
	p.addEntry(model.RoleAssistant, answer)

	return Answer{
		ThreadID: threadID,
		Answer:   answer,
		Steps:    steps,
		History:  p.History(),
	}, nil
}

// History returns the chat history of every query so far.
func (p *Pipeline) History() []Entry {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	out := make([]Entry, len(p.history))
	copy(out, p.history)
	return out
}

// Clear forgets the chat history. The index is kept.
func (p *Pipeline) Clear() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.history = nil
}

// Status reports whether the pipeline is initialized and what it is doing.
func (p *Pipeline) Status() Status {
	engine, index := p.current()
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	st := Status{
		Initialized: engine != nil,
		Processing:  p.processing,
		CurrentStep: p.currentStep,
	}
	if index != nil {
		st.Documents = index.Len()
	}
	return st
}

func (p *Pipeline) forget(threadID string) {
	d, ok := p.cfg.Store.(store.Deleter)
	if !ok {
		return
	}
	if err := d.Delete(context.Background(), threadID); err != nil {
		log.Warnf("rag: delete thread %s: %v", threadID, err)
	}
}

func (p *Pipeline) addEntry(role, content string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.history = append(p.history, Entry{Role: role, Content: content})
}

func (p *Pipeline) setProcessing(on bool, step string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.processing, p.currentStep = on, step
}

// stepsOf renders each node checkpoint as a step: the node's new messages,
// or the relevance verdict for the grader.
func stepsOf(checkpoints []store.Checkpoint[graph.State]) []Step {
	var steps []Step
	for i, cp := range checkpoints {
		if cp.Source != store.SourceLoop || i == 0 {
			continue
		}
		prev := checkpoints[i-1].State
		if cp.Node == NodeGrade {
			steps = append(steps, Step{Step: cp.Node, Content: cp.State.GetString(RelevanceField)})
			continue
		}

		var parts []string
		for _, m := range cp.State.Messages[len(prev.Messages):] {
			parts = append(parts, describe(m))
		}
		steps = append(steps, Step{Step: cp.Node, Content: strings.Join(parts, "\n")})
	}
	return steps
}

func describe(m graph.Message) string {
	if !m.HasToolCalls() {
		return m.Content
	}
	calls := make([]string, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		args, _ := json.Marshal(tc.Args)
		calls[i] = fmt.Sprintf("%s(%s)", tc.Name, args)
	}
	return strings.TrimSpace(m.Content + " " + strings.Join(calls, ", "))
}

// finalAnswer prefers the last generate step, then the last assistant text.
func finalAnswer(steps []Step, msgs []graph.Message) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Step == NodeGenerate {
			return steps[i].Content
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == graph.KindAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return NoAnswer
}
