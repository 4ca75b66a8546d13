// Package routing dispatches classified intents to registered tools and
// records each conversational exchange durably, exactly once per turn.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/opsdeck/opsrouter/opsr/memory"
	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// Router owns the tool registry and the request path: admission control,
// intent classification, argument validation, dispatch, and exchange
// recording.
type Router struct {
	mu         sync.RWMutex
	tools      map[string]ports.Tool
	memory     *memory.SessionMemory
	classifier ports.Classifier
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	guardrails *Guardrails
}

func NewRouter(mem *memory.SessionMemory, classifier ports.Classifier, limiter ports.RateLimiter, tracer ports.Tracer) *Router {
	if limiter == nil {
		limiter = noopLimiter{}
	}
	if tracer == nil {
		tracer = noopTracer{}
	}
	return &Router{
		tools:      make(map[string]ports.Tool),
		memory:     mem,
		classifier: classifier,
		limiter:    limiter,
		tracer:     tracer,
		guardrails: NewGuardrails(),
	}
}

// SetClassifier swaps the classifier in. Wiring uses it when the
// classifier's prompt needs the router's own tool specs.
func (r *Router) SetClassifier(c ports.Classifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier = c
}

// Register adds a tool under its own name. Duplicate names are a wiring
// bug and rejected.
func (r *Router) Register(tool ports.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Specs lists the registered tools, sorted by name, for classifier prompts
// and discovery commands.
func (r *Router) Specs() []ports.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ports.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ports.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			JSONSchema:  t.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Dispatch validates args and invokes the named tool. Every failure path,
// including an unregistered name and a panicking tool, yields a result
// envelope; Dispatch never records history.
func (r *Router) Dispatch(ctx context.Context, name string, args json.RawMessage) ports.ToolResult {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ports.FailResult(ports.ErrorKindUnknownIntent,
			"%v: no tool registered for %q", ports.ErrUnknownIntent, name)
	}

	if err := r.guardrails.ValidateArgs(tool.Schema(), args); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "%v", err)
	}

	spanCtx, finish := r.tracer.StartSpan(ctx, "tool."+name, map[string]any{
		"args_bytes": len(args),
	})
	result := safeInvoke(spanCtx, tool, args)
	if result.OK {
		finish(nil)
	} else {
		finish(fmt.Errorf("%s: %s", result.ErrorKind, result.ErrorMessage))
	}
	return result
}

// safeInvoke shields the router from panicking adapters.
func safeInvoke(ctx context.Context, tool ports.Tool, args json.RawMessage) (result ports.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ports.FailResult(ports.ErrorKindInternal,
				"tool %s panicked: %v", tool.Name(), rec)
		}
	}()
	return tool.Invoke(ctx, args)
}

// Process handles one conversational turn: admit, classify, dispatch,
// render, and record the exchange. The exchange is recorded exactly once
// per turn, whatever the dispatch outcome; only cancellation or admission
// rejection skips recording, because no reply was produced for the user.
func (r *Router) Process(ctx context.Context, sessionID, input string) (string, error) {
	release, err := r.limiter.Acquire(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("session %q: %w", sessionID, err)
	}
	defer release()

	spanCtx, finish := r.tracer.StartSpan(ctx, "router.process", map[string]any{
		"session": sessionID,
	})
	defer finish(nil)

	intent, err := r.classifier.Classify(spanCtx, input)
	if err != nil {
		// A broken classifier still yields a conversational turn.
		intent = ports.Intent{
			Action: chatAction,
			Params: map[string]any{"message": input},
		}
	}
	r.tracer.Event(spanCtx, "intent", map[string]any{
		"action":     intent.Action,
		"confidence": intent.Confidence,
	})

	return r.Route(spanCtx, sessionID, input, intent)
}

// Route dispatches an already-classified intent and records the exchange.
// Recording happens exactly once here, whatever the dispatch outcome,
// except under cancellation: recording a reply nobody received would leave
// misleading history.
func (r *Router) Route(ctx context.Context, sessionID, userText string, intent ports.Intent) (string, error) {
	args := r.buildArgs(intent, sessionID, userText)
	result := r.Dispatch(ctx, intent.Action, args)
	response := renderResult(intent.Action, result)

	if ctx.Err() != nil {
		return response, ctx.Err()
	}
	if err := r.memory.RecordExchange(ctx, sessionID, userText, response); err != nil {
		return response, fmt.Errorf("exchange not fully recorded: %w", err)
	}
	return response, nil
}

// buildArgs turns classifier params into tool args, filling in the turn's
// ambient fields the classifier does not know about.
func (r *Router) buildArgs(intent ports.Intent, sessionID, input string) json.RawMessage {
	params := intent.Params
	if params == nil {
		params = map[string]any{}
	}
	if intent.Action == chatAction {
		if _, ok := params["message"]; !ok {
			params["message"] = input
		}
		params["session_id"] = sessionID
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// renderResult flattens a tool result into the reply text recorded in the
// session log.
func renderResult(action string, result ports.ToolResult) string {
	if !result.OK {
		switch result.ErrorKind {
		case ports.ErrorKindUnknownIntent:
			return fmt.Sprintf("I don't know how to handle that request (intent %q). Try 'help' for what I can do.", action)
		case ports.ErrorKindBadRequest:
			return fmt.Sprintf("That request was missing something: %s", result.ErrorMessage)
		default:
			return fmt.Sprintf("The %s operation failed (%s): %s", action, result.ErrorKind, result.ErrorMessage)
		}
	}

	if text, ok := result.Payload["response"].(string); ok && text != "" {
		return text
	}
	raw, err := json.MarshalIndent(result.Payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%s completed", action)
	}
	return string(raw)
}

type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noopTracer) Event(ctx context.Context, name string, attrs map[string]any) {}
