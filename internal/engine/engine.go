// Package engine implements the tiered intent resolution cascade and the
// response generation surface built on top of it. Classification walks the
// tiers cheapest-first (keyword, fuzzy, semantic, generative, widened
// generative) and stops at the first result that clears its confidence
// threshold; classification paths never return an error.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelangihq/intentd/internal/backends"
	"github.com/pelangihq/intentd/internal/conversation"
	"github.com/pelangihq/intentd/internal/match"
	"github.com/pelangihq/intentd/internal/metrics"
	"github.com/pelangihq/intentd/internal/orchestrator"
	"github.com/pelangihq/intentd/internal/promptcache"
	"github.com/pelangihq/intentd/internal/registry"
	"github.com/pelangihq/intentd/internal/routing"
	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// normalHistoryTurns bounds the context sent to the standard
	// generative tier.
	normalHistoryTurns = 6
	// smartHistoryTurns is the widened context for the smart-fallback
	// tier.
	smartHistoryTurns = models.MaxHistoryMessages

	// DefaultSmartTimeout bounds the whole widened-context walk.
	DefaultSmartTimeout = 90 * time.Second
)

// ErrUnavailable is returned by the reply path when every backend failed;
// callers surface a user-visible "temporarily unavailable" message.
var ErrUnavailable = errors.New("all generation backends unavailable")

// Notifier dispatches engine events to the configured channels.
type Notifier interface {
	Dispatch(ctx context.Context, event models.Event)
}

// Config wires the engine's collaborators and tunables.
type Config struct {
	Provider      contracts.ConfigProvider
	Deterministic *match.Deterministic
	Semantic      *match.Semantic
	Orchestrator  *orchestrator.Orchestrator
	Executor      *backends.Executor
	Registry      *registry.Registry
	Store         *conversation.Store
	Prompts       *promptcache.Cache
	Router        *routing.Router
	Notifier      Notifier

	// SmartTimeout bounds the widened-context smart-fallback walk.
	SmartTimeout time.Duration
	// RepeatWindow is the span within which a recurring intent counts as
	// a repeat.
	RepeatWindow time.Duration
	// RepeatAlertAfter is the repeat count that triggers an escalation
	// event. Zero disables the alert.
	RepeatAlertAfter int
}

// Engine is the public resolution surface consumed by the transport layer.
type Engine struct {
	cfg     Config
	metrics *metrics.Metrics
}

// New creates an engine. The semantic matcher may still be initializing;
// until it is ready that tier reports no match and the cascade falls
// through.
func New(cfg Config) *Engine {
	if cfg.SmartTimeout <= 0 {
		cfg.SmartTimeout = DefaultSmartTimeout
	}
	if cfg.RepeatWindow <= 0 {
		cfg.RepeatWindow = conversation.DefaultRepeatWindow
	}
	return &Engine{cfg: cfg, metrics: metrics.Default()}
}

// ── Classification ───────────────────────────────────────────

// Classify resolves the message through the full tier cascade, including
// the smart fallback when the standard generative tier stays below
// threshold. It never returns an error: exhaustion yields the unknown
// category with the last tier's confidence.
func (e *Engine) Classify(ctx context.Context, userKey, text string) models.ClassificationResult {
	return e.classify(ctx, userKey, text, classifyOpts{smartFallback: true})
}

// ClassifyOnly is the fast-tier split: deterministic, semantic, and one
// standard generative attempt, optionally pinned to a single backend.
func (e *Engine) ClassifyOnly(ctx context.Context, userKey, text, backendHint string) models.ClassificationResult {
	return e.classify(ctx, userKey, text, classifyOpts{backendHint: backendHint})
}

type classifyOpts struct {
	smartFallback bool
	backendHint   string
}

func (e *Engine) classify(ctx context.Context, userKey, text string, opts classifyOpts) models.ClassificationResult {
	start := time.Now()
	state := e.cfg.Store.GetOrCreate(userKey)
	lang := state.Language
	if lang == "" {
		lang = conversation.DetectLanguage(text)
	}
	intents := e.cfg.Provider.Intents()
	threshold := e.cfg.Provider.DefaultThreshold()

	// Tier 1/2: keyword and fuzzy matching, no I/O.
	if m, ok := e.cfg.Deterministic.Match(text, lang, intents); ok {
		return e.finish(ctx, userKey, models.ClassificationResult{
			Category:   m.Intent,
			Confidence: m.Score,
			Source:     m.Tier,
			Latency:    time.Since(start),
		})
	}

	// Tier 3: centroid similarity; reports no match until initialized.
	// The matcher scans at the lowest configured threshold so intents
	// with an override below the global default stay reachable; the
	// per-intent cutoff is applied here, best score first.
	for _, m := range e.cfg.Semantic.MatchAll(ctx, text, minThreshold(intents, threshold)) {
		if m.Score >= thresholdFor(intents, m.Intent, threshold) {
			return e.finish(ctx, userKey, models.ClassificationResult{
				Category:   m.Intent,
				Confidence: m.Score,
				Source:     models.TierSemantic,
				Latency:    time.Since(start),
			})
		}
	}

	// Tier 4: standard generative classification.
	result := e.classifyLLM(ctx, userKey, text, llmOpts{
		turns:       normalHistoryTurns,
		backendHint: opts.backendHint,
	})
	result.Latency = time.Since(start)
	if result.Category != models.IntentUnknown {
		if result.Confidence >= thresholdFor(intents, result.Category, threshold) {
			return e.finish(ctx, userKey, result)
		}
	}

	// Tier 5: widened context against the curated subset, only after a
	// low-confidence generative result.
	if opts.smartFallback && result.Backend != models.BackendFailed {
		smart := e.classifyLLM(ctx, userKey, text, llmOpts{
			turns:    smartHistoryTurns,
			smart:    true,
			deadline: e.cfg.SmartTimeout,
		})
		smart.Latency = time.Since(start)
		if smart.Category != models.IntentUnknown && smart.Confidence > result.Confidence {
			result = smart
		}
	}

	if result.Confidence < thresholdFor(intents, result.Category, threshold) {
		result.Category = models.IntentUnknown
	}
	return e.finish(ctx, userKey, result)
}

type llmOpts struct {
	turns       int
	smart       bool
	backendHint string
	deadline    time.Duration
}

// classifyLLM runs one structured-output generative classification. Total
// backend exhaustion maps to {unknown, 0, failed} instead of an error.
func (e *Engine) classifyLLM(ctx context.Context, userKey, text string, opts llmOpts) models.ClassificationResult {
	tier := models.TierLLM
	if opts.smart {
		tier = models.TierSmartLLM
	}

	messages := e.buildMessages(e.classifierPrompt(), userKey, text, opts.turns)
	params := e.cfg.Provider.Params()
	params.Structured = true

	if opts.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.deadline)
		defer cancel()
	}

	var ids []string
	switch {
	case opts.backendHint != "":
		ids = []string{opts.backendHint}
	case opts.smart:
		ids = e.cfg.Provider.SmartBackends()
	}

	res, err := e.cfg.Orchestrator.GenerateWith(ctx, ids, messages, params)
	if err != nil {
		log.Warn().Err(err).Str("tier", string(tier)).Msg("Generative classification exhausted")
		return models.ClassificationResult{
			Category: models.IntentUnknown,
			Source:   tier,
			Backend:  models.BackendFailed,
		}
	}

	verdict := ParseVerdict(res.Reply)
	if verdict.Kind == VerdictUnparseable {
		log.Debug().Str("backend", res.BackendID).Msg("Unparseable classification verdict")
		return models.ClassificationResult{
			Category: models.IntentUnknown,
			Source:   tier,
			Backend:  res.BackendID,
			Reply:    strings.TrimSpace(verdict.Raw),
		}
	}
	return models.ClassificationResult{
		Category:   verdict.Intent,
		Confidence: verdict.Confidence,
		Entities:   verdict.Entities,
		Source:     tier,
		Backend:    res.BackendID,
		Reply:      verdict.Reply,
	}
}

// finish records bookkeeping common to every classification outcome.
func (e *Engine) finish(ctx context.Context, userKey string, result models.ClassificationResult) models.ClassificationResult {
	e.metrics.RecordClassification(string(result.Source), result.Category, result.Latency)
	if result.Category == models.IntentUnknown {
		e.metrics.UnknownIntentsTotal.Inc()
		return result
	}

	repeats := e.cfg.Store.RecordIntent(userKey, result.Category, result.Confidence, e.cfg.RepeatWindow)
	if e.cfg.RepeatAlertAfter > 0 && repeats >= e.cfg.RepeatAlertAfter && e.cfg.Notifier != nil {
		e.cfg.Notifier.Dispatch(ctx, models.Event{
			ID:      uuid.NewString(),
			Type:    models.EventRepeatedIntent,
			Message: fmt.Sprintf("intent %q repeated %d times for one user", result.Category, repeats),
			Payload: map[string]interface{}{
				"intent":  result.Category,
				"repeats": repeats,
			},
			Timestamp: time.Now(),
		})
	}
	return result
}

// ── Response generation ──────────────────────────────────────

// ClassifyAndRespond classifies the message and produces a reply in the
// persona voice. It never returns an error: backend exhaustion degrades to
// {unknown, confidence 0, backend failed} with an empty response.
func (e *Engine) ClassifyAndRespond(ctx context.Context, userKey, userMessage string) models.EngineResult {
	return e.classifyAndRespond(ctx, userKey, userMessage, false)
}

// ClassifyAndRespondWithSmartFallback behaves like ClassifyAndRespond but
// retries low-confidence generative classifications with widened context
// against the curated high-capability subset.
func (e *Engine) ClassifyAndRespondWithSmartFallback(ctx context.Context, userKey, userMessage string) models.EngineResult {
	return e.classifyAndRespond(ctx, userKey, userMessage, true)
}

func (e *Engine) classifyAndRespond(ctx context.Context, userKey, userMessage string, smart bool) models.EngineResult {
	start := time.Now()
	e.cfg.Store.Append(userKey, "user", userMessage)

	classification := e.classify(ctx, userKey, userMessage, classifyOpts{smartFallback: smart})

	out := models.EngineResult{
		Intent:     classification.Category,
		Confidence: classification.Confidence,
		Backend:    classification.Backend,
	}
	if classification.Backend == models.BackendFailed {
		out.Latency = time.Since(start)
		return out
	}

	state := e.cfg.Store.GetOrCreate(userKey)
	decision := e.cfg.Router.Route(routing.Env{
		Intent:     classification.Category,
		Confidence: classification.Confidence,
		Tier:       string(classification.Source),
		Lang:       state.Language,
		Repeats:    state.RepeatCount,
		Slots:      state.Slots,
	})
	out.Action = decision.Action

	// A verdict that already carried a reply answers the turn in one
	// backend call; unparseable raw text serves as a degraded reply
	// rather than being thrown away.
	if classification.Reply != "" {
		e.cfg.Store.Append(userKey, "assistant", classification.Reply)
		out.Response = classification.Reply
		out.Latency = time.Since(start)
		return out
	}

	reply, err := e.generate(ctx, userKey, userMessage, classification.Category)
	if err != nil {
		log.Warn().Err(err).Str("intent", out.Intent).Msg("Reply generation failed after classification")
		out.Latency = time.Since(start)
		return out
	}
	out.Response = reply.Response
	if reply.Backend != "" {
		out.Backend = reply.Backend
	}
	out.Latency = time.Since(start)
	return out
}

// GenerateReply produces a reply for a message whose intent is already
// known. Unlike the classification paths it returns ErrUnavailable when
// every backend is exhausted.
func (e *Engine) GenerateReply(ctx context.Context, userKey, userMessage, knownIntent string) (models.EngineResult, error) {
	e.cfg.Store.Append(userKey, "user", userMessage)
	return e.generate(ctx, userKey, userMessage, knownIntent)
}

func (e *Engine) generate(ctx context.Context, userKey, userMessage, knownIntent string) (models.EngineResult, error) {
	start := time.Now()

	base, err := e.cfg.Prompts.GetWithTopic(ctx, e.cfg.Provider.Persona(), knownIntent)
	if err != nil {
		return models.EngineResult{}, fmt.Errorf("assemble prompt: %w", err)
	}
	system := base
	if knownIntent != "" && knownIntent != models.IntentUnknown {
		system += fmt.Sprintf("\nThe user's intent is %q. Answer it directly.", knownIntent)
	}

	messages := e.buildMessages(system, userKey, userMessage, normalHistoryTurns)
	res, err := e.cfg.Orchestrator.Generate(ctx, messages, e.cfg.Provider.Params())
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoContent) {
			return models.EngineResult{}, ErrUnavailable
		}
		return models.EngineResult{}, err
	}

	e.cfg.Store.Append(userKey, "assistant", res.Reply)
	return models.EngineResult{
		Intent:   knownIntent,
		Response: res.Reply,
		Backend:  res.BackendID,
		Latency:  time.Since(start),
	}, nil
}

// Translate renders text from one language into another. It degrades to
// an empty string when no backend can serve the request.
func (e *Engine) Translate(ctx context.Context, text, fromLang, toLang string) string {
	if strings.TrimSpace(text) == "" || fromLang == toLang {
		return text
	}
	system := fmt.Sprintf(
		"Translate the user's message from %s to %s. Reply with the translation only, no commentary.",
		languageName(fromLang), languageName(toLang),
	)
	messages := []models.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}
	params := e.cfg.Provider.Params()
	params.Temperature = 0

	res, err := e.cfg.Orchestrator.Generate(ctx, messages, params)
	if err != nil {
		log.Warn().Err(err).Str("from", fromLang).Str("to", toLang).Msg("Translation unavailable")
		return ""
	}
	return res.Reply
}

// TestBackend issues one validation call against the named backend,
// including disabled ones. ok is false when no backend with that ID is
// configured.
func (e *Engine) TestBackend(ctx context.Context, id string) (*models.BackendTestResult, bool) {
	b, found := e.cfg.Registry.Get(id)
	if !found {
		return &models.BackendTestResult{ID: id, Error: "unknown backend"}, false
	}
	return e.cfg.Executor.Test(ctx, &b), true
}

// BackendStatus reports the administrative view of every configured
// backend.
func (e *Engine) BackendStatus() []models.BackendStatus {
	return e.cfg.Orchestrator.Status()
}

// ── Prompt assembly ──────────────────────────────────────────

// buildMessages assembles system prompt, bounded history, and the current
// user turn.
func (e *Engine) buildMessages(system, userKey, userMessage string, turns int) []models.ChatMessage {
	history := e.cfg.Store.History(userKey, turns)
	// The respond paths append the current turn to the store before
	// building; drop only that trailing entry so earlier identical
	// messages stay in context.
	if n := len(history); n > 0 && history[n-1].Role == "user" && history[n-1].Content == userMessage {
		history = history[:n-1]
	}
	messages := make([]models.ChatMessage, 0, len(history)+2)
	messages = append(messages, models.ChatMessage{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, models.ChatMessage{Role: "user", Content: userMessage})
	return messages
}

// classifierPrompt builds the structured-output instruction listing every
// configured intent.
func (e *Engine) classifierPrompt() string {
	var sb strings.Builder
	sb.WriteString("Classify the user's message into exactly one intent. Known intents:\n")
	for _, in := range e.cfg.Provider.Intents() {
		fmt.Fprintf(&sb, "- %s\n", in.Name)
	}
	sb.WriteString("- " + models.IntentUnknown + "\n")
	sb.WriteString(`Respond with a single JSON object: {"intent": string, "confidence": number 0..1, "entities": object, "reply": string}. The reply field is a short answer in the user's language.`)
	return sb.String()
}

// minThreshold returns the lowest effective confidence threshold across
// the configured intents.
func minThreshold(intents []models.IntentDefinition, fallback float64) float64 {
	min := fallback
	for _, in := range intents {
		if in.Threshold > 0 && in.Threshold < min {
			min = in.Threshold
		}
	}
	return min
}

func thresholdFor(intents []models.IntentDefinition, name string, fallback float64) float64 {
	for _, in := range intents {
		if in.Name == name && in.Threshold > 0 {
			return in.Threshold
		}
	}
	return fallback
}

func languageName(code string) string {
	switch code {
	case "ms":
		return "Malay"
	case "en":
		return "English"
	case "zh":
		return "Chinese"
	case "":
		return "the original language"
	default:
		return code
	}
}
