// Package brain orchestrates one conversational turn end to end:
// perceive, remember, route, respond, act, learn. Every stage degrades
// rather than fails; the user always gets an answer, even if it is an
// honest "das hat nicht geklappt".
package brain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Goifal/mindhome-assistant/internal/activity"
	"github.com/Goifal/mindhome-assistant/internal/audit"
	"github.com/Goifal/mindhome-assistant/internal/contextbuilder"
	"github.com/Goifal/mindhome-assistant/internal/episodic"
	"github.com/Goifal/mindhome-assistant/internal/events"
	"github.com/Goifal/mindhome-assistant/internal/executor"
	"github.com/Goifal/mindhome-assistant/internal/extractor"
	"github.com/Goifal/mindhome-assistant/internal/homeassistant"
	"github.com/Goifal/mindhome-assistant/internal/llm"
	"github.com/Goifal/mindhome-assistant/internal/memory"
	"github.com/Goifal/mindhome-assistant/internal/mood"
	"github.com/Goifal/mindhome-assistant/internal/personality"
	"github.com/Goifal/mindhome-assistant/internal/planner"
	"github.com/Goifal/mindhome-assistant/internal/router"
	"github.com/Goifal/mindhome-assistant/internal/tools"
	"github.com/Goifal/mindhome-assistant/internal/validator"
)

// minEpisodeWords is the utterance length below which no episode is
// stored; "Licht aus" is not a memory.
const minEpisodeWords = 4

// Reply is the outcome of one conversational turn.
type Reply struct {
	Response    string            `json:"response"`
	Actions     []executor.Result `json:"actions,omitempty"`
	ModelUsed   string            `json:"model_used"`
	ContextRoom string            `json:"context_room,omitempty"`
}

// EpisodeWriter receives finished exchanges for long-term recall.
type EpisodeWriter interface {
	Store(ctx context.Context, kind episodic.Kind, person, text string) (*episodic.Episode, error)
}

// Brain wires the pipeline together.
type Brain struct {
	llm       *llm.Client
	ha        *homeassistant.Client
	router    *router.Router
	moods     *mood.Detector
	acts      *activity.Detector
	builder   *contextbuilder.Builder
	persona   *personality.Composer
	validator *validator.Validator
	executor  *executor.Executor
	planner   *planner.Planner
	extractor *extractor.Extractor
	working   *memory.Working
	episodes  EpisodeWriter
	auditLog  *audit.Log
	bus       *events.Bus
	logger    *slog.Logger
}

// Deps lists everything the brain needs.
type Deps struct {
	LLM       *llm.Client
	HA        *homeassistant.Client
	Router    *router.Router
	Moods     *mood.Detector
	Activity  *activity.Detector
	Builder   *contextbuilder.Builder
	Persona   *personality.Composer
	Validator *validator.Validator
	Executor  *executor.Executor
	Planner   *planner.Planner
	Extractor *extractor.Extractor
	Working   *memory.Working
	Episodes  EpisodeWriter
	Audit     *audit.Log
	Bus       *events.Bus
	Logger    *slog.Logger
}

// New creates a brain.
func New(d Deps) *Brain {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Brain{
		llm:       d.LLM,
		ha:        d.HA,
		router:    d.Router,
		moods:     d.Moods,
		acts:      d.Activity,
		builder:   d.Builder,
		persona:   d.Persona,
		validator: d.Validator,
		executor:  d.Executor,
		planner:   d.Planner,
		extractor: d.Extractor,
		working:   d.Working,
		episodes:  d.Episodes,
		auditLog:  d.Audit,
		bus:       d.Bus,
		logger:    logger,
	}
}

// Chat processes one utterance and returns the reply. It never returns
// an error to the caller; failures become apologetic responses.
func (b *Brain) Chat(ctx context.Context, person, text string) Reply {
	start := time.Now()
	b.publish(events.KindThinking, map[string]any{"person": person, "text_len": len(text)})
	defer b.publish(events.KindListening, nil)

	moodState := b.moods.Analyze(ctx, person, text)
	actState := b.acts.Detect(ctx)
	convCtx := b.builder.Build(ctx, person, text, moodState, actState)

	decision := b.router.Route(text)
	systemPrompt := b.persona.Compose(person, moodState.Label, actState.Activity, convCtx.FormatPrompt())

	var reply Reply
	if b.planner.IsComplex(text) {
		reply = b.runPlan(ctx, person, text)
	} else {
		reply = b.runDirect(ctx, person, text, systemPrompt, decision, convCtx)
	}
	reply.ContextRoom = convCtx.Room

	for _, action := range reply.Actions {
		b.auditLog.Record(audit.Entry{
			Person:  person,
			Tool:    action.Tool,
			Success: action.Success,
			Message: action.Message,
		})
		b.publish(events.KindAction, map[string]any{
			"tool":    action.Tool,
			"success": action.Success,
			"message": action.Message,
		})
	}

	b.publish(events.KindSpeaking, map[string]any{
		"person":     person,
		"text":       reply.Response,
		"model_used": reply.ModelUsed,
	})

	b.remember(ctx, person, text, reply, moodState.Label)

	b.logger.Info("turn completed",
		"person", person,
		"model", reply.ModelUsed,
		"actions", len(reply.Actions),
		"elapsed", time.Since(start),
	)
	return reply
}

// runDirect handles simple requests: one model round with tools, then
// validate and execute whatever it called.
func (b *Brain) runDirect(ctx context.Context, person, text, systemPrompt string, decision router.Decision, convCtx contextbuilder.Context) Reply {
	messages := []llm.Message{{Role: "system", Content: systemPrompt}}
	for _, t := range convCtx.RecentTurns {
		messages = append(messages,
			llm.Message{Role: "user", Content: t.UserText},
			llm.Message{Role: "assistant", Content: t.Response},
		)
	}
	messages = append(messages, llm.Message{Role: "user", Content: text})

	resp, err := b.llm.Chat(ctx, llm.ChatRequest{
		Model:    decision.Model,
		Messages: messages,
		Tools:    tools.Definitions(),
		Options:  &llm.Options{Temperature: 0.6},
	})
	if err != nil {
		b.logger.Error("inference failed", "model", decision.Model, "error", err)
		return Reply{
			Response:  "Entschuldigung, ich kann gerade nicht nachdenken. Versuch es gleich nochmal.",
			ModelUsed: decision.Model,
		}
	}

	reply := Reply{ModelUsed: decision.Model, Response: strings.TrimSpace(resp.Message.Content)}

	for _, call := range resp.Message.ToolCalls {
		name := call.Function.Name
		args := call.Function.Arguments

		verdict := b.validator.Validate(name, args)
		if !verdict.OK {
			reply.Actions = append(reply.Actions, executor.Result{Tool: name, Success: false, Message: verdict.Reason})
			reply.Response = verdict.Reason
			continue
		}
		if verdict.NeedsConfirmation {
			reply.Actions = append(reply.Actions, executor.Result{Tool: name, Success: false, Message: verdict.Reason})
			reply.Response = "Das mache ich nur mit Bestätigung. Soll ich wirklich?"
			continue
		}

		result := b.executor.Execute(ctx, name, args)
		reply.Actions = append(reply.Actions, result)

		if name == "activate_scene" && result.Success {
			b.noteScene(ctx, args)
		}
	}

	if reply.Response == "" {
		reply.Response = defaultConfirmation(reply.Actions)
	}
	return reply
}

// runPlan hands complex requests to the plan loop.
func (b *Brain) runPlan(ctx context.Context, person, text string) Reply {
	plan := b.planner.Run(ctx, person, text)

	reply := Reply{
		Response:  plan.Summary,
		ModelUsed: b.planner.Model(),
	}
	for _, step := range plan.Steps {
		reply.Actions = append(reply.Actions, executor.Result{
			Tool:    step.Tool,
			Success: step.Success,
			Message: step.Message,
		})
	}
	return reply
}

// remember persists the turn, maybe an episode, and kicks off fact
// extraction in the background. Nothing here can fail the reply.
func (b *Brain) remember(ctx context.Context, person, text string, reply Reply, moodLabel mood.Label) {
	var actionNames []string
	for _, a := range reply.Actions {
		actionNames = append(actionNames, a.Tool)
	}

	if err := b.working.StoreTurn(ctx, memory.Turn{
		Person:     person,
		UserText:   text,
		Response:   reply.Response,
		ModelUsed:  reply.ModelUsed,
		Room:       reply.ContextRoom,
		Mood:       string(moodLabel),
		ActionsRun: actionNames,
	}); err != nil {
		b.logger.Warn("store turn failed", "error", err)
	}

	if len(strings.Fields(text)) > minEpisodeWords && b.episodes != nil {
		episodeText := person + ": " + text + " / Antwort: " + reply.Response
		if _, err := b.episodes.Store(ctx, episodic.KindConversation, person, episodeText); err != nil {
			b.logger.Warn("store episode failed", "error", err)
		}
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		b.extractor.Extract(bgCtx, person, text, reply.Response)
	}()
}

// noteScene records the active scene so the proactive gates can honor
// silence scenes.
func (b *Brain) noteScene(ctx context.Context, args map[string]any) {
	scene, _ := args["scene"].(string)
	if scene == "" {
		return
	}
	if err := b.working.SetContext(ctx, "active_scene", scene, 4*time.Hour); err != nil {
		b.logger.Warn("note scene failed", "error", err)
	}
}

// ActiveScene reports the currently noted scene, satisfying the
// proactive manager's scene source.
func (b *Brain) ActiveScene(ctx context.Context) string {
	scene, err := b.working.GetContext(ctx, "active_scene")
	if err != nil {
		return ""
	}
	return scene
}

// Health pings every backend and reports per-component status.
func (b *Brain) Health(ctx context.Context) map[string]string {
	status := map[string]string{}

	check := func(name string, err error) {
		if err != nil {
			status[name] = "error: " + err.Error()
		} else {
			status[name] = "ok"
		}
	}

	check("homeassistant", b.ha.Ping(ctx))
	check("ollama", b.llm.Ping(ctx))
	check("redis", b.working.Ping(ctx))
	return status
}

func (b *Brain) publish(kind string, data map[string]any) {
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceBrain,
		Kind:      kind,
		Data:      data,
	})
}

// defaultConfirmation speaks for a silent model after actions ran.
func defaultConfirmation(actions []executor.Result) string {
	if len(actions) == 0 {
		return "Okay."
	}
	for _, a := range actions {
		if !a.Success {
			return a.Message
		}
	}
	return "Erledigt."
}
