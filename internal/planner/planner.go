// Package planner handles multi-step requests: "mach das Büro fertig
// für die Nacht" becomes a bounded loop of model tool calls, each
// validated and executed before the results feed the next round. The
// loop is capped; a runaway model aborts with the partial work
// reported, it never spins.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Goifal/mindhome-assistant/internal/executor"
	"github.com/Goifal/mindhome-assistant/internal/llm"
	"github.com/Goifal/mindhome-assistant/internal/tools"
	"github.com/Goifal/mindhome-assistant/internal/validator"
)

// Status is the terminal state of a plan.
type Status string

const (
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusAbortedLoopLimit  Status = "aborted_loop_limit"
	StatusAbortedValidation Status = "aborted_validation"
)

// DefaultMaxIterations bounds the plan loop.
const DefaultMaxIterations = 5

// Step records one executed or rejected action within a plan.
type Step struct {
	Tool     string         `json:"tool"`
	Args     map[string]any `json:"args"`
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	Rejected bool           `json:"rejected,omitempty"`
}

// Plan is the record of one multi-step request.
type Plan struct {
	ID            uuid.UUID `json:"id"`
	Goal          string    `json:"goal"`
	Person        string    `json:"person"`
	Status        Status    `json:"status"`
	Steps         []Step    `json:"steps"`
	Summary       string    `json:"summary"`
	PendingAction *Step     `json:"pending_action,omitempty"`
	Iterations    int       `json:"iterations"`
	CreatedAt     time.Time `json:"created_at"`
}

// Config tunes the planner.
type Config struct {
	MaxIterations   int
	ComplexKeywords []string
	Model           string // always the capable tier
}

// Planner runs plan loops.
type Planner struct {
	cfg       Config
	llm       *llm.Client
	validator *validator.Validator
	executor  *executor.Executor
	logger    *slog.Logger

	mu       sync.Mutex
	lastPlan *Plan
}

// New creates a planner.
func New(cfg Config, client *llm.Client, v *validator.Validator, ex *executor.Executor, logger *slog.Logger) *Planner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		cfg:       cfg,
		llm:       client,
		validator: v,
		executor:  ex,
		logger:    logger,
	}
}

// IsComplex reports whether an utterance needs the plan loop rather
// than a single direct tool call.
func (p *Planner) IsComplex(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range p.cfg.ComplexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

const planSystemPrompt = `Du planst und führst Hausautomationsaufgaben aus.
Zerlege die Aufgabe in einzelne Funktionsaufrufe. Rufe pro Runde die
nötigen Funktionen auf. Wenn alles erledigt ist, antworte ohne
Funktionsaufruf mit einer kurzen Zusammenfassung auf Deutsch.`

// Run executes a plan for the goal. The returned plan always has a
// terminal status; errors inside the loop become failed steps.
func (p *Planner) Run(ctx context.Context, person, goal string) *Plan {
	id, _ := uuid.NewV7()
	plan := &Plan{
		ID:        id,
		Goal:      goal,
		Person:    person,
		Status:    StatusInProgress,
		CreatedAt: time.Now(),
	}

	messages := []llm.Message{
		{Role: "system", Content: planSystemPrompt},
		{Role: "user", Content: goal},
	}

	for plan.Iterations < p.cfg.MaxIterations {
		plan.Iterations++

		resp, err := p.llm.Chat(ctx, llm.ChatRequest{
			Model:    p.cfg.Model,
			Messages: messages,
			Tools:    tools.Definitions(),
			Options:  &llm.Options{Temperature: 0.2},
		})
		if err != nil {
			p.logger.Warn("plan iteration failed", "plan", plan.ID, "error", err)
			plan.Status = StatusCompleted
			plan.Summary = p.partialSummary(plan, "Die Planung wurde unterbrochen.")
			break
		}

		if len(resp.Message.ToolCalls) == 0 {
			plan.Status = StatusCompleted
			plan.Summary = strings.TrimSpace(resp.Message.Content)
			if plan.Summary == "" {
				plan.Summary = p.partialSummary(plan, "Erledigt.")
			}
			break
		}

		messages = append(messages, resp.Message)

		aborted := false
		for _, call := range resp.Message.ToolCalls {
			name := call.Function.Name
			args := call.Function.Arguments

			verdict := p.validator.Validate(name, args)
			if verdict.NeedsConfirmation {
				step := Step{Tool: name, Args: args, Rejected: true, Message: verdict.Reason}
				plan.Steps = append(plan.Steps, step)
				plan.PendingAction = &step
				plan.Status = StatusAbortedValidation
				plan.Summary = fmt.Sprintf("Ich brauche eine Bestätigung für %s, bevor ich weitermache.", name)
				aborted = true
				break
			}
			if !verdict.OK {
				step := Step{Tool: name, Args: args, Rejected: true, Message: verdict.Reason}
				plan.Steps = append(plan.Steps, step)
				messages = append(messages, toolMessage(name, "Abgelehnt: "+verdict.Reason))
				continue
			}

			result := p.executor.Execute(ctx, name, args)
			plan.Steps = append(plan.Steps, Step{
				Tool:    name,
				Args:    args,
				Success: result.Success,
				Message: result.Message,
			})
			messages = append(messages, toolMessage(name, result.Message))
		}
		if aborted {
			break
		}
	}

	if plan.Status == StatusInProgress {
		plan.Status = StatusAbortedLoopLimit
		plan.Summary = p.partialSummary(plan, "Ich habe abgebrochen, es wurden zu viele Schritte.")
	}

	p.mu.Lock()
	p.lastPlan = plan
	p.mu.Unlock()

	p.logger.Info("plan finished",
		"plan", plan.ID,
		"status", plan.Status,
		"steps", len(plan.Steps),
		"iterations", plan.Iterations,
	)
	return plan
}

// Model reports the model the plan loop runs on.
func (p *Planner) Model() string {
	return p.cfg.Model
}

// LastPlan returns the most recently finished plan, or nil.
func (p *Planner) LastPlan() *Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPlan
}

// partialSummary lists what did get done before the plan ended.
func (p *Planner) partialSummary(plan *Plan, prefix string) string {
	done := 0
	for _, s := range plan.Steps {
		if s.Success {
			done++
		}
	}
	if done == 0 {
		return prefix
	}
	return fmt.Sprintf("%s %d von %d Schritten wurden ausgeführt.", prefix, done, len(plan.Steps))
}

// toolMessage wraps an execution result for the next model round.
func toolMessage(tool, content string) llm.Message {
	payload, _ := json.Marshal(map[string]string{"tool": tool, "result": content})
	return llm.Message{Role: "tool", Content: string(payload)}
}
