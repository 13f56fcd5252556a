// Package executor turns validated tool calls into automation gateway
// service calls. Entities are resolved from spoken names ("büro",
// "stehlampe wohnzimmer") to entity IDs; failures produce an honest
// result message and never abort the conversation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Goifal/mindhome-assistant/internal/homeassistant"
)

// Result is the outcome of one tool execution.
type Result struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Gateway is the automation gateway surface the executor needs.
// Satisfied by homeassistant.Client.
type Gateway interface {
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Executor executes tool calls against the gateway.
type Executor struct {
	gw     Gateway
	logger *slog.Logger
}

// New creates an executor.
func New(gw Gateway, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{gw: gw, logger: logger}
}

// Execute runs one tool call. Unknown tools and gateway failures yield
// a failed Result, never an error: the caller reports the message to
// the user and the conversation continues.
func (e *Executor) Execute(ctx context.Context, tool string, args map[string]any) Result {
	var res Result
	switch tool {
	case "set_light":
		res = e.setLight(ctx, args)
	case "set_climate":
		res = e.setClimate(ctx, args)
	case "activate_scene":
		res = e.activateScene(ctx, args)
	case "set_cover":
		res = e.setCover(ctx, args)
	case "play_media":
		res = e.playMedia(ctx, args)
	case "set_alarm":
		res = e.setAlarm(ctx, args)
	case "lock_door":
		res = e.lockDoor(ctx, args)
	case "send_notification":
		res = e.sendNotification(ctx, args)
	case "get_entity_state":
		res = e.getEntityState(ctx, args)
	case "set_presence_mode":
		res = e.setPresenceMode(ctx, args)
	default:
		res = Result{Success: false, Message: fmt.Sprintf("Unbekannte Funktion: %s", tool)}
	}

	res.Tool = tool
	e.logger.Info("tool executed", "tool", tool, "success", res.Success, "message", res.Message)
	return res
}

func (e *Executor) setLight(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "light", strArg(args, "entity"))
	if err != nil {
		return failure(err)
	}

	service := "turn_off"
	data := map[string]any{"entity_id": entityID}
	if strArg(args, "state") == "on" {
		service = "turn_on"
		if br, ok := numArg(args, "brightness"); ok {
			data["brightness_pct"] = br
		}
	}

	if err := e.gw.CallService(ctx, "light", service, data); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("%s ist jetzt %s", entityID, strArg(args, "state"))}
}

func (e *Executor) setClimate(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "climate", strArg(args, "entity"))
	if err != nil {
		return failure(err)
	}

	if mode := strArg(args, "mode"); mode == "off" {
		if err := e.gw.CallService(ctx, "climate", "turn_off", map[string]any{"entity_id": entityID}); err != nil {
			return gatewayFailure(err)
		}
		return Result{Success: true, Message: fmt.Sprintf("%s ist aus", entityID)}
	}

	temp, ok := numArg(args, "temperature")
	if !ok {
		return Result{Success: false, Message: "Keine Zieltemperatur angegeben"}
	}
	if err := e.gw.CallService(ctx, "climate", "set_temperature", map[string]any{
		"entity_id":   entityID,
		"temperature": temp,
	}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("%s auf %.1f°C gestellt", entityID, temp)}
}

func (e *Executor) activateScene(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "scene", strArg(args, "scene"))
	if err != nil {
		return failure(err)
	}
	if err := e.gw.CallService(ctx, "scene", "turn_on", map[string]any{"entity_id": entityID}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Szene %s aktiviert", entityID)}
}

func (e *Executor) setCover(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "cover", strArg(args, "entity"))
	if err != nil {
		return failure(err)
	}
	pos, ok := numArg(args, "position")
	if !ok {
		return Result{Success: false, Message: "Keine Zielposition angegeben"}
	}
	if err := e.gw.CallService(ctx, "cover", "set_cover_position", map[string]any{
		"entity_id": entityID,
		"position":  pos,
	}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("%s auf %.0f%% gefahren", entityID, pos)}
}

func (e *Executor) playMedia(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "media_player", strArg(args, "entity"))
	if err != nil {
		return failure(err)
	}

	service := map[string]string{
		"play":        "media_play",
		"pause":       "media_pause",
		"stop":        "media_stop",
		"volume_up":   "volume_up",
		"volume_down": "volume_down",
	}[strArg(args, "action")]
	if service == "" {
		return Result{Success: false, Message: fmt.Sprintf("Unbekannte Medienaktion: %s", strArg(args, "action"))}
	}

	if err := e.gw.CallService(ctx, "media_player", service, map[string]any{"entity_id": entityID}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("%s: %s", entityID, strArg(args, "action"))}
}

func (e *Executor) setAlarm(ctx context.Context, args map[string]any) Result {
	action := strArg(args, "action")
	service := map[string]string{
		"arm_home": "alarm_arm_home",
		"arm_away": "alarm_arm_away",
		"disarm":   "alarm_disarm",
	}[action]
	if service == "" {
		return Result{Success: false, Message: fmt.Sprintf("Unbekannte Alarmaktion: %s", action)}
	}

	entityID, err := e.firstOfDomain(ctx, "alarm_control_panel")
	if err != nil {
		return failure(err)
	}
	if err := e.gw.CallService(ctx, "alarm_control_panel", service, map[string]any{"entity_id": entityID}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Alarm: %s", action)}
}

func (e *Executor) lockDoor(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "lock", strArg(args, "entity"))
	if err != nil {
		return failure(err)
	}

	service := "lock"
	if strArg(args, "action") == "unlock" {
		service = "unlock"
	}
	if err := e.gw.CallService(ctx, "lock", service, map[string]any{"entity_id": entityID}); err != nil {
		return gatewayFailure(err)
	}
	msg := "verriegelt"
	if service == "unlock" {
		msg = "entriegelt"
	}
	return Result{Success: true, Message: fmt.Sprintf("%s %s", entityID, msg)}
}

func (e *Executor) sendNotification(ctx context.Context, args map[string]any) Result {
	target := strings.ToLower(strArg(args, "target"))
	message := strArg(args, "message")
	if message == "" {
		return Result{Success: false, Message: "Keine Nachricht angegeben"}
	}

	service := "notify"
	if target != "" {
		service = "mobile_app_" + normalize(target)
	}
	if err := e.gw.CallService(ctx, "notify", service, map[string]any{"message": message}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Nachricht an %s gesendet", target)}
}

func (e *Executor) getEntityState(ctx context.Context, args map[string]any) Result {
	entityID, err := e.resolve(ctx, "", strArg(args, "entity"))
	if err != nil {
		return failure(err)
	}
	state, err := e.gw.GetState(ctx, entityID)
	if err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("%s ist %s", state.FriendlyName(), state.State)}
}

func (e *Executor) setPresenceMode(ctx context.Context, args map[string]any) Result {
	mode := strArg(args, "mode")
	switch mode {
	case "home", "away", "vacation", "guest":
	default:
		return Result{Success: false, Message: fmt.Sprintf("Unbekannter Modus: %s", mode)}
	}

	if err := e.gw.CallService(ctx, "input_select", "select_option", map[string]any{
		"entity_id": "input_select.presence_mode",
		"option":    mode,
	}); err != nil {
		return gatewayFailure(err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Anwesenheitsmodus: %s", mode)}
}

// resolve maps a spoken name to an entity ID. An exact entity ID passes
// through; otherwise friendly names within the domain are matched
// exactly first, then entity IDs and friendly names by normalized
// substring. Empty domain searches all.
func (e *Executor) resolve(ctx context.Context, domain, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("kein Gerät angegeben")
	}

	// Already a full entity ID.
	if strings.Contains(name, ".") {
		return name, nil
	}

	states, err := e.gw.GetStates(ctx)
	if err != nil {
		return "", fmt.Errorf("Geräteliste nicht erreichbar")
	}

	needle := normalize(name)

	// Exact friendly-name match first, so "Büro" cannot be shadowed by
	// an earlier "Büro Decke".
	for _, s := range states {
		if domain != "" && s.Domain() != domain {
			continue
		}
		if normalize(s.FriendlyName()) == needle {
			return s.EntityID, nil
		}
	}

	for _, s := range states {
		if domain != "" && s.Domain() != domain {
			continue
		}
		if strings.Contains(normalize(s.EntityID), needle) ||
			strings.Contains(normalize(s.FriendlyName()), needle) {
			return s.EntityID, nil
		}
	}

	return "", fmt.Errorf("Kein Gerät gefunden für '%s'", name)
}

// firstOfDomain returns the first entity of a domain, for single-device
// domains like the alarm panel.
func (e *Executor) firstOfDomain(ctx context.Context, domain string) (string, error) {
	states, err := e.gw.GetStates(ctx)
	if err != nil {
		return "", fmt.Errorf("Geräteliste nicht erreichbar")
	}
	for _, s := range states {
		if s.Domain() == domain {
			return s.EntityID, nil
		}
	}
	return "", fmt.Errorf("Kein Gerät im Bereich %s gefunden", domain)
}

// normalize lowercases and folds umlauts so "büro" matches "buero".
func normalize(s string) string {
	s = strings.ToLower(s)
	replacer := strings.NewReplacer(
		"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
		" ", "_",
	)
	return replacer.Replace(s)
}

func failure(err error) Result {
	return Result{Success: false, Message: err.Error()}
}

func gatewayFailure(err error) Result {
	return Result{Success: false, Message: fmt.Sprintf("Gerät hat nicht reagiert: %v", err)}
}

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func numArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
