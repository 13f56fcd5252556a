// Package tools defines the closed set of functions the models may
// call. The schema list is handed to the inference gateway verbatim;
// the executor implements the handlers. New capabilities are added
// here, never invented by the model.
package tools

// Spec describes one callable tool.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// All returns the tool specs in a stable order.
func All() []Spec {
	return []Spec{
		{
			Name:        "set_light",
			Description: "Licht ein- oder ausschalten, optional mit Helligkeit (0-100).",
			Parameters: objectSchema(map[string]any{
				"entity":     prop("string", "Name oder Raum des Lichts, z.B. 'büro' oder 'wohnzimmer'"),
				"state":      enumProp("Gewünschter Zustand", "on", "off"),
				"brightness": prop("number", "Helligkeit 0-100, optional"),
			}, "entity", "state"),
		},
		{
			Name:        "set_climate",
			Description: "Heizung oder Klima auf eine Zieltemperatur stellen oder ausschalten.",
			Parameters: objectSchema(map[string]any{
				"entity":      prop("string", "Raum oder Thermostatname"),
				"temperature": prop("number", "Zieltemperatur in °C"),
				"mode":        enumProp("Betriebsmodus, optional", "heat", "cool", "auto", "off"),
			}, "entity"),
		},
		{
			Name:        "activate_scene",
			Description: "Eine vordefinierte Szene aktivieren.",
			Parameters: objectSchema(map[string]any{
				"scene": prop("string", "Name der Szene, z.B. 'filmabend'"),
			}, "scene"),
		},
		{
			Name:        "set_cover",
			Description: "Rollladen oder Jalousie fahren (0 = zu, 100 = offen).",
			Parameters: objectSchema(map[string]any{
				"entity":   prop("string", "Name oder Raum des Rollladens"),
				"position": prop("number", "Zielposition 0-100"),
			}, "entity", "position"),
		},
		{
			Name:        "play_media",
			Description: "Medienwiedergabe steuern.",
			Parameters: objectSchema(map[string]any{
				"entity": prop("string", "Mediaplayer oder Raum"),
				"action": enumProp("Aktion", "play", "pause", "stop", "volume_up", "volume_down"),
			}, "entity", "action"),
		},
		{
			Name:        "set_alarm",
			Description: "Alarmanlage scharf oder unscharf schalten.",
			Parameters: objectSchema(map[string]any{
				"action": enumProp("Aktion", "arm_home", "arm_away", "disarm"),
			}, "action"),
		},
		{
			Name:        "lock_door",
			Description: "Eine Tür ver- oder entriegeln.",
			Parameters: objectSchema(map[string]any{
				"entity": prop("string", "Name der Tür, z.B. 'haustür'"),
				"action": enumProp("Aktion", "lock", "unlock"),
			}, "entity", "action"),
		},
		{
			Name:        "send_notification",
			Description: "Eine Nachricht an ein Mobilgerät senden.",
			Parameters: objectSchema(map[string]any{
				"target":  prop("string", "Empfänger, z.B. Personenname"),
				"message": prop("string", "Nachrichtentext"),
			}, "target", "message"),
		},
		{
			Name:        "get_entity_state",
			Description: "Den aktuellen Zustand eines Geräts oder Sensors abfragen.",
			Parameters: objectSchema(map[string]any{
				"entity": prop("string", "Name oder Raum des Geräts"),
			}, "entity"),
		},
		{
			Name:        "set_presence_mode",
			Description: "Anwesenheitsmodus des Hauses setzen.",
			Parameters: objectSchema(map[string]any{
				"mode": enumProp("Modus", "home", "away", "vacation", "guest"),
			}, "mode"),
		},
	}
}

// Definitions returns the specs in the wire shape the chat API expects.
func Definitions() []map[string]any {
	specs := All()
	defs := make([]map[string]any, len(specs))
	for i, s := range specs {
		defs[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		}
	}
	return defs
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func enumProp(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}
