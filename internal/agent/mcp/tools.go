package mcp

const (
	toolGetStatus  = "voxelmind.get_status"
	toolStart      = "voxelmind.start"
	toolNextTrial  = "voxelmind.next_trial"
	toolAnswer     = "voxelmind.answer"
	toolGetSummary = "voxelmind.get_summary"
	toolReset      = "voxelmind.reset"
	toolDisconnect = "voxelmind.disconnect"
)

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func noArgs() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}

var toolDescriptors = []toolDescriptor{
	{
		Name:        toolGetStatus,
		Description: "Get the connection, phase, round, level and score of the backing game session.",
		InputSchema: noArgs(),
	},
	{
		Name:        toolStart,
		Description: "Start a game. A finished game is reset first.",
		InputSchema: noArgs(),
	},
	{
		Name:        toolNextTrial,
		Description: "Begin the next round and return the target and probe polycubes. The clock starts when the round begins.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode":       map[string]any{"type": "string", "enum": []string{"voxels", "full"}},
				"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
			},
			"additionalProperties": false,
		},
	},
	{
		Name:        toolAnswer,
		Description: "Answer the current trial: same=true if the probe is a rotation of the target.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"same":       map[string]any{"type": "boolean"},
				"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
			},
			"required":             []string{"same"},
			"additionalProperties": false,
		},
	},
	{
		Name:        toolGetSummary,
		Description: "Get the accuracy summary of the finished game (optionally wait for it).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"wait":       map[string]any{"type": "boolean"},
				"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
			},
			"additionalProperties": false,
		},
	},
	{
		Name:        toolReset,
		Description: "Abandon the current game and open a new session.",
		InputSchema: noArgs(),
	},
	{
		Name:        toolDisconnect,
		Description: "Drop the backing websocket until the next tool call. The current game is lost.",
		InputSchema: noArgs(),
	},
}

func isKnownTool(name string) bool {
	for _, t := range toolDescriptors {
		if t.Name == name {
			return true
		}
	}
	return false
}
