package bridge

import "voxelmind.ai/internal/protocol"

// Status is returned by voxelmind.get_status.
type Status struct {
	Connected   bool   `json:"connected"`
	Paused      bool   `json:"paused,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	ServerWSURL string `json:"server_ws_url"`
	Phase       string `json:"phase,omitempty"`
	Round       int    `json:"round"`
	Level       int    `json:"level"`
	Score       int    `json:"score"`
	MaxLevel    int    `json:"max_level,omitempty"`
	TimeLeftMs  int64  `json:"time_left_ms,omitempty"`

	GamesCompleted int    `json:"games_completed"`
	BestScore      int    `json:"best_score"`
	LastError      string `json:"last_error,omitempty"`
}

type TrialMode string

const (
	TrialModeFull   TrialMode = "full"
	TrialModeVoxels TrialMode = "voxels"
)

type NextTrialOpts struct {
	Mode      TrialMode `json:"mode"`
	TimeoutMS int       `json:"timeout_ms"`
}

// TrialResult is one pair of shapes to compare. In voxels mode only the
// integer voxels of each shape are kept.
type TrialResult struct {
	SessionID   string         `json:"session_id"`
	TrialID     string         `json:"trial_id"`
	Round       int            `json:"round"`
	Level       int            `json:"level"`
	CubeCount   int            `json:"cube_count"`
	TimeLimitMs int64          `json:"time_limit_ms"`
	Target      protocol.Shape `json:"target"`
	Probe       protocol.Shape `json:"probe"`
}

type AnswerArgs struct {
	Same      *bool `json:"same"`
	TimeoutMS int   `json:"timeout_ms"`
}

type AnswerResult struct {
	Outcome protocol.OutcomeMsg `json:"outcome"`
	Cue     string              `json:"cue"`
	Score   int                 `json:"score"`
	// Finished is set when the round had already ended, usually by timeout,
	// and the answer was not sent.
	Finished bool `json:"finished,omitempty"`
	GameOver bool `json:"game_over"`
}

type SummaryOpts struct {
	Wait      bool `json:"wait"`
	TimeoutMS int  `json:"timeout_ms"`
}
