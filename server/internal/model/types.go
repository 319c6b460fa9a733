package model

import "time"

// Role 是对话中的一方。只存在两种角色，严格交替发言。
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Other 返回对话中的另一方。
func (r Role) Other() Role {
	if r == RoleTeacher {
		return RoleStudent
	}
	return RoleTeacher
}

// AnswerPlan 记录 answer 意图下的正误判定，便于复盘学生的“故意犯错”。
type AnswerPlan struct {
	Correct   bool   `json:"correct"`
	MistakeID string `json:"mistake_id,omitempty"`
}

// Message 是转写中的一条消息。追加后不可修改，顺序即发言顺序。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// IntentID 仅学生消息携带；脚本开场白为空。
	IntentID string `json:"intent_id,omitempty"`
	// Reasoning 是模型的推理旁路，只存档，不进入后续历史投影。
	Reasoning string `json:"reasoning,omitempty"`
	// Situation 是分类器判定的老师行为类别（仅 llm 模式）。
	Situation string      `json:"situation,omitempty"`
	Answer    *AnswerPlan `json:"answer,omitempty"`
	// Scripted 表示该消息未经模型生成（问候语/开场白）。
	Scripted bool      `json:"scripted,omitempty"`
	TS       time.Time `json:"ts"`
}

// Phase 是编排状态机的状态。
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseTeacherTurn Phase = "teacher_turn"
	PhaseStudentTurn Phase = "student_turn"
	PhaseTerminated  Phase = "terminated"
)

// TerminalReason 说明会话为何终止。
type TerminalReason string

const (
	ReasonStepLimit TerminalReason = "step_limit"
	ReasonSolved    TerminalReason = "solved"
	ReasonError     TerminalReason = "error"
)

// Termination 描述一次终止。Error 终止是可恢复的：转写保持原样，可单步重试。
type Termination struct {
	Reason TerminalReason `json:"reason"`
	Detail string         `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// SessionState 保存一次模拟课堂的全部可变状态，只由编排器修改。
type SessionState struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	// StepCount 每个“回应学生的老师回合”加一，问候语不计。
	StepCount   int          `json:"step_count"`
	Running     bool         `json:"running"`
	StepPending bool         `json:"step_pending"`
	Phase       Phase        `json:"phase"`
	Termination *Termination `json:"termination,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Last 返回最后一条消息。
func (s *SessionState) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone 返回深拷贝，调用方修改不会影响编排器内部状态。
func (s *SessionState) Clone() SessionState {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Termination != nil {
		t := *s.Termination
		out.Termination = &t
	}
	return out
}

// Event 是时间线中的一条事实事件。
type Event struct {
	// Seq 由 timeline 分配的单调序号。
	Seq       int64  `json:"seq,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Type 表示事件类型（message_appended/turn_failed/terminated/reset）。
	Type        string       `json:"type"`
	Message     *Message     `json:"message,omitempty"`
	StepCount   int          `json:"step_count"`
	Termination *Termination `json:"termination,omitempty"`
	Error       string       `json:"error,omitempty"`
	ServerTS    time.Time    `json:"server_ts,omitempty"`
}

const (
	EventMessageAppended = "message_appended"
	EventTurnFailed      = "turn_failed"
	EventTerminated      = "terminated"
	EventReset           = "reset"
)

// SnapshotConfig 是导出时附带的会话配置摘要。
type SnapshotConfig struct {
	TeacherModel        string         `json:"teacher_model"`
	StudentModel        string         `json:"student_model"`
	StudentType         string         `json:"student_type"`
	IntentMode          string         `json:"intent_mode"`
	Temperature         float64        `json:"temperature"`
	MaxTokens           int            `json:"max_tokens"`
	MaxSteps            int            `json:"max_steps"`
	CorrectAnswerProb   int            `json:"correct_answer_prob"`
	IntentProbabilities map[string]int `json:"intent_probabilities"`
}

// Snapshot 是导出面：外部导出器只依赖它，不触碰编排器内部。
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Config    SnapshotConfig `json:"config"`
	Messages  []Message      `json:"messages"`
	StepCount int            `json:"step_count"`
}
