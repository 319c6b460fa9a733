// Package orchestrator 推进老师与学生严格交替的对话状态机。
//
// 职责与契约：
//   - append-first：任何状态变化先写 Timeline，再归约到 SessionState，保证可回放。
//   - 同一会话同一时刻至多一个回合在执行；Running 只在回合边界检查，不中断进行中的模型调用。
//   - 模型调用失败不破坏转写：会话停在 Error 终止态，可单步重试。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"learnlm/server/internal/actor"
	"learnlm/server/internal/director"
	"learnlm/server/internal/model"
	"learnlm/server/internal/session"
	"learnlm/server/internal/timeline"

	"go.uber.org/zap"
)

var (
	// ErrBusy 表示该会话已有回合在执行。
	ErrBusy = errors.New("a turn is already in flight for this session")
	// ErrSessionSolved 表示会话已经以 Solved 结束，需要 Reset 才能继续。
	ErrSessionSolved = errors.New("session already solved")
	// ErrOpeningTooLate 表示学生已经发过言，不能再替换开场白。
	ErrOpeningTooLate = errors.New("opening line can only be set before the first student turn")
	// ErrSessionClosed 表示会话已被关闭，不再接受回合。
	ErrSessionClosed = errors.New("session closed")
)

// TurnFailedError 是唯一会让运行循环停下的错误，转写保持失败前的样子。
type TurnFailedError struct {
	Role model.Role
	Err  error
}

func (e *TurnFailedError) Error() string {
	return fmt.Sprintf("%s turn failed: %v", e.Role, e.Err)
}

func (e *TurnFailedError) Unwrap() error { return e.Err }

// Outcome 描述一次 Tick 的结果。
type Outcome struct {
	// Acted 为 false 表示既没有运行也没有待执行的单步。
	Acted       bool
	Message     *model.Message
	Termination *model.Termination
}

// Options 是 New 的参数。Timeline、Sessions 为空时使用内存实现。
type Options struct {
	SessionID string
	Config    SessionConfig
	Providers Providers
	Dice      director.Dice
	Timeline  timeline.Store
	Sessions  session.Store
	Logger    *zap.Logger
	Now       func() time.Time
}

// Orchestrator 持有一次会话的转写与回合状态，是它们唯一的修改者。
type Orchestrator struct {
	id        string
	cfg       SessionConfig
	providers Providers
	teacher   actor.Agent
	student   actor.Agent
	timeline  timeline.Store
	sessions  session.Store
	logger    *zap.Logger
	now       func() time.Time

	// turn 保证同一时刻至多一个回合。
	turn        sync.Mutex
	running     atomic.Bool
	stepPending atomic.Bool

	mu      sync.RWMutex
	state   model.SessionState
	opening string

	// closeMu 与 apply 互斥：Close 返回后不会再有事件落盘。
	closeMu sync.Mutex
	closed  bool
}

// New 校验配置并创建编排器。配置不一致在这里失败，不会拖到回合中途。
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Providers.validate(opts.Config.IntentMode); err != nil {
		return nil, err
	}
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeline == nil {
		opts.Timeline = timeline.NewInMemoryStore()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Dice.Intent == nil || opts.Dice.Correctness == nil || opts.Dice.Mistake == nil {
		opts.Dice = director.NewRandomDice()
	}
	logger := opts.Logger.With(zap.String("session_id", opts.SessionID))
	cfg := opts.Config

	strategy, err := director.NewStrategy(director.Config{
		Mode:               cfg.IntentMode,
		Catalog:            cfg.Catalog,
		IntentWeights:      cfg.IntentWeights,
		SituationWeights:   cfg.SituationWeights,
		ClassifierTemplate: cfg.Prompts.Classifier,
		Classifier:         opts.Providers.Classifier,
		Roller:             opts.Dice.Intent,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	params := actor.Params{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}

	now := opts.Now()
	o := &Orchestrator{
		id:        opts.SessionID,
		cfg:       cfg,
		providers: opts.Providers,
		teacher:   actor.NewTeacher(opts.Providers.Teacher, cfg.TeacherPrompt, params),
		student: actor.NewStudent(actor.StudentOptions{
			Provider:          opts.Providers.Student,
			BasePrompt:        cfg.StudentPrompt,
			Strategy:          strategy,
			Composer:          actor.NewComposer(cfg.Catalog, cfg.Prompts, opts.Dice),
			CorrectAnswerProb: cfg.CorrectAnswerProb,
			MistakeWeights:    cfg.MistakeWeights,
			Params:            params,
			Logger:            logger,
		}),
		timeline: opts.Timeline,
		sessions: opts.Sessions,
		logger:   logger,
		now:      opts.Now,
		state: model.SessionState{
			SessionID: opts.SessionID,
			Phase:     model.PhaseIdle,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := o.sessions.Save(context.Background(), o.State()); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) Config() SessionConfig { return o.cfg }

// State 返回当前状态的副本。
func (o *Orchestrator) State() model.SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := o.state.Clone()
	st.Running = o.running.Load()
	st.StepPending = o.stepPending.Load()
	return st
}

// Running 报告运行循环是否处于开启状态。
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Stop 请求在下一个回合边界停下，不会中断进行中的模型调用。
func (o *Orchestrator) Stop() {
	if o.running.Swap(false) {
		o.logger.Info("run stop requested")
	}
}

// Close 关闭会话。不等待进行中的模型调用，但其结果会被丢弃，timeline 与快照保持关闭时的样子。
func (o *Orchestrator) Close() {
	o.running.Store(false)
	o.closeMu.Lock()
	o.closed = true
	o.closeMu.Unlock()
	o.logger.Info("session closed")
}

func (o *Orchestrator) isClosed() bool {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	return o.closed
}

// Step 执行一个回合（忽略 Running）。
func (o *Orchestrator) Step(ctx context.Context) (Outcome, error) {
	if !o.turn.TryLock() {
		return Outcome{}, ErrBusy
	}
	defer o.turn.Unlock()

	o.stepPending.Store(true)
	return o.tick(ctx)
}

// Tick 在 Running 或有待执行单步时推进一个回合，否则什么也不做。
func (o *Orchestrator) Tick(ctx context.Context) (Outcome, error) {
	if !o.turn.TryLock() {
		return Outcome{}, ErrBusy
	}
	defer o.turn.Unlock()

	return o.tick(ctx)
}

// Run 持续推进直到被 Stop、会话终止、回合失败或 ctx 结束。
// 回合失败返回 *TurnFailedError；正常终止与 Stop 返回 nil。
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.turn.TryLock() {
		return ErrBusy
	}
	o.running.Store(true)
	return o.loop(ctx)
}

// Start 同步拿到回合锁后在后台运行，返回的通道在循环结束时收到 Run 的结果。
func (o *Orchestrator) Start(ctx context.Context) (<-chan error, error) {
	if !o.turn.TryLock() {
		return nil, ErrBusy
	}
	o.running.Store(true)
	done := make(chan error, 1)
	go func() { done <- o.loop(ctx) }()
	return done, nil
}

// loop 是运行循环，调用方必须已持有 turn。
func (o *Orchestrator) loop(ctx context.Context) error {
	defer o.turn.Unlock()
	defer o.running.Store(false)
	o.logger.Info("run started")

	for o.running.Load() {
		out, err := o.tick(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionSolved) || errors.Is(err, ErrSessionClosed) {
				return nil
			}
			return err
		}
		if out.Termination != nil {
			return nil
		}
		if err := sleepContext(ctx, o.cfg.TurnDelay); err != nil {
			return err
		}
	}
	o.logger.Info("run stopped", zap.Int("step", o.State().StepCount))
	return nil
}

// SubmitOpening 设置学生的脚本化开场白：第一次学生回合直接使用该文本而不调用模型。
// text 为空时撤销。
func (o *Orchestrator) SubmitOpening(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range o.state.Messages {
		if m.Role == model.RoleStudent {
			return ErrOpeningTooLate
		}
	}
	o.opening = strings.TrimSpace(text)
	return nil
}

// Reset 丢弃整份转写并把步数归零。有回合在执行时返回 ErrBusy。
func (o *Orchestrator) Reset(ctx context.Context) error {
	if !o.turn.TryLock() {
		return ErrBusy
	}
	defer o.turn.Unlock()

	o.running.Store(false)
	o.stepPending.Store(false)
	if err := o.apply(ctx, model.Event{Type: model.EventReset}); err != nil {
		return err
	}
	o.mu.Lock()
	o.opening = ""
	o.mu.Unlock()
	o.logger.Info("session reset")
	return nil
}

// Snapshot 返回导出面：配置摘要加完整转写。
func (o *Orchestrator) Snapshot() model.Snapshot {
	st := o.State()
	intents := make(map[string]int, len(o.cfg.IntentWeights))
	for id, w := range o.cfg.IntentWeights {
		intents[string(id)] = w
	}
	return model.Snapshot{
		SessionID: o.id,
		Config: model.SnapshotConfig{
			TeacherModel:        o.providers.Teacher.Name(),
			StudentModel:        o.providers.Student.Name(),
			StudentType:         o.cfg.StudentType,
			IntentMode:          string(o.cfg.IntentMode),
			Temperature:         o.cfg.Temperature,
			MaxTokens:           o.cfg.MaxTokens,
			MaxSteps:            o.cfg.MaxSteps,
			CorrectAnswerProb:   o.cfg.CorrectAnswerProb,
			IntentProbabilities: intents,
		},
		Messages:  st.Messages,
		StepCount: st.StepCount,
	}
}

// tick 是状态机的一个回合，调用方必须持有 turn。
func (o *Orchestrator) tick(ctx context.Context) (Outcome, error) {
	if !o.running.Load() && !o.stepPending.Load() {
		return Outcome{}, nil
	}
	o.stepPending.Store(false)
	if o.isClosed() {
		o.running.Store(false)
		return Outcome{}, ErrSessionClosed
	}

	st := o.State()
	if st.Termination != nil && st.Termination.Reason == model.ReasonSolved {
		o.running.Store(false)
		return Outcome{Acted: true, Termination: st.Termination}, ErrSessionSolved
	}
	// 步数上限在生成之前检查，达到上限时不调用任何模型。
	if st.StepCount >= o.cfg.MaxSteps {
		o.running.Store(false)
		term := &model.Termination{
			Reason: model.ReasonStepLimit,
			Detail: fmt.Sprintf("reached %d steps", o.cfg.MaxSteps),
			At:     o.now(),
		}
		if st.Termination == nil || st.Termination.Reason != model.ReasonStepLimit {
			if err := o.apply(ctx, model.Event{Type: model.EventTerminated, Termination: term, StepCount: st.StepCount}); err != nil {
				return Outcome{}, err
			}
			o.logger.Info("step limit reached", zap.Int("step", st.StepCount))
		}
		return Outcome{Acted: true, Termination: term}, nil
	}

	switch phaseOf(&model.SessionState{Messages: st.Messages}) {
	case model.PhaseIdle:
		return o.greet(ctx)
	case model.PhaseStudentTurn:
		return o.studentTurn(ctx, st)
	default:
		return o.teacherTurn(ctx, st)
	}
}

// greet 写入固定问候语，不调用模型，也不计步。
func (o *Orchestrator) greet(ctx context.Context) (Outcome, error) {
	msg := model.Message{
		Role:     model.RoleTeacher,
		Content:  o.cfg.Prompts.Greeting,
		Scripted: true,
		TS:       o.now(),
	}
	if err := o.appendMessage(ctx, msg, 0); err != nil {
		return Outcome{}, err
	}
	return Outcome{Acted: true, Message: &msg}, nil
}

func (o *Orchestrator) studentTurn(ctx context.Context, st model.SessionState) (Outcome, error) {
	o.mu.RLock()
	opening := o.opening
	o.mu.RUnlock()

	if opening != "" && len(st.Messages) == 1 {
		msg := model.Message{Role: model.RoleStudent, Content: opening, Scripted: true, TS: o.now()}
		if err := o.appendMessage(ctx, msg, st.StepCount); err != nil {
			return Outcome{}, err
		}
		o.mu.Lock()
		o.opening = ""
		o.mu.Unlock()
		return Outcome{Acted: true, Message: &msg}, nil
	}

	msg, err := o.student.Respond(ctx, st.Messages)
	if err != nil {
		return o.fail(ctx, model.RoleStudent, st, err)
	}
	if err := o.appendMessage(ctx, msg, st.StepCount); err != nil {
		return Outcome{}, err
	}
	return Outcome{Acted: true, Message: &msg}, nil
}

func (o *Orchestrator) teacherTurn(ctx context.Context, st model.SessionState) (Outcome, error) {
	msg, err := o.teacher.Respond(ctx, st.Messages)
	if err != nil {
		return o.fail(ctx, model.RoleTeacher, st, err)
	}

	solved := strings.Contains(msg.Content, o.cfg.SolvedMarker)
	if solved {
		msg.Content = strings.TrimSpace(strings.ReplaceAll(msg.Content, o.cfg.SolvedMarker, ""))
	}
	step := st.StepCount + 1
	if err := o.appendMessage(ctx, msg, step); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Acted: true, Message: &msg}
	if solved {
		o.running.Store(false)
		term := &model.Termination{Reason: model.ReasonSolved, At: o.now()}
		if err := o.apply(ctx, model.Event{Type: model.EventTerminated, Termination: term, StepCount: step}); err != nil {
			return Outcome{}, err
		}
		o.logger.Info("session solved", zap.Int("step", step))
		out.Termination = term
	}
	return out, nil
}

// fail 停下运行循环并记录失败，转写与步数保持不变。
func (o *Orchestrator) fail(ctx context.Context, role model.Role, st model.SessionState, err error) (Outcome, error) {
	o.running.Store(false)
	turnErr := &TurnFailedError{Role: role, Err: err}
	term := &model.Termination{Reason: model.ReasonError, Detail: turnErr.Error(), At: o.now()}
	o.logger.Error("turn failed", zap.String("role", string(role)), zap.Int("step", st.StepCount), zap.Error(err))

	if appendErr := o.apply(ctx, model.Event{
		Type:        model.EventTurnFailed,
		Termination: term,
		StepCount:   st.StepCount,
		Error:       err.Error(),
	}); appendErr != nil {
		if errors.Is(appendErr, ErrSessionClosed) {
			return Outcome{}, appendErr
		}
		return Outcome{}, errors.Join(turnErr, appendErr)
	}
	return Outcome{Acted: true, Termination: term}, turnErr
}

func (o *Orchestrator) appendMessage(ctx context.Context, msg model.Message, step int) error {
	if err := o.apply(ctx, model.Event{Type: model.EventMessageAppended, Message: &msg, StepCount: step}); err != nil {
		return err
	}
	o.logger.Info("message appended",
		zap.String("role", string(msg.Role)),
		zap.String("intent", msg.IntentID),
		zap.String("situation", msg.Situation),
		zap.Int("step", step))
	return nil
}

// apply 先写 timeline 再归约状态并保存快照。
func (o *Orchestrator) apply(ctx context.Context, evt model.Event) error {
	o.closeMu.Lock()
	defer o.closeMu.Unlock()
	if o.closed {
		return ErrSessionClosed
	}

	now := o.now()
	evt.SessionID = o.id
	evt.ServerTS = now
	// 模型调用结束后的事实必须落盘，即使调用方已经取消。
	ctx = context.WithoutCancel(ctx)
	seq, err := o.timeline.Append(ctx, o.id, &evt)
	if err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	evt.Seq = seq

	o.mu.Lock()
	Reduce(&o.state, evt, now)
	o.mu.Unlock()

	// 快照只用于列表与恢复，保存失败不影响本回合结果。
	if err := o.sessions.Save(ctx, o.State()); err != nil {
		o.logger.Warn("save session snapshot failed", zap.Error(err))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
