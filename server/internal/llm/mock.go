package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrScriptExhausted 表示 ScriptedProvider 的预设回复已用完。
var ErrScriptExhausted = errors.New("scripted provider has no more replies")

// Reply 是 ScriptedProvider 的一条预设结果。
type Reply struct {
	Response Response
	Err      error
}

// Text 构造一条成功回复。
func Text(text string) Reply { return Reply{Response: Response{Text: text}} }

// Fail 构造一条失败回复。
func Fail(err error) Reply { return Reply{Err: err} }

// ScriptedProvider 按顺序返回预设回复，并记录调用，用于测试。
type ScriptedProvider struct {
	mu       sync.Mutex
	name     string
	replies  []Reply
	requests []Request
	// Fallback 在预设回复用完后返回；为 nil 时返回 ErrScriptExhausted。
	Fallback *Reply
}

func NewScriptedProvider(name string, replies ...Reply) *ScriptedProvider {
	return &ScriptedProvider{name: name, replies: replies}
}

func (p *ScriptedProvider) Name() string { return "scripted:" + p.name }

func (p *ScriptedProvider) Generate(_ context.Context, req Request) (Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		if p.Fallback != nil {
			return p.Fallback.Response, p.Fallback.Err
		}
		return Response{}, ErrScriptExhausted
	}
	next := p.replies[0]
	p.replies = p.replies[1:]
	return next.Response, next.Err
}

// Push 追加预设回复。
func (p *ScriptedProvider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Calls 返回已发生的调用次数。
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests 返回已记录的请求副本。
func (p *ScriptedProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// EchoProvider 是无需密钥的本地提供商（kind: mock），复述对方最后一句话，便于本地联调。
type EchoProvider struct {
	mu    sync.Mutex
	model string
	n     int
}

func NewEchoProvider(model string) *EchoProvider { return &EchoProvider{model: model} }

func (p *EchoProvider) Name() string { return "mock:" + p.model }

func (p *EchoProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	p.mu.Lock()
	p.n++
	n := p.n
	p.mu.Unlock()

	last := openerText
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == RoleOther {
			last = req.History[i].Content
			break
		}
	}
	return Response{
		Text:      fmt.Sprintf("reply %d to: %s", n, last),
		Reasoning: fmt.Sprintf("echo of %d history messages", len(req.History)),
	}, nil
}

// BlockingProvider 在 Release 之前阻塞每次调用，用于测试回合进行中的行为。
type BlockingProvider struct {
	name    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func NewBlockingProvider(name string) *BlockingProvider {
	return &BlockingProvider{
		name:    name,
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (p *BlockingProvider) Name() string { return "blocking:" + p.name }

// Entered 在每次调用开始阻塞时收到一个信号。
func (p *BlockingProvider) Entered() <-chan struct{} { return p.entered }

// Release 放行所有进行中与之后的调用。
func (p *BlockingProvider) Release() { p.once.Do(func() { close(p.release) }) }

func (p *BlockingProvider) Generate(ctx context.Context, _ Request) (Response, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
		return Response{Text: "released"}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
