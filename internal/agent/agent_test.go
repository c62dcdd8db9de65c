package agent

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AgentHub/internal/agentstore"
	"AgentHub/internal/chat"
	"AgentHub/internal/checkpoint"
	"AgentHub/internal/llm"
	"AgentHub/internal/skill"
	"AgentHub/internal/wallet"
)

// scriptedBackend 依次返回预设的回复。
type scriptedBackend struct {
	mu       sync.Mutex
	replies  []*llm.Message
	errAt    int
	requests []llm.Request
}

func (b *scriptedBackend) Chat(_ context.Context, req llm.Request) (*llm.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	n := len(b.requests)
	if b.errAt > 0 && n == b.errAt {
		return nil, errors.New("upstream exploded")
	}
	if n > len(b.replies) {
		return &llm.Message{Content: "done"}, nil
	}
	return b.replies[n-1], nil
}

type fixedTool struct {
	name   string
	origin string
	result string
	err    error
}

func (f *fixedTool) Name() string            { return f.name }
func (f *fixedTool) Description() string     { return f.origin }
func (f *fixedTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f *fixedTool) Invoke(context.Context, json.RawMessage) (string, error) {
	return f.result, f.err
}

var testFamilies = llm.Families{
	{Name: "generic", Prefixes: []string{"generic"}, InputTokenLimit: 100000,
		Capabilities: llm.Capabilities{MidConversationSystemMessages: true, ToolCalls: true}},
	{Name: "firstonly", Prefixes: []string{"firstonly"}, InputTokenLimit: 100000},
}

type fixture struct {
	agents   *agentstore.MemoryStore
	messages *chat.MemoryStore
	saver    *checkpoint.MemorySaver
	skills   *skill.MemoryStore
	registry *skill.Registry
	backend  *scriptedBackend
	builds   atomic.Int32
	builder  *Builder
	cache    *Cache
	exec     *Executor
}

func newFixture(t *testing.T, backend *scriptedBackend, categories ...skill.Category) *fixture {
	t.Helper()
	f := &fixture{
		agents:   agentstore.NewMemoryStore(),
		messages: chat.NewMemoryStore(),
		saver:    checkpoint.NewMemorySaver(),
		skills:   skill.NewMemoryStore(),
		registry: skill.NewRegistry(16),
		backend:  backend,
	}
	f.registry.MustRegister(categories...)
	f.builder = NewBuilder(BuilderConfig{
		Data:     f.agents,
		Families: testFamilies,
		NewBackend: func(llm.BackendConfig) (llm.Backend, error) {
			f.builds.Add(1)
			return f.backend, nil
		},
		Registry:      f.registry,
		SkillStore:    f.skills,
		Saver:         f.saver,
		SystemPrompt:  "You are hosted on AgentHub.",
		MaxSteps:      10,
		PrivateSkills: true,
	})
	f.cache = NewCache(f.agents, f.builder)
	f.exec = NewExecutor(f.cache, f.messages)
	return f
}

func (f *fixture) createAgent(t *testing.T, a *agentstore.Agent) {
	t.Helper()
	if err := f.agents.Create(context.Background(), a); err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func category(name string, stateless bool, counter *atomic.Int32, tools ...*fixedTool) skill.Category {
	names := make([]string, 0, len(tools))
	byName := map[string]*fixedTool{}
	for _, t := range tools {
		names = append(names, t.name)
		byName[t.name] = t
	}
	return skill.Category{
		Name:      name,
		Skills:    names,
		Stateless: stateless,
		New: func(skillName string, _ skill.Env) (skill.Tool, error) {
			if counter != nil {
				counter.Add(1)
			}
			return byName[skillName], nil
		},
	}
}

func enabled(skills ...string) agentstore.SkillCategoryConfig {
	states := map[string]agentstore.SkillState{}
	for _, s := range skills {
		states[s] = agentstore.StatePublic
	}
	return agentstore.SkillCategoryConfig{Enabled: true, States: states}
}

func TestEndToEndSingleTextTurn(t *testing.T) {
	var instantiations atomic.Int32
	backend := &scriptedBackend{replies: []*llm.Message{{Content: "hello there", Usage: &llm.Usage{InputTokens: 12, OutputTokens: 3}}}}
	f := newFixture(t, backend, category("common", true, &instantiations, &fixedTool{name: "current_time", result: "now"}))
	f.createAgent(t, &agentstore.Agent{
		ID: "alpha", Name: "Alpha", Model: "generic-1",
		Purpose: "Help users.", Personality: "Cheerful.",
		Skills: map[string]agentstore.SkillCategoryConfig{"common": enabled("current_time")},
	})

	out, err := f.exec.Run(context.Background(), &chat.Message{AgentID: "alpha", ChatID: "c1", AuthorType: chat.AuthorWeb, Message: "hi"}, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0].AuthorType != chat.AuthorAgent || out[0].Message != "hello there" {
		t.Fatalf("unexpected messages %+v", out)
	}
	if out[0].InputTokens != 12 || out[0].OutputTokens != 3 || out[0].ColdStartCost <= 0 || out[0].TimeCost < 0 {
		t.Fatalf("unexpected accounting %+v", out[0])
	}
	if instantiations.Load() != 1 {
		t.Fatalf("expected one skill instantiation, got %d", instantiations.Load())
	}

	system := backend.requests[0].Messages[0].Content
	purpose := strings.Index(system, "## Purpose")
	personality := strings.Index(system, "## Personality")
	if purpose < 0 || personality < purpose || !strings.HasPrefix(system, "# SYSTEM PROMPT\n\nYou are hosted on AgentHub.\n\nYour name is Alpha.\n") {
		t.Fatalf("unexpected system prompt %q", system)
	}
	last := backend.requests[0].Messages[len(backend.requests[0].Messages)-1]
	if last.Role != llm.RoleUser || last.Text() != "hi" {
		t.Fatalf("user input not forwarded: %+v", last)
	}

	persisted := f.messages.All()
	if len(persisted) != 2 || persisted[0].Message != "hi" || persisted[1].ID != out[0].ID {
		t.Fatalf("unexpected persisted messages %+v", persisted)
	}
}

func TestToolBatchThenTextOrderingAndTruncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	backend := &scriptedBackend{replies: []*llm.Message{
		{ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"eth"}`)},
			{ID: "call-2", Name: "broken"},
		}, Usage: &llm.Usage{InputTokens: 40, OutputTokens: 8}},
		{Content: "final answer"},
	}}
	f := newFixture(t, backend, category("data", false, nil,
		&fixedTool{name: "lookup", result: long},
		&fixedTool{name: "broken", err: errors.New("rpc down")},
	))
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1",
		Skills: map[string]agentstore.SkillCategoryConfig{"data": enabled("lookup", "broken")}})

	run := func(chatID string, debug bool) []*chat.Message {
		out, err := f.exec.Run(context.Background(), &chat.Message{AgentID: "alpha", ChatID: chatID, Message: "go"}, debug)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return out
	}

	out := run("c1", false)
	if len(out) != 2 || out[0].AuthorType != chat.AuthorSkill || out[1].AuthorType != chat.AuthorAgent {
		t.Fatalf("unexpected sequence %+v", out)
	}
	calls := out[0].SkillCalls
	if len(calls) != 2 {
		t.Fatalf("expected two skill calls, got %+v", calls)
	}
	if !calls[0].Success || calls[0].Response != strings.Repeat("x", 100)+"..." || string(calls[0].Parameters) != `{"q":"eth"}` {
		t.Fatalf("unexpected first call %+v", calls[0])
	}
	if calls[1].Success || !strings.Contains(calls[1].ErrorMessage, "rpc down") {
		t.Fatalf("unexpected failed call %+v", calls[1])
	}
	if out[0].InputTokens != 40 || out[0].OutputTokens != 8 {
		t.Fatalf("skill message should carry the tool-call usage: %+v", out[0])
	}
	if out[0].ColdStartCost <= 0 || out[1].ColdStartCost != 0 {
		t.Fatalf("cold start must be attached to the first message only: %v %v", out[0].ColdStartCost, out[1].ColdStartCost)
	}
	for _, m := range out {
		if m.TimeCost < 0 {
			t.Fatalf("negative time cost %+v", m)
		}
	}

	backend.mu.Lock()
	backend.requests = nil
	backend.mu.Unlock()
	out = run("c2", true)
	if out[0].SkillCalls[0].Response != long {
		t.Fatalf("debug mode must keep full response")
	}
	if out[0].ColdStartCost != 0 {
		t.Fatalf("no rebuild happened, cold start should be zero")
	}
}

func TestMidTurnErrorPersistsSystemMessage(t *testing.T) {
	backend := &scriptedBackend{
		replies: []*llm.Message{{ToolCalls: []llm.ToolCall{{ID: "1", Name: "lookup"}}}},
		errAt:   2,
	}
	f := newFixture(t, backend, category("data", false, nil, &fixedTool{name: "lookup", result: "ok"}))
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1",
		Skills: map[string]agentstore.SkillCategoryConfig{"data": enabled("lookup")}})

	out, err := f.exec.Run(context.Background(), &chat.Message{AgentID: "alpha", ChatID: "c1", Message: "go"}, false)
	if err != nil {
		t.Fatalf("mid-turn errors must not propagate: %v", err)
	}
	if len(out) != 2 || out[0].AuthorType != chat.AuthorSkill || out[1].AuthorType != chat.AuthorSystem {
		t.Fatalf("unexpected messages %+v", out)
	}
	if !strings.HasPrefix(out[1].Message, "Error in agent:\n  ") || !strings.Contains(out[1].Message, "upstream exploded") {
		t.Fatalf("unexpected error message %q", out[1].Message)
	}
}

func TestRunPropagatesNotFound(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	_, err := f.exec.Run(context.Background(), &chat.Message{AgentID: "ghost", ChatID: "c1", Message: "hi"}, false)
	if !agentstore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCacheInvalidation(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1"})
	ctx := context.Background()

	g1, cold, err := f.cache.GetOrBuild(ctx, "alpha")
	if err != nil || cold <= 0 {
		t.Fatalf("first build: %v cold=%v", err, cold)
	}
	g2, cold, _ := f.cache.GetOrBuild(ctx, "alpha")
	if g1 != g2 || cold != 0 {
		t.Fatalf("unchanged agent must reuse the graph")
	}

	a, _ := f.agents.Get(ctx, "alpha")
	a.Name = "renamed"
	if err := f.agents.Update(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}
	g3, cold, _ := f.cache.GetOrBuild(ctx, "alpha")
	if g3 == g1 || cold <= 0 {
		t.Fatalf("changed agent must be rebuilt")
	}
	if f.builds.Load() != 2 {
		t.Fatalf("expected 2 builds, got %d", f.builds.Load())
	}

	f.cache.Invalidate("alpha")
	g4, cold, _ := f.cache.GetOrBuild(ctx, "alpha")
	if g4 == g3 || cold <= 0 || f.builds.Load() != 3 {
		t.Fatalf("invalidated agent must be rebuilt")
	}
}

func TestCachePerAgentLockBuildsOnce(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1"})
	cache := NewCache(f.agents, f.builder, WithPerAgentLock(true))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := cache.GetOrBuild(context.Background(), "alpha"); err != nil {
				t.Errorf("GetOrBuild: %v", err)
			}
		}()
	}
	wg.Wait()
	if cache.Len() != 1 {
		t.Fatalf("expected one cache entry")
	}
}

// gatedBuilder 在 release 关闭前阻塞构建，并像真实构建一样尊重 ctx。
type gatedBuilder struct {
	inner   GraphBuilder
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBuilder) Build(ctx context.Context, a *agentstore.Agent) (*Graph, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.inner.Build(ctx, a)
}

func TestCachePerAgentLockSurvivesFirstCallerCancel(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1"})
	gate := &gatedBuilder{inner: f.builder, entered: make(chan struct{}, 1), release: make(chan struct{})}
	cache := NewCache(f.agents, gate, WithPerAgentLock(true))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrBuild(ctx, "alpha")
		first <- err
	}()
	<-gate.entered
	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should stop waiting, got %v", err)
	}

	second := make(chan error, 1)
	go func() {
		g, _, err := cache.GetOrBuild(context.Background(), "alpha")
		if err == nil && g == nil {
			err = errors.New("nil graph")
		}
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	if err := <-second; err != nil {
		t.Fatalf("waiter must not inherit another caller's cancellation: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected the shared build to be cached")
	}
}

func TestDedupeLaterCategoryWins(t *testing.T) {
	f := newFixture(t, &scriptedBackend{},
		category("first", true, nil, &fixedTool{name: "price", origin: "first"}, &fixedTool{name: "news", origin: "first"}),
		category("second", true, nil, &fixedTool{name: "price", origin: "second"}),
	)
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1", Skills: map[string]agentstore.SkillCategoryConfig{
		"first":  enabled("price", "news"),
		"second": enabled("price"),
	}})
	g, _, err := f.cache.GetOrBuild(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if names := g.ToolNames(); len(names) != 2 || names[0] != "price" || names[1] != "news" {
		t.Fatalf("unexpected tools %v", names)
	}
	if tool, _ := g.Tool("price"); tool.Description() != "second" {
		t.Fatalf("later category must win, got %s", tool.Description())
	}
}

func TestBuilderSkipsBrokenCategoryAndUnknownModel(t *testing.T) {
	broken := skill.Category{Name: "broken", Skills: []string{"x"}, New: func(string, skill.Env) (skill.Tool, error) {
		return nil, errors.New("bad credentials")
	}}
	f := newFixture(t, &scriptedBackend{}, broken, category("ok", true, nil, &fixedTool{name: "ping"}))
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1", Skills: map[string]agentstore.SkillCategoryConfig{
		"broken": enabled("x"),
		"ok":     enabled("ping"),
	}})
	g, _, err := f.cache.GetOrBuild(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("one bad skill must not prevent startup: %v", err)
	}
	if names := g.ToolNames(); len(names) != 1 || names[0] != "ping" {
		t.Fatalf("unexpected tools %v", names)
	}

	f.createAgent(t, &agentstore.Agent{ID: "beta", Model: "mystery-9"})
	if _, _, err := f.cache.GetOrBuild(context.Background(), "beta"); err == nil {
		t.Fatalf("unknown model must fail the build")
	}
}

func TestBackendWithoutMidConversationSystemMessages(t *testing.T) {
	f := newFixture(t, &scriptedBackend{}, category("twitter", false, nil, &fixedTool{name: "twitter_post_tweet"}))
	ctx := context.Background()
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "firstonly-chat", PromptAppend: "Always answer in {json}.",
		Skills: map[string]agentstore.SkillCategoryConfig{"twitter": enabled("twitter_post_tweet")}})
	_, _ = f.agents.SetData(ctx, "alpha", agentstore.DataPatch{TwitterID: agentstore.Ptr("42"), TwitterUsername: agentstore.Ptr("alpha_bot")})

	g, _, err := f.cache.GetOrBuild(ctx, "alpha")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.ToolNames()) != 0 {
		t.Fatalf("tools must be dropped for backends without tool support")
	}
	system := g.SystemMessages()
	if len(system) != 3 || !strings.HasPrefix(system[2], "# SYSTEM PROMPT") {
		t.Fatalf("extra sections must be prepended: %q", system)
	}
	if system[0] != "Always answer in {{json}}." || !strings.Contains(system[1], "alpha_bot") {
		t.Fatalf("unexpected prepended sections %q", system)
	}

	rendered, err := RenderTemplate(system[0], nil)
	if err != nil || rendered != "Always answer in {json}." {
		t.Fatalf("escaped text must render back: %q %v", rendered, err)
	}
}

type countingKeys struct {
	inner   wallet.KeyService
	created atomic.Int32
}

func (c *countingKeys) CreateAccount(ctx context.Context, n string) (wallet.Material, error) {
	c.created.Add(1)
	return c.inner.CreateAccount(ctx, n)
}
func (c *countingKeys) PrivateKey(m wallet.Material) (*ecdsa.PrivateKey, error) { return c.inner.PrivateKey(m) }

func TestWalletProvisionedOnceAcrossRebuilds(t *testing.T) {
	var seen []*wallet.Handle
	walletCat := skill.Category{Name: "wallet", Skills: []string{"get_wallet_details"}, RequiresWallet: true,
		New: func(string, skill.Env) (skill.Tool, error) { return &fixedTool{name: "get_wallet_details"}, nil }}
	f := newFixture(t, &scriptedBackend{}, walletCat)
	keys := &countingKeys{inner: wallet.NewKeystoreService("pw")}
	f.builder.cfg.Wallets = &recordingProvisioner{inner: wallet.NewProvisioner(keys, f.agents, "base-sepolia"), seen: &seen}
	ctx := context.Background()
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1",
		Skills: map[string]agentstore.SkillCategoryConfig{"wallet": enabled("get_wallet_details")}})

	for i := 0; i < 3; i++ {
		a, _ := f.agents.Get(ctx, "alpha")
		if err := f.agents.Update(ctx, a); err != nil {
			t.Fatalf("update: %v", err)
		}
		g, _, err := f.cache.GetOrBuild(ctx, "alpha")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, ok := g.Tool("get_wallet_details"); !ok {
			t.Fatalf("wallet tool missing")
		}
	}
	if keys.created.Load() != 1 {
		t.Fatalf("expected a single provisioning, got %d", keys.created.Load())
	}
	if len(seen) != 3 || seen[0].Address() != seen[2].Address() {
		t.Fatalf("wallet address changed across builds")
	}
	data, _ := f.agents.GetData(ctx, "alpha")
	if !data.HasWallet() {
		t.Fatalf("wallet material not persisted")
	}
}

type recordingProvisioner struct {
	inner *wallet.Provisioner
	seen  *[]*wallet.Handle
}

func (r *recordingProvisioner) Ensure(ctx context.Context, a *agentstore.Agent) (*wallet.Handle, error) {
	h, err := r.inner.Ensure(ctx, a)
	if err == nil {
		*r.seen = append(*r.seen, h)
	}
	return h, err
}
