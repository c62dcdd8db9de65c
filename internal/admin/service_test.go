package admin

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"AgentHub/internal/agentstore"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/telegram"
	"AgentHub/internal/wallet"
)

type catalog map[string][]string

func (c catalog) CategorySkills(name string) ([]string, bool) {
	skills, ok := c[name]
	return skills, ok
}

var testCatalog = catalog{
	"wallet": {"get_balance", "get_wallet_details", "transfer"},
	"common": {"current_time"},
}

type post struct {
	title  string
	fields map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	posts []post
}

func (r *recordingNotifier) Post(_ context.Context, title, _ string, fields []alerting.Field) error {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Title] = f.Value
	}
	r.mu.Lock()
	r.posts = append(r.posts, post{title: title, fields: m})
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) last(t *testing.T) post {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.posts) == 0 {
		t.Fatalf("no notification sent")
	}
	return r.posts[len(r.posts)-1]
}

type fakeBots struct {
	calls int
	err   error
}

func (f *fakeBots) Resolve(_ context.Context, token string) (telegram.Identity, error) {
	f.calls++
	if f.err != nil {
		return telegram.Identity{}, f.err
	}
	return telegram.Identity{ID: "77", Username: "bot_" + token, Name: "Alpha Bot"}, nil
}

type failingKeys struct{}

func (failingKeys) CreateAccount(context.Context, string) (wallet.Material, error) {
	return wallet.Material{}, errors.New("kms down")
}
func (failingKeys) PrivateKey(wallet.Material) (*ecdsa.PrivateKey, error) { return nil, errors.New("no key") }

type fakeCleaner struct {
	agentID, chatID string
	memory, skills  bool
}

func (f *fakeCleaner) Clean(_ context.Context, agentID, chatID string, memory, skills bool) error {
	f.agentID, f.chatID, f.memory, f.skills = agentID, chatID, memory, skills
	return nil
}

type recordingGraphs struct {
	dropped []string
}

func (r *recordingGraphs) Invalidate(agentID string) { r.dropped = append(r.dropped, agentID) }

type fixture struct {
	svc      *Service
	agents   *agentstore.MemoryStore
	notifier *recordingNotifier
	bots     *fakeBots
	cleaner  *fakeCleaner
	graphs   *recordingGraphs
}

func newFixture(keys wallet.KeyService) *fixture {
	agents := agentstore.NewMemoryStore()
	f := &fixture{agents: agents, notifier: &recordingNotifier{}, bots: &fakeBots{}, cleaner: &fakeCleaner{}, graphs: &recordingGraphs{}}
	f.svc = NewService(Config{
		Agents:   agents,
		Catalog:  testCatalog,
		Wallets:  wallet.NewProvisioner(keys, agents, "base-sepolia"),
		Bots:     f.bots,
		Notifier: f.notifier,
		Cleaner:  f.cleaner,
		Graphs:   f.graphs,
	})
	return f
}

func walletAgent(id string) *agentstore.Agent {
	return &agentstore.Agent{ID: id, Name: "Alpha", Model: "gpt-4o-mini", Skills: map[string]agentstore.SkillCategoryConfig{
		"wallet": {Enabled: true, States: map[string]agentstore.SkillState{"get_balance": agentstore.StatePublic, "transfer": agentstore.StatePrivate}},
	}}
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()

	res, err := f.svc.Upsert(ctx, walletAgent("alpha"), "owner-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.Created || res.Agent.Owner != "owner-1" || res.Agent.Number != 1 {
		t.Fatalf("unexpected create result %+v", res.Agent)
	}
	if !res.Data.HasWallet() {
		t.Fatalf("wallet should be provisioned")
	}
	created := f.notifier.last(t)
	if created.title != TitleCreated {
		t.Fatalf("unexpected title %q", created.title)
	}
	address := created.fields["Wallet Address"]
	if !strings.HasPrefix(address, "0x") {
		t.Fatalf("unexpected wallet address %q", address)
	}
	if created.fields["Network"] != "Default" {
		t.Fatalf("network should fall back to Default, got %q", created.fields["Network"])
	}
	if got := created.fields["Skills"]; got != "• wallet:\n  Public: get_balance\n  Private: transfer" {
		t.Fatalf("unexpected skills field %q", got)
	}

	update := walletAgent("alpha")
	update.Name = "Alpha 2"
	res, err = f.svc.Upsert(ctx, update, "someone-else")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Created || res.Agent.Owner != "owner-1" {
		t.Fatalf("owner must be kept on update, got %+v", res.Agent)
	}
	updated := f.notifier.last(t)
	if updated.title != TitleUpdated || updated.fields["Wallet Address"] != address {
		t.Fatalf("update should reuse wallet %q, got %+v", address, updated)
	}
}

func TestWalletFailureReportsUnknownAddress(t *testing.T) {
	f := newFixture(failingKeys{})
	res, err := f.svc.Upsert(context.Background(), walletAgent("alpha"), "")
	if err != nil {
		t.Fatalf("create should succeed despite wallet failure: %v", err)
	}
	if res.Data.HasWallet() {
		t.Fatalf("placeholder must not be persisted")
	}
	if got := f.notifier.last(t).fields["Wallet Address"]; got != wallet.UnknownAddress {
		t.Fatalf("expected unknown address, got %q", got)
	}
}

func TestCreateV2ReturnsExistingUpstream(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	first := &agentstore.Agent{ID: "alpha", Model: "m", UpstreamID: "up-1"}
	if _, err := f.svc.Create(ctx, first, "o"); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := f.svc.Create(ctx, &agentstore.Agent{ID: "beta", Model: "m", UpstreamID: "up-1"}, "o")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if res.Created || res.Agent.ID != "alpha" {
		t.Fatalf("expected existing agent, got %+v", res)
	}
	if _, err := f.svc.Create(ctx, &agentstore.Agent{ID: "alpha", Model: "m"}, "o"); !xerrors.HasCode(err, agentstore.CodeAgentExists) {
		t.Fatalf("duplicate id should conflict, got %v", err)
	}
}

func TestPatchMergesFields(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	if _, err := f.svc.Upsert(ctx, &agentstore.Agent{ID: "alpha", Name: "Alpha", Model: "m", Purpose: "help"}, "o"); err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := f.agents.Get(ctx, "alpha")

	res, err := f.svc.Patch(ctx, "alpha", json.RawMessage(`{"name":"Renamed","id":"hijack","owner":"x","number":99}`))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	a := res.Agent
	if a.Name != "Renamed" || a.Purpose != "help" || a.ID != "alpha" || a.Owner != "o" || a.Number != before.Number {
		t.Fatalf("unexpected merge %+v", a)
	}
	if !a.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("updated_at must advance")
	}
	if ETag(a) == ETag(before) {
		t.Fatalf("etag must change with updated_at")
	}

	if _, err := f.svc.Patch(ctx, "alpha", json.RawMessage(`{"temperature":5}`)); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("invalid patch should fail validation, got %v", err)
	}
}

func TestOverrideChecksOwner(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	_, _ = f.svc.Upsert(ctx, &agentstore.Agent{ID: "alpha", Model: "m"}, "owner-1")

	_, err := f.svc.Override(ctx, "alpha", &agentstore.Agent{Model: "m2"}, "intruder")
	if xerrors.CodeOf(err) != xerrors.CodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	res, err := f.svc.Override(ctx, "alpha", &agentstore.Agent{Model: "m2"}, "owner-1")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if res.Agent.ID != "alpha" || res.Agent.Model != "m2" || f.notifier.last(t).title != TitleOverridden {
		t.Fatalf("unexpected override result %+v", res.Agent)
	}
}

func TestWritesDropCompiledGraph(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	if _, err := f.svc.Upsert(ctx, &agentstore.Agent{ID: "alpha", Model: "m"}, "owner-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := f.svc.Override(ctx, "alpha", &agentstore.Agent{Model: "m2"}, "intruder"); err == nil {
		t.Fatalf("expected permission denied")
	}
	if _, err := f.svc.Override(ctx, "alpha", &agentstore.Agent{Model: "m2"}, "owner-1"); err != nil {
		t.Fatalf("override: %v", err)
	}
	// 解绑只改 agent_data，updated_at 不变，必须显式失效。
	if _, err := f.svc.UnlinkTwitter(ctx, "alpha"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if strings.Join(f.graphs.dropped, ",") != "alpha,alpha,alpha" {
		t.Fatalf("unexpected invalidations %v", f.graphs.dropped)
	}
}

func TestTelegramResolvedOnTokenChange(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	a := &agentstore.Agent{ID: "alpha", Model: "m", TelegramEntrypointEnabled: true, TelegramToken: "t1"}
	res, err := f.svc.Upsert(ctx, a, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Data == nil || res.Data.TelegramUsername != "bot_t1" || res.Data.TelegramName != "Alpha Bot" {
		t.Fatalf("telegram identity not stored: %+v", res.Data)
	}
	if f.notifier.last(t).fields["Telegram Username"] != "bot_t1" {
		t.Fatalf("notification should carry telegram username")
	}

	same := &agentstore.Agent{ID: "alpha", Model: "m", TelegramEntrypointEnabled: true, TelegramToken: "t1"}
	if _, err := f.svc.Upsert(ctx, same, ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.bots.calls != 1 {
		t.Fatalf("unchanged token must not be resolved again, calls=%d", f.bots.calls)
	}

	f.bots.err = errors.New("unauthorized")
	changed := &agentstore.Agent{ID: "alpha", Model: "m", TelegramEntrypointEnabled: true, TelegramToken: "t2"}
	if _, err := f.svc.Upsert(ctx, changed, ""); err != nil {
		t.Fatalf("telegram failure must not fail the update: %v", err)
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	a := &agentstore.Agent{ID: "alpha", Model: "m", Skills: map[string]agentstore.SkillCategoryConfig{
		"common": {Enabled: true, States: map[string]agentstore.SkillState{}},
	}}
	if _, err := f.svc.Upsert(ctx, a, "owner-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := f.svc.ExportYAML(ctx, "alpha")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(out), "current_time: disabled") {
		t.Fatalf("export should list every skill:\n%s", out)
	}

	edited := strings.Replace(string(out), "current_time: disabled", "current_time: public", 1)
	if _, err := f.svc.ImportYAML(ctx, "alpha", []byte(edited), "intruder"); xerrors.CodeOf(err) != xerrors.CodePermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
	res, err := f.svc.ImportYAML(ctx, "alpha", []byte(edited), "owner-1")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Agent.Skills["common"].States["current_time"] != agentstore.StatePublic || res.Agent.Owner != "owner-1" {
		t.Fatalf("unexpected import %+v", res.Agent)
	}
	if f.notifier.last(t).title != TitleImported {
		t.Fatalf("unexpected title")
	}
}

func TestUnlinkTwitterAndCleanMemory(t *testing.T) {
	f := newFixture(wallet.NewKeystoreService("pw"))
	ctx := context.Background()
	_, _ = f.svc.Upsert(ctx, &agentstore.Agent{ID: "alpha", Model: "m"}, "")
	_, _ = f.agents.SetData(ctx, "alpha", agentstore.DataPatch{TwitterID: agentstore.Ptr("1"), TwitterUsername: agentstore.Ptr("alpha_x")})

	data, err := f.svc.UnlinkTwitter(ctx, "alpha")
	if err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if data.TwitterID != "" || data.TwitterUsername != "" {
		t.Fatalf("twitter fields not cleared: %+v", data)
	}

	req := CleanMemoryRequest{AgentID: "alpha", ChatID: "c1", CleanAgentMemory: true}
	if err := f.svc.CleanMemory(ctx, req); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if f.cleaner.agentID != "alpha" || f.cleaner.chatID != "c1" || !f.cleaner.memory || f.cleaner.skills {
		t.Fatalf("unexpected clean call %+v", f.cleaner)
	}
	if err := f.svc.CleanMemory(ctx, CleanMemoryRequest{AgentID: "ghost", CleanAgentMemory: true}); !agentstore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFormatSkills(t *testing.T) {
	if got := FormatSkills(nil); got != "None" {
		t.Fatalf("got %q", got)
	}
	disabled := map[string]agentstore.SkillCategoryConfig{"common": {Enabled: false}}
	if got := FormatSkills(disabled); got != "No enabled skills" {
		t.Fatalf("got %q", got)
	}
}
