package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/user/checkmate/internal/blob"
	"github.com/user/checkmate/internal/capability"
	"github.com/user/checkmate/internal/config"
	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/session"
	"github.com/user/checkmate/internal/store"
	"github.com/user/checkmate/internal/types"
	"github.com/user/checkmate/pkg/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.NewRegistry(), testLogger())
}

// passBudget renders without trimming.
type passBudget struct{}

func (passBudget) Fit(m *types.SessionMemory, render func(*types.SessionMemory) (string, error)) (string, error) {
	return render(m)
}

// fakeProvider routes by system prompt: the manager prompt gets managerJSON,
// anything else gets checkerJSON.
type fakeProvider struct {
	managerJSON string
	checkerJSON string
	lastPayload string
}

func (f *fakeProvider) Complete(ctx context.Context, system string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	if system == managerSystemPrompt {
		f.lastPayload = messages[len(messages)-1].Content
		return &llm.Response{Content: f.managerJSON}, nil
	}
	return &llm.Response{Content: f.checkerJSON}, nil
}

func managerReplyJSON(t *testing.T, route types.MediaRoute, agentCtx *types.AgentContext, notifications []types.Notification) string {
	t.Helper()
	reply := types.ManagerReply{
		UpdatedMemory: types.NewSessionMemory(types.SessionSettings{}),
		Route:         route,
		AgentContext:  agentCtx,
		Notifications: notifications,
	}
	reply.UpdatedMemory.Timeline = []types.TimelineEntry{{T: "00:10", Event: "reading article"}}
	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestValidateRoutingAllPairs(t *testing.T) {
	contexts := map[string]*types.AgentContext{
		"text":       types.TextContext("some text", nil),
		"text_image": types.TextImageContext("caption", nil, "sess/img1"),
		"video":      types.VideoContext("", nil, "transcript"),
		"none":       nil,
	}
	valid := map[types.MediaRoute]string{
		types.RouteText:       "text",
		types.RouteTextImage:  "text_image",
		types.RouteShortVideo: "video",
		types.RouteLongVideo:  "video",
		types.RouteNone:       "none",
	}

	for route, wantCtx := range valid {
		for ctxName, agentCtx := range contexts {
			reply := &types.ManagerReply{
				UpdatedMemory: types.NewSessionMemory(types.SessionSettings{}),
				Route:         route,
				AgentContext:  agentCtx,
			}
			err := ValidateRouting(reply)
			if ctxName == wantCtx {
				if err != nil {
					t.Errorf("route %q with context %q: unexpected error %v", route, ctxName, err)
				}
			} else if err == nil {
				t.Errorf("route %q with context %q: expected rejection", route, ctxName)
			}
		}
	}
}

func TestValidateRoutingShape(t *testing.T) {
	// Right tag, wrong fields: text context smuggling a transcript
	reply := &types.ManagerReply{
		Route: types.RouteText,
		AgentContext: &types.AgentContext{
			Kind:            types.ContextText,
			OCRText:         "x",
			TranscriptDelta: "sneaky",
		},
	}
	if err := ValidateRouting(reply); err == nil {
		t.Error("expected shape violation to be rejected")
	}
}

func TestParseManagerReply(t *testing.T) {
	memory := types.NewSessionMemory(types.SessionSettings{})
	data, _ := json.Marshal(types.ManagerReply{UpdatedMemory: memory, Route: types.RouteNone})

	if _, err := parseManagerReply(string(data)); err != nil {
		t.Errorf("plain JSON: %v", err)
	}
	if _, err := parseManagerReply("```json\n" + string(data) + "\n```"); err != nil {
		t.Errorf("fenced JSON: %v", err)
	}
	if _, err := parseManagerReply("Sure! Here is the result: " + string(data)); err == nil {
		t.Error("prose-wrapped manager reply must hard-fail")
	}
	if _, err := parseManagerReply(`{"route":"none"}`); err == nil {
		t.Error("reply without updatedMemory must fail")
	}
}

func TestParseCheckerReplyLenient(t *testing.T) {
	verdict := `{"claims":[{"text":"x","label":"false","confidence":0.9,"severity":0.8,"sources":[]}],"summary":"s"}`

	r, err := parseCheckerReply(verdict)
	if err != nil || len(r.Claims) != 1 {
		t.Errorf("plain JSON: %v %+v", err, r)
	}
	r, err = parseCheckerReply("Here is my verdict:\n" + verdict + "\nLet me know.")
	if err != nil || len(r.Claims) != 1 {
		t.Errorf("prose-wrapped JSON should still parse: %v", err)
	}
	if _, err := parseCheckerReply("no json here"); err == nil {
		t.Error("expected error for non-JSON checker reply")
	}
}

func claimWith(conf float64, tiers ...types.SourceTier) types.Claim {
	c := types.Claim{Text: "claim", Label: types.LabelFalse, Confidence: conf}
	for _, tier := range tiers {
		c.Sources = append(c.Sources, types.SourceRef{URL: "https://example.com", Tier: tier})
	}
	return c
}

func TestApplyStrictnessTierRule(t *testing.T) {
	strict := config.GateFor(0.0)  // 0.90, 1 source, no tier C
	relaxed := config.GateFor(1.0) // 0.50, 0 sources, tier C ok

	onlyC := claimWith(0.95, types.TierC)
	result := &types.FactCheckResult{Claims: []types.Claim{onlyC}}
	applyStrictness(result, strict)
	if len(result.Claims) != 0 {
		t.Error("tier-C-only claim must be dropped at strictness 0")
	}

	result = &types.FactCheckResult{Claims: []types.Claim{onlyC}}
	applyStrictness(result, relaxed)
	if len(result.Claims) != 1 {
		t.Error("tier-C-only claim must survive at strictness 1")
	}

	withB := claimWith(0.95, types.TierC, types.TierB)
	result = &types.FactCheckResult{Claims: []types.Claim{withB}}
	applyStrictness(result, strict)
	if len(result.Claims) != 1 {
		t.Error("claim with a tier-B source must survive at strictness 0")
	}
}

func TestApplyStrictnessMonotonic(t *testing.T) {
	claims := []types.Claim{
		claimWith(0.95, types.TierA),
		claimWith(0.72, types.TierB),
		claimWith(0.55, types.TierC),
		claimWith(0.92, types.TierC),
	}
	levels := []float64{0.0, 0.2, 0.4, 0.5, 0.6, 0.8, 1.0}

	prev := -1
	for _, s := range levels {
		result := &types.FactCheckResult{Claims: append([]types.Claim(nil), claims...)}
		applyStrictness(result, config.GateFor(s))
		if prev >= 0 && len(result.Claims) < prev {
			t.Errorf("strictness %v retained %d claims, fewer than a stricter level's %d", s, len(result.Claims), prev)
		}
		prev = len(result.Claims)
	}
}

func TestSynthesizeEscalatesAndStrips(t *testing.T) {
	drafts := []types.Notification{{
		Color:        types.ColorYellow,
		ShortText:    "questionable claim on screen",
		Details:      "draft details",
		ShouldNotify: true,
	}}
	result := &types.FactCheckResult{
		Claims: []types.Claim{{
			Text: "claim", Label: types.LabelFalse, Confidence: 0.9, Severity: 0.8,
			Sources: []types.SourceRef{{URL: "https://www.reuters.com/x", Tier: types.TierB}},
		}},
		Summary: "claim is false per wire reports",
	}

	out := synthesize(drafts, result, types.NotificationSettings{Details: true, Links: true})
	if len(out) != 1 {
		t.Fatalf("got %d notifications", len(out))
	}
	if out[0].Color != types.ColorRed {
		t.Errorf("color = %v, want red after escalation", out[0].Color)
	}
	if !strings.Contains(out[0].Details, "wire reports") {
		t.Errorf("summary not appended: %q", out[0].Details)
	}
	if len(out[0].Sources) == 0 {
		t.Error("sources not merged")
	}

	// Display preferences strip details and links
	out = synthesize(drafts, result, types.NotificationSettings{})
	if out[0].Details != "" || out[0].Sources != nil {
		t.Errorf("preferences not respected: details=%q sources=%v", out[0].Details, out[0].Sources)
	}
}

func TestSynthesizeNoEscalationBelowThresholds(t *testing.T) {
	drafts := []types.Notification{{Color: types.ColorYellow, ShouldNotify: true}}
	result := &types.FactCheckResult{
		Claims: []types.Claim{{Label: types.LabelFalse, Confidence: 0.9, Severity: 0.3}},
	}
	out := synthesize(drafts, result, types.NotificationSettings{Details: true, Links: true})
	if out[0].Color != types.ColorYellow {
		t.Errorf("low-severity claim escalated to %v", out[0].Color)
	}
}

func TestSynthesizeDegradedPassesDraftsThrough(t *testing.T) {
	drafts := []types.Notification{{Color: types.ColorGreen, ShortText: "looks fine", Details: "d"}}
	out := synthesize(drafts, nil, types.NotificationSettings{Details: true, Links: true})
	if len(out) != 1 || out[0].ShortText != "looks fine" || out[0].Details != "d" {
		t.Errorf("degraded synthesis altered drafts: %+v", out)
	}
}

func newTestOrchestrator(t *testing.T, provider llm.Provider, strictness float64) (*Orchestrator, *session.Manager, types.SessionID) {
	t.Helper()
	logger := testLogger()
	exec := testExecutor()
	sessions := session.NewManager(store.NewMemoryStore(), 24*time.Hour, logger)
	blobs := blob.NewFileStore(t.TempDir())
	registry := capability.NewRegistry(exec)

	manager := NewManagerStep(provider, exec, passBudget{}, logger)
	checker := NewChecker(provider, exec, registry, blobs, 3, logger)
	o := New(manager, checker, sessions, logger)

	id, err := sessions.Start(context.Background(), types.SessionSettings{
		SessionType: types.SessionTypeConfig{Type: types.PolicyManual},
		Strictness:  strictness,
		Notify:      types.NotificationSettings{Details: true, Links: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return o, sessions, id
}

func TestProcessFrameFalseClaimGoesRed(t *testing.T) {
	provider := &fakeProvider{
		checkerJSON: `{"claims":[{"text":"vaccines contain microchips","label":"false","confidence":0.92,"severity":0.9,"sources":[{"url":"https://www.tiktok.com/@x/video/1"}]}],"summary":"thoroughly debunked"}`,
	}
	o, sessions, id := newTestOrchestrator(t, provider, 1.0)
	provider.managerJSON = managerReplyJSON(t, types.RouteText,
		types.TextContext("vaccines contain microchips", nil), nil)

	frame := &types.FrameBundle{SessionID: id, Timestamp: time.Now(), OCRText: "vaccines contain microchips"}
	result, err := o.ProcessFrame(context.Background(), frame)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(result.Notifications))
	}
	n := result.Notifications[0]
	if n.Color != types.ColorRed || !n.ShouldNotify {
		t.Errorf("notification = %+v, want red/shouldNotify", n)
	}

	memory, err := sessions.Memory(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(memory.LastClaimsChecked) != 1 || memory.LastClaimsChecked[0].Status != types.LabelFalse {
		t.Errorf("lastClaimsChecked = %+v", memory.LastClaimsChecked)
	}
	if !strings.Contains(provider.lastPayload, "MEMORY:\n") || !strings.Contains(provider.lastPayload, "\n\nINPUT:\n") {
		t.Errorf("manager payload shape wrong: %q", provider.lastPayload[:40])
	}
}

func TestProcessFrameStrictGateDropsWeakClaim(t *testing.T) {
	// Same claim, tier-C source only, but strictness 0: gate drops it and no
	// notification is fabricated
	provider := &fakeProvider{
		checkerJSON: `{"claims":[{"text":"x","label":"false","confidence":0.92,"severity":0.9,"sources":[{"url":"https://www.tiktok.com/@x/video/1"}]}]}`,
	}
	o, _, id := newTestOrchestrator(t, provider, 0.0)
	provider.managerJSON = managerReplyJSON(t, types.RouteText, types.TextContext("x", nil), nil)

	result, err := o.ProcessFrame(context.Background(), &types.FrameBundle{SessionID: id, Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Notifications) != 0 {
		t.Errorf("gated-out claim still produced notifications: %+v", result.Notifications)
	}
}

func TestProcessFrameCheckerFailureDegrades(t *testing.T) {
	provider := &fakeProvider{
		checkerJSON: "not json at all",
	}
	o, _, id := newTestOrchestrator(t, provider, 0.5)
	drafts := []types.Notification{{Color: types.ColorYellow, ShortText: "heads up", ShouldNotify: true}}
	provider.managerJSON = managerReplyJSON(t, types.RouteText, types.TextContext("x", nil), drafts)

	result, err := o.ProcessFrame(context.Background(), &types.FrameBundle{SessionID: id, Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("checker failure must not fail the frame: %v", err)
	}
	if len(result.Notifications) != 1 || result.Notifications[0].ShortText != "heads up" {
		t.Errorf("manager drafts lost in degradation: %+v", result.Notifications)
	}
}

func TestProcessFrameRouteMismatchFails(t *testing.T) {
	provider := &fakeProvider{}
	o, _, id := newTestOrchestrator(t, provider, 0.5)
	// text route carrying a video context
	provider.managerJSON = managerReplyJSON(t, types.RouteText, types.VideoContext("", nil, "delta"), nil)

	_, err := o.ProcessFrame(context.Background(), &types.FrameBundle{SessionID: id, Timestamp: time.Now()})
	if resilience.Classify(err) != resilience.KindValidation {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestProcessFramePreservesSettings(t *testing.T) {
	// The manager cannot overwrite session settings even if its reply tries
	provider := &fakeProvider{checkerJSON: `{"claims":[]}`}
	o, sessions, id := newTestOrchestrator(t, provider, 0.5)

	reply := types.ManagerReply{
		UpdatedMemory: types.NewSessionMemory(types.SessionSettings{Strictness: 0.0}),
		Route:         types.RouteNone,
	}
	data, _ := json.Marshal(reply)
	provider.managerJSON = string(data)

	if _, err := o.ProcessFrame(context.Background(), &types.FrameBundle{SessionID: id, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	memory, _ := sessions.Memory(context.Background(), id)
	if memory.Settings.Strictness != 0.5 {
		t.Errorf("settings overwritten: strictness = %v", memory.Settings.Strictness)
	}
}
