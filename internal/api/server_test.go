package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"llm-trading-arena/internal/auth"
	"llm-trading-arena/internal/cache"
	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/events"
	"llm-trading-arena/internal/exchange"
	"llm-trading-arena/internal/llm"
	"llm-trading-arena/internal/market"
	"llm-trading-arena/internal/portfolio"
	"llm-trading-arena/internal/trader"
)

type fakeStore struct {
	mu        sync.Mutex
	models    map[string]*database.Model
	providers map[string]*database.Provider
	futures   map[string]*database.Future
	settings  database.Settings
	trades    []*database.Trade

	deleteProviderErr error
	healthErr         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		models:    make(map[string]*database.Model),
		providers: make(map[string]*database.Provider),
		futures:   make(map[string]*database.Future),
		settings: database.Settings{
			TradingFrequencyMinutes: 60,
			FeeRate:                 0.001,
			BuyBatchSize:            3,
			DefaultLeverage:         10,
			MaxPositions:            3,
			ShowSystemPrompt:        true,
		},
	}
}

func (f *fakeStore) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeStore) CreateModel(ctx context.Context, m *database.Model) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == "" {
		m.ID = fmt.Sprintf("model-%d", len(f.models)+1)
	}
	f.models[m.ID] = m
	return nil
}

func (f *fakeStore) UpdateModel(ctx context.Context, m *database.Model) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[m.ID]; !ok {
		return database.ErrNotFound
	}
	f.models[m.ID] = m
	return nil
}

func (f *fakeStore) SetModelEnabled(ctx context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[id]
	if !ok {
		return database.ErrNotFound
	}
	m.Enabled = enabled
	return nil
}

func (f *fakeStore) SetModelLeverage(ctx context.Context, id string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[id]
	if !ok {
		return database.ErrNotFound
	}
	m.Leverage = leverage
	return nil
}

func (f *fakeStore) SetModelMaxPositions(ctx context.Context, id string, maxPositions int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[id]
	if !ok {
		return database.ErrNotFound
	}
	m.MaxPositions = maxPositions
	return nil
}

func (f *fakeStore) GetModel(ctx context.Context, id string) (*database.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListModels(ctx context.Context) ([]*database.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*database.Model, 0, len(f.models))
	for _, m := range f.models {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) DeleteModel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[id]; !ok {
		return database.ErrNotFound
	}
	delete(f.models, id)
	return nil
}

func (f *fakeStore) GetTradesByModel(ctx context.Context, modelID string, limit int) ([]*database.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.Trade
	for _, t := range f.trades {
		if t.ModelID == modelID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRecentTrades(ctx context.Context, limit int) ([]*database.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*database.Trade(nil), f.trades...), nil
}

func (f *fakeStore) GetConversationsByModel(ctx context.Context, modelID string, limit int) ([]*database.Conversation, error) {
	return nil, nil
}

func (f *fakeStore) SnapshotHistory(ctx context.Context, modelID string, limit int) ([]*database.PortfolioSnapshot, error) {
	return nil, nil
}

func (f *fakeStore) CreateProvider(ctx context.Context, p *database.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = fmt.Sprintf("provider-%d", len(f.providers)+1)
	}
	p.MaskedKey = "****"
	f.providers[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateProvider(ctx context.Context, p *database.Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.providers[p.ID]; !ok {
		return database.ErrNotFound
	}
	f.providers[p.ID] = p
	return nil
}

func (f *fakeStore) GetProvider(ctx context.Context, id string) (*database.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.providers[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProviders(ctx context.Context) ([]*database.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*database.Provider, 0, len(f.providers))
	for _, p := range f.providers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) DeleteProvider(ctx context.Context, id string) error {
	if f.deleteProviderErr != nil {
		return f.deleteProviderErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.providers[id]; !ok {
		return database.ErrNotFound
	}
	delete(f.providers, id)
	return nil
}

func (f *fakeStore) AddFuture(ctx context.Context, symbol string) (*database.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fut := &database.Future{ID: len(f.futures) + 1, Symbol: symbol, Enabled: true}
	f.futures[symbol] = fut
	return fut, nil
}

func (f *fakeStore) SetFutureEnabled(ctx context.Context, symbol string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fut, ok := f.futures[symbol]
	if !ok {
		return database.ErrNotFound
	}
	fut.Enabled = enabled
	return nil
}

func (f *fakeStore) DeleteFuture(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.futures[symbol]; !ok {
		return database.ErrNotFound
	}
	delete(f.futures, symbol)
	return nil
}

func (f *fakeStore) ListFutures(ctx context.Context) ([]*database.Future, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*database.Future, 0, len(f.futures))
	for _, fut := range f.futures {
		cp := *fut
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) GetSettings(ctx context.Context) (*database.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.settings
	return &cp, nil
}

func (f *fakeStore) UpdateSettings(ctx context.Context, s *database.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.UpdatedAt = time.Now()
	f.settings = *s
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	lastPass trader.Pass
	err      error
	status   trader.ModelStatus
}

func (f *fakeRunner) Execute(ctx context.Context, modelID string, pass trader.Pass) (trader.CycleResult, error) {
	f.mu.Lock()
	f.lastPass = pass
	f.mu.Unlock()
	if f.err != nil {
		return trader.CycleResult{}, f.err
	}
	return trader.CycleResult{ModelID: modelID, State: trader.StateDone}, nil
}

func (f *fakeRunner) Status(modelID string) trader.ModelStatus { return f.status }

type fakePreviewer struct {
	buy, sell llm.Request
	err       error
}

func (f *fakePreviewer) PreviewPrompts(ctx context.Context, modelID string) (llm.Request, llm.Request, error) {
	return f.buy, f.sell, f.err
}

type fakeBoards struct {
	mu     sync.Mutex
	snap   *market.LeaderboardSnapshot
	paused bool
}

func (f *fakeBoards) Snapshot() *market.LeaderboardSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := market.LeaderboardSnapshot{}
	if f.snap != nil {
		snap = *f.snap
	}
	snap.Paused = f.paused
	return &snap
}

func (f *fakeBoards) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeBoards) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

type testServer struct {
	srv     *Server
	store   *fakeStore
	engine  *portfolio.Engine
	cache   *market.Cache
	runner  *fakeRunner
	boards  *fakeBoards
	preview *fakePreviewer
	bus     *events.Bus
}

func newTestServer(t *testing.T, authManager *auth.Manager) *testServer {
	t.Helper()

	store := newFakeStore()
	store.providers["p1"] = &database.Provider{ID: "p1", Name: "anthropic", Kind: "claude", MaskedKey: "sk-a...tkey", APIKey: "sk-ant-secret"}
	store.models["m1"] = &database.Model{
		ID: "m1", Name: "alpha", ProviderID: "p1", ModelName: "claude-sonnet-4",
		InitialCapital: 10000, AutoBuyEnabled: true, AutoSellEnabled: true, Enabled: true,
	}

	mcache := market.NewCache()
	engine := portfolio.NewEngine(mcache)
	engine.Register("m1", 10000)

	if authManager == nil {
		var err error
		authManager, err = auth.NewManager("", "")
		if err != nil {
			t.Fatalf("auth manager: %v", err)
		}
	}

	ts := &testServer{
		store:   store,
		engine:  engine,
		cache:   mcache,
		runner:  &fakeRunner{},
		boards:  &fakeBoards{},
		preview: &fakePreviewer{},
		bus:     events.NewBus(),
	}
	ts.srv = NewServer(ServerConfig{}, Deps{
		Store:       store,
		Engine:      engine,
		Market:      mcache,
		Leaderboard: ts.boards,
		Runner:      ts.runner,
		Previewer:   ts.preview,
		Bus:         ts.bus,
		KV:          cache.NewService(cache.Config{Enabled: false}),
		Auth:        authManager,
	})
	ts.srv.hub.Run()
	t.Cleanup(ts.srv.hub.Stop)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.srv.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding envelope: %v (body %s)", err, w.Body.String())
	}
	if !envelope.Success {
		t.Fatalf("expected success envelope, got error %q", envelope.Error)
	}
	if into != nil {
		if err := json.Unmarshal(envelope.Data, into); err != nil {
			t.Fatalf("decoding data: %v", err)
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}

	ts.store.healthErr = fmt.Errorf("connection refused")
	w = ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded health status = %d", w.Code)
	}
}

func TestCreateModelValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"provider_id": "p1", "model_name": "x", "initial_capital": 1000}},
		{"zero capital", map[string]interface{}{"name": "a", "provider_id": "p1", "model_name": "x", "initial_capital": 0}},
		{"leverage above cap", map[string]interface{}{"name": "a", "provider_id": "p1", "model_name": "x", "initial_capital": 1000, "leverage": 126}},
		{"unknown provider", map[string]interface{}{"name": "a", "provider_id": "nope", "model_name": "x", "initial_capital": 1000}},
	}
	for _, tc := range cases {
		w := ts.do(t, http.MethodPost, "/api/models", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
}

func TestCreateModelRegistersPortfolio(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/models", map[string]interface{}{
		"name": "beta", "provider_id": "p1", "model_name": "gpt-5",
		"initial_capital": 5000, "leverage": 20,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var m database.Model
	decodeData(t, w, &m)
	if m.ID == "" {
		t.Fatal("created model has no id")
	}

	snap, err := ts.engine.Snapshot(m.ID)
	if err != nil {
		t.Fatalf("engine snapshot after create: %v", err)
	}
	if snap.Cash != 5000 {
		t.Fatalf("cash = %v, want 5000", snap.Cash)
	}
}

func TestModelPortfolioEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/models/m1/portfolio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio status = %d", w.Code)
	}
	var out struct {
		Portfolio portfolio.Snapshot `json:"portfolio"`
	}
	decodeData(t, w, &out)
	if out.Portfolio.Cash != 10000 {
		t.Fatalf("cash = %v, want 10000", out.Portfolio.Cash)
	}

	w = ts.do(t, http.MethodGet, "/api/models/ghost/portfolio", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown model status = %d, want 404", w.Code)
	}
}

func TestExecutePassRouting(t *testing.T) {
	ts := newTestServer(t, nil)

	for path, want := range map[string]trader.Pass{
		"/api/models/m1/execute":      trader.PassBoth,
		"/api/models/m1/execute-buy":  trader.PassBuy,
		"/api/models/m1/execute-sell": trader.PassSell,
	} {
		w := ts.do(t, http.MethodPost, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
		if ts.runner.lastPass != want {
			t.Errorf("%s ran pass %q, want %q", path, ts.runner.lastPass, want)
		}
	}
}

func TestExecuteBusy(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.runner.err = trader.ErrBusy

	w := ts.do(t, http.MethodPost, "/api/models/m1/execute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("busy status = %d, want 200", w.Code)
	}
	var envelope struct {
		Success bool `json:"success"`
		Busy    bool `json:"busy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding busy envelope: %v", err)
	}
	if envelope.Success || !envelope.Busy {
		t.Fatalf("busy envelope = %+v, want success=false busy=true", envelope)
	}
}

func TestSetLeverageBounds(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPut, "/api/models/m1/leverage", map[string]int{"leverage": 126})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("over-cap status = %d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodPut, "/api/models/m1/leverage", map[string]int{"leverage": 50})
	if w.Code != http.StatusOK {
		t.Fatalf("valid leverage status = %d", w.Code)
	}
	if ts.store.models["m1"].Leverage != 50 {
		t.Fatalf("stored leverage = %d, want 50", ts.store.models["m1"].Leverage)
	}
}

func TestSettingsValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings status = %d", w.Code)
	}
	var got database.Settings
	decodeData(t, w, &got)
	if got.TradingFrequencyMinutes != 60 {
		t.Fatalf("frequency = %d, want 60", got.TradingFrequencyMinutes)
	}

	bad := map[string]interface{}{
		"trading_frequency_minutes": 0, "fee_rate": 0.001,
		"buy_batch_size": 3, "default_leverage": 10, "max_positions": 3,
	}
	w = ts.do(t, http.MethodPut, "/api/settings", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid settings status = %d, want 400", w.Code)
	}

	good := map[string]interface{}{
		"trading_frequency_minutes": 30, "fee_rate": 0.0005,
		"buy_batch_size": 2, "default_leverage": 5, "max_positions": 4,
		"show_system_prompt": false,
	}
	w = ts.do(t, http.MethodPut, "/api/settings", good)
	if w.Code != http.StatusOK {
		t.Fatalf("valid settings status = %d: %s", w.Code, w.Body.String())
	}
	if ts.store.settings.TradingFrequencyMinutes != 30 || ts.store.settings.FeeRate != 0.0005 {
		t.Fatalf("settings not stored: %+v", ts.store.settings)
	}
	if ts.store.settings.ShowSystemPrompt {
		t.Fatal("show_system_prompt not stored")
	}
}

func TestProviderDeleteInUse(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.deleteProviderErr = database.ErrProviderInUse

	w := ts.do(t, http.MethodDelete, "/api/providers/p1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("in-use delete status = %d, want 409", w.Code)
	}
}

func TestProviderKeyNeverSerialized(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/providers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list providers status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-ant-secret") {
		t.Fatal("raw api key leaked into the provider listing")
	}
	if !strings.Contains(w.Body.String(), "sk-a...tkey") {
		t.Fatal("masked key missing from the provider listing")
	}
}

func TestKlinesEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	bars := []exchange.KlineBar{
		{Symbol: "BTCUSDT", Interval: "3m", OpenTimeMs: 1000, Close: 1, CloseTimeMs: 1999},
		{Symbol: "BTCUSDT", Interval: "3m", OpenTimeMs: 2000, Close: 2, CloseTimeMs: 2999},
		{Symbol: "BTCUSDT", Interval: "3m", OpenTimeMs: 3000, Close: 3, CloseTimeMs: 3999},
	}
	ts.cache.UpsertKlines("BTCUSDT", "3m", bars)

	w := ts.do(t, http.MethodGet, "/api/market/klines?symbol=BTCUSDT&interval=3m", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("klines status = %d", w.Code)
	}
	var got []exchange.KlineBar
	decodeData(t, w, &got)
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3", len(got))
	}

	// camelCase startTime is accepted too
	w = ts.do(t, http.MethodGet, "/api/market/klines?symbol=BTCUSDT&interval=3m&startTime=2000", nil)
	decodeData(t, w, &got)
	if len(got) != 2 || got[0].OpenTimeMs != 2000 {
		t.Fatalf("filtered bars = %+v, want 2 from open 2000", got)
	}

	w = ts.do(t, http.MethodGet, "/api/market/klines?interval=3m", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing symbol status = %d, want 400", w.Code)
	}
}

func TestLeaderboardEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.boards.snap = &market.LeaderboardSnapshot{
		Gainers:   []market.LeaderboardEntry{{Symbol: "UPUSDT", Change24h: 12}},
		Losers:    []market.LeaderboardEntry{{Symbol: "DOWNUSDT", Change24h: -9}},
		UpdatedAt: time.Now(),
	}

	w := ts.do(t, http.MethodGet, "/api/market/leaderboard/gainers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("gainers status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "UPUSDT") {
		t.Fatalf("gainers body missing entry: %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/market/leaderboard/losers", nil)
	if !strings.Contains(w.Body.String(), "DOWNUSDT") {
		t.Fatalf("losers body missing entry: %s", w.Body.String())
	}

	ts.do(t, http.MethodPost, "/api/market/leaderboard/pause", nil)
	if !ts.boards.paused {
		t.Fatal("pause endpoint did not pause the board")
	}

	// reads keep working while paused and report the status flag
	w = ts.do(t, http.MethodGet, "/api/market/leaderboard/gainers", nil)
	var board struct {
		Entries []market.LeaderboardEntry `json:"entries"`
		Paused  bool                      `json:"paused"`
	}
	decodeData(t, w, &board)
	if !board.Paused {
		t.Error("paused flag not reported on gainers")
	}
	if len(board.Entries) != 1 {
		t.Errorf("entries = %+v", board.Entries)
	}

	ts.do(t, http.MethodPost, "/api/market/leaderboard/resume", nil)
	if ts.boards.paused {
		t.Fatal("resume endpoint did not resume the board")
	}
}

func TestIndicatorsPerInterval(t *testing.T) {
	ts := newTestServer(t, nil)

	bars := make([]exchange.KlineBar, 0, 25)
	for i := 0; i < 25; i++ {
		open := int64(i) * 1000
		bars = append(bars, exchange.KlineBar{
			OpenTimeMs: open, CloseTimeMs: open + 999, Close: float64(i + 1),
		})
	}
	ts.cache.UpsertKlines("BTCUSDT", "3m", bars)
	ts.cache.UpsertKlines("BTCUSDT", "15m", bars[:10])
	ts.cache.SetTicker24h(exchange.Ticker24h{Symbol: "BTCUSDT", LastPrice: 25, PriceChangePct: 4.2}, time.Now())

	w := ts.do(t, http.MethodGet, "/api/market/indicators/BTCUSDT", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("indicators status = %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		Symbol    string                       `json:"symbol"`
		Change24h float64                      `json:"change_24h"`
		Intervals map[string]market.Indicators `json:"intervals"`
	}
	decodeData(t, w, &got)
	if got.Symbol != "BTCUSDT" || got.Change24h != 4.2 {
		t.Fatalf("header = %+v", got)
	}
	if len(got.Intervals) != 2 {
		t.Fatalf("intervals = %v", got.Intervals)
	}
	threeM := got.Intervals["3m"]
	if threeM.MA20 == nil || threeM.Change24h != 4.2 {
		t.Errorf("3m indicators = %+v", threeM)
	}
	if got.Intervals["15m"].MA20 != nil {
		t.Error("15m should not have enough bars for ma20")
	}

	// interval query narrows the map to one entry
	w = ts.do(t, http.MethodGet, "/api/market/indicators?symbol=BTCUSDT&interval=3m", nil)
	got.Intervals = nil // Unmarshal merges keys into a non-nil map
	decodeData(t, w, &got)
	if len(got.Intervals) != 1 {
		t.Fatalf("narrowed intervals = %v", got.Intervals)
	}

	w = ts.do(t, http.MethodGet, "/api/market/indicators", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing symbol status = %d, want 400", w.Code)
	}
}

func TestPromptPreview(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.preview.buy = llm.Request{System: "sys-buy", User: "user-buy"}
	ts.preview.sell = llm.Request{System: "sys-sell", User: "user-sell"}

	w := ts.do(t, http.MethodGet, "/api/models/m1/prompts/preview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview status = %d", w.Code)
	}
	for _, want := range []string{"sys-buy", "user-buy", "sys-sell", "user-sell"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("preview body missing %q", want)
		}
	}
}

func TestFutureSymbolNormalized(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/futures", map[string]string{"symbol": " ethusdt "})
	if w.Code != http.StatusCreated {
		t.Fatalf("add future status = %d: %s", w.Code, w.Body.String())
	}
	if _, ok := ts.store.futures["ETHUSDT"]; !ok {
		t.Fatalf("symbol not normalized: %+v", ts.store.futures)
	}

	w = ts.do(t, http.MethodPost, "/api/futures", map[string]string{"symbol": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty symbol status = %d, want 400", w.Code)
	}
}

func TestDeleteFutureKeepsHeldPrice(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.futures["ETHUSDT"] = &database.Future{Symbol: "ETHUSDT", Enabled: true}
	ts.store.futures["XRPUSDT"] = &database.Future{Symbol: "XRPUSDT", Enabled: true}
	now := time.Now()
	ts.cache.SetPrice("ETHUSDT", 2000, market.SourceConfigured, now)
	ts.cache.SetPrice("XRPUSDT", 0.5, market.SourceConfigured, now)

	limits := portfolio.Limits{AutoBuyEnabled: true, AutoSellEnabled: true, MaxPositions: 3, ModelLeverage: 10, FeeRate: 0.001}
	if _, err := ts.engine.Apply("m1", portfolio.Open{Symbol: "ETHUSDT", Side: portfolio.SideLong, Qty: 1, Leverage: 5}, limits); err != nil {
		t.Fatalf("opening position: %v", err)
	}

	w := ts.do(t, http.MethodDelete, "/api/futures/ETHUSDT", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete held future status = %d: %s", w.Code, w.Body.String())
	}
	if _, priced := ts.cache.PriceFor("ETHUSDT"); !priced {
		t.Error("held symbol's price was dropped")
	}

	w = ts.do(t, http.MethodDelete, "/api/futures/XRPUSDT", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete unheld future status = %d", w.Code)
	}
	if _, priced := ts.cache.PriceFor("XRPUSDT"); priced {
		t.Error("unheld symbol's price survived the delete")
	}
}

func TestAuthGatesAPI(t *testing.T) {
	manager, err := auth.NewManager("hunter2", "test-secret")
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	ts := newTestServer(t, manager)

	w := ts.do(t, http.MethodGet, "/api/auth/status", nil)
	if !strings.Contains(w.Body.String(), `"auth_enabled":true`) {
		t.Fatalf("auth status body = %s", w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/models", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "hunter2"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeData(t, w, &login)

	w = ts.do(t, http.MethodGet, "/api/models", nil, "Authorization", "Bearer "+login.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d: %s", w.Code, w.Body.String())
	}

	// read-only market data stays public
	w = ts.do(t, http.MethodGet, "/api/market/prices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("public market status = %d, want 200", w.Code)
	}
}

func TestAutoTradingEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/api/models/m1/auto-trading", map[string]bool{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d: %s", w.Code, w.Body.String())
	}
	if ts.store.models["m1"].Enabled {
		t.Fatal("model still enabled after toggle")
	}

	w = ts.do(t, http.MethodPost, "/api/models/m1/auto-trading", map[string]bool{"auto_sell_enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("auto flags status = %d: %s", w.Code, w.Body.String())
	}
	if ts.store.models["m1"].AutoSellEnabled {
		t.Fatal("auto_sell_enabled not updated on the model")
	}
	if !ts.store.models["m1"].AutoBuyEnabled {
		t.Fatal("auto_buy_enabled changed without being sent")
	}

	// a second model's flags are untouched
	ts.store.models["m2"] = &database.Model{
		ID: "m2", Name: "beta", ProviderID: "p1", ModelName: "x",
		InitialCapital: 5000, AutoBuyEnabled: true, AutoSellEnabled: true, Enabled: true,
	}
	w = ts.do(t, http.MethodPost, "/api/models/m1/auto-trading", map[string]bool{"auto_buy_enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("auto buy toggle status = %d: %s", w.Code, w.Body.String())
	}
	if !ts.store.models["m2"].AutoBuyEnabled || !ts.store.models["m2"].AutoSellEnabled {
		t.Fatal("toggling m1 must not touch m2")
	}

	w = ts.do(t, http.MethodPost, "/api/models/m1/auto-trading", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty payload status = %d, want 400", w.Code)
	}
}

func TestUpdateModelPrompts(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPut, "/api/models/m1/prompts", map[string]string{"buy_prompt": "trade only majors"})
	if w.Code != http.StatusOK {
		t.Fatalf("update prompts status = %d: %s", w.Code, w.Body.String())
	}
	if ts.store.models["m1"].BuyPrompt != "trade only majors" {
		t.Fatalf("buy prompt not stored: %q", ts.store.models["m1"].BuyPrompt)
	}
	if ts.store.models["m1"].SellPrompt != "" {
		t.Fatalf("sell prompt touched: %q", ts.store.models["m1"].SellPrompt)
	}

	w = ts.do(t, http.MethodPut, "/api/models/m1/prompts", map[string]string{"sell_prompt": "exit fast"})
	if w.Code != http.StatusOK {
		t.Fatalf("update sell prompt status = %d: %s", w.Code, w.Body.String())
	}
	if ts.store.models["m1"].SellPrompt != "exit fast" || ts.store.models["m1"].BuyPrompt != "trade only majors" {
		t.Fatalf("prompts after sell update: %+v", ts.store.models["m1"])
	}

	w = ts.do(t, http.MethodGet, "/api/models/m1/prompts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get prompts status = %d", w.Code)
	}
	var got struct {
		BuyPrompt  string `json:"buy_prompt"`
		SellPrompt string `json:"sell_prompt"`
	}
	decodeData(t, w, &got)
	if got.BuyPrompt != "trade only majors" || got.SellPrompt != "exit fast" {
		t.Fatalf("get prompts = %+v", got)
	}

	w = ts.do(t, http.MethodPut, "/api/models/m1/prompts", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty prompts payload status = %d, want 400", w.Code)
	}
}

func TestAggregatedPortfolio(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.models["m2"] = &database.Model{ID: "m2", Name: "gamma", ProviderID: "p1", ModelName: "x", InitialCapital: 4000, Enabled: true}
	ts.engine.Register("m2", 4000)

	w := ts.do(t, http.MethodGet, "/api/aggregated/portfolio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("aggregated status = %d", w.Code)
	}
	var agg aggregatedPortfolio
	decodeData(t, w, &agg)
	if agg.TotalCash != 14000 {
		t.Fatalf("total cash = %v, want 14000", agg.TotalCash)
	}
	if len(agg.Models) != 2 {
		t.Fatalf("got %d models, want 2", len(agg.Models))
	}
}
