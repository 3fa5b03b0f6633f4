package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"finchcore/internal/agent"
	"finchcore/internal/agentctx"
	"finchcore/internal/config"
	"finchcore/internal/eventbus"
	"finchcore/internal/llm"
	"finchcore/internal/llm/providers"
	"finchcore/internal/observability"
	"finchcore/internal/persistence"
	"finchcore/internal/persistence/databases"
	"finchcore/internal/platform"
	"finchcore/internal/specialists"
	"finchcore/internal/strategy"
	"finchcore/internal/syncsvc"
	"finchcore/internal/tools"
	"finchcore/internal/tools/agents"
	"finchcore/internal/tools/strategytool"
)

func main() {
	// config.Load() handles .env loading itself (godotenv.Overload), so the
	// logger can be initialized straight from the resolved config.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdownOTel, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	llmProvider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build llm provider")
	}
	tokenCache := llm.NewTokenCache(llm.TokenCacheConfig{})

	ctx := context.Background()
	manager, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init persistence")
	}
	defer manager.Close()
	if err := manager.Chat.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init chat store")
	}
	if err := manager.Strategy.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init strategy store")
	}
	if err := manager.Execution.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to init execution store")
	}

	// The platform/venue collaborator's wire format is an explicit Non-goal
	// (§6.5); this core ships the in-memory fake and the wiring point for a
	// real broker adapter to be substituted at this line.
	platformClient := platform.NewFake()

	baseTools := tools.NewRegistry()
	baseTools.Register(strategytool.NewListStrategiesTool(manager.Strategy))
	baseTools.Register(strategytool.NewGetPositionsTool(manager.Strategy, platformClient))
	baseTools.Register(strategytool.NewListExecutionsTool(manager.Execution))

	specialistsReg := specialists.NewRegistry(cfg.LLM, cfg.Specialists, httpClient, baseTools)

	delegator := agents.NewDelegator(baseTools, specialistsReg, cfg.MaxTurns)
	delegator.SetDefaultTimeout(cfg.ToolTimeoutSec)
	baseTools.Register(agents.NewAgentCallTool(delegator, specialistsReg))

	syncStore := newSyncStateStore(cfg.Redis.URL)
	refresher := &accountRefresher{strategies: manager.Strategy, platform: platformClient}
	syncService := syncsvc.NewService(syncStore, refresher, time.Duration(cfg.SyncCooldownSec)*time.Second, time.Duration(cfg.SyncHardSec)*time.Second)
	baseTools.Register(strategytool.NewSyncAccountTool(syncService))

	fileFetcher := strategy.NewStoreFileFetcher(manager.Chat)
	loader := strategy.NewLoader(fileFetcher)
	executor := strategy.NewExecutor(loader, platformClient, manager.Execution, time.Duration(cfg.StrategyCycleTimeoutSec)*time.Second)
	scheduler := strategy.NewScheduler(manager.Strategy, executor, cfg.SchedulerWorkers, time.Duration(cfg.SchedulerTickSec)*time.Second, false)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go scheduler.Run(schedulerCtx)

	var mirror eventbus.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := eventbus.NewKafkaMirrorSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		mirror = eventbus.NewBestEffort(schedulerCtx, kafkaSink, 1024, func(err error) {
			log.Warn().Err(err).Msg("kafka mirror sink dropped an event")
		})
	}

	srv := &server{
		cfg:         cfg,
		llmProvider: llmProvider,
		tokenCache:  tokenCache,
		tools:       baseTools,
		specialists: specialistsReg,
		delegator:   delegator,
		manager:     manager,
		syncService: syncService,
		mirror:      mirror,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ok") })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ready") })
	mux.HandleFunc("/api/chat/", srv.handleChat)
	mux.HandleFunc("/api/sessions", srv.handleSessions)
	mux.HandleFunc("/api/strategies", srv.handleStrategies)
	mux.HandleFunc("/api/strategies/", srv.handleStrategyByID)
	mux.HandleFunc("/api/sync", srv.handleSync)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("agentd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// newSyncStateStore picks the cross-process Redis-backed store when
// REDIS_URL is configured, falling back to the in-process memory store
// otherwise (§4.6 implementation note: memory store is single-process only,
// acceptable for local/dev, not for a multi-replica deployment).
func newSyncStateStore(redisURL string) syncsvc.StateStore {
	if strings.TrimSpace(redisURL) == "" {
		return syncsvc.NewMemoryStateStore()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid REDIS_URL, falling back to in-process sync state store")
		return syncsvc.NewMemoryStateStore()
	}
	client := redis.NewClient(opts)
	return syncsvc.NewRedisStateStore(client)
}

// accountRefresher implements syncsvc.Refresher by pulling fresh positions
// for every one of the user's strategies from the platform collaborator
// (§4.6 Very-Stale / background-refresh path).
type accountRefresher struct {
	strategies persistence.StrategyStore
	platform   platform.Client
}

func (r *accountRefresher) Refresh(ctx context.Context, userID int64) error {
	list, err := r.strategies.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("list strategies: %w", err)
	}
	for _, st := range list {
		if _, err := r.platform.GetPositions(ctx, st.ID); err != nil {
			return fmt.Errorf("refresh positions for %s: %w", st.ID, err)
		}
	}
	return nil
}

// chatResourceSaver adapts persistence.ChatStore into agentctx.ResourceSaver.
type chatResourceSaver struct {
	store persistence.ChatStore
}

func (s *chatResourceSaver) Save(ctx context.Context, resourceType, title string, data []byte) (string, error) {
	res, err := s.store.PutResource(ctx, resourceType, title, data)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

type server struct {
	cfg         config.Config
	llmProvider llm.Provider
	tokenCache  *llm.TokenCache
	tools       tools.Registry
	specialists *specialists.Registry
	delegator   agent.Delegator
	manager     databases.Manager
	syncService *syncsvc.Service
	mirror      eventbus.Sink
}

func userIDFromRequest(r *http.Request) *int64 {
	raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func requireUserID(r *http.Request) (int64, bool) {
	uid := userIDFromRequest(r)
	if uid == nil {
		return 0, false
	}
	return *uid, true
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleChat drives one agent-loop turn over SSE: /api/chat/{session_id}
// (C1 Event Bus, C7 Agent Loop).
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "prompt required", http.StatusBadRequest)
		return
	}

	userID := userIDFromRequest(r)
	ctx := r.Context()

	if _, err := s.manager.Chat.EnsureSession(ctx, userID, sessionID, sessionID); err != nil {
		http.Error(w, "failed to open session", http.StatusInternalServerError)
		return
	}
	history, err := s.manager.Chat.ListMessages(ctx, userID, sessionID, 200)
	if err != nil {
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	eventbus.PrepareResponseHeaders(w)
	sseSink, err := eventbus.NewSSESink(w)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	var sink eventbus.Sink = sseSink
	if s.mirror != nil {
		sink = eventbus.NewFanOut(sseSink, s.mirror)
	}
	// Tool calls run in parallel goroutines; serialize their emits so frames
	// are never interleaved on the response writer.
	var sinkMu sync.Mutex
	unlocked := sink
	sink = eventbus.SinkFunc(func(ctx context.Context, e eventbus.Event) error {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		return unlocked.Emit(ctx, e)
	})

	resources := &chatResourceSaver{store: s.manager.Chat}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.MaxTurns+1)*time.Duration(s.cfg.ToolTimeoutSec)*time.Second)
	defer cancel()
	runCtx = tools.WithProvider(runCtx, s.llmProvider)

	tracer := agent.NewEventBusTracer(sink, nil)

	var turnMessages []llm.Message
	eng := &agent.Engine{
		LLM:         s.llmProvider,
		Tools:       s.tools,
		MaxSteps:    s.cfg.MaxTurns,
		Model:       defaultModel(s.cfg.LLM),
		System:      defaultSystemPrompt(s.specialists),
		Delegator:   s.delegator,
		AgentTracer: tracer,
		ToolTimeout: time.Duration(s.cfg.ToolTimeoutSec) * time.Second,
		NewInvocation: func(callCtx context.Context) *agentctx.Invocation {
			return agentctx.New(callCtx, userID, sessionID, sink, resources, nil)
		},
		OnDelta: func(delta string) {
			_ = sink.Emit(runCtx, eventbus.AssistantDelta(time.Now().UTC(), delta))
		},
		OnToolStart: func(name string, args []byte, toolID string) {
			_ = sink.Emit(runCtx, eventbus.ToolCallStart(time.Now().UTC(), toolID, name, string(args)))
		},
		OnTool: func(name string, args []byte, result []byte, toolID string, callErr error) {
			status := eventbus.ToolCallCompleted
			errMsg := ""
			if callErr != nil {
				status = eventbus.ToolCallError
				errMsg = callErr.Error()
			}
			_ = sink.Emit(runCtx, eventbus.ToolCallComplete(time.Now().UTC(), toolID, name, status, "", errMsg))
		},
		OnThinking: func(msg string) {
			_ = sink.Emit(runCtx, eventbus.Thinking(time.Now().UTC(), msg))
		},
		OnTurnMessage: func(m llm.Message) {
			turnMessages = append(turnMessages, m)
		},
	}
	eng.AttachTokenizer(s.llmProvider, s.tokenCache)

	result, err := eng.RunStream(runCtx, req.Prompt, llmHistory(history))
	if err != nil {
		errKind := "agent run failed"
		if errors.Is(err, agent.ErrTurnLimitExceeded) {
			errKind = "turn_limit"
		}
		_ = sink.Emit(runCtx, eventbus.Error(time.Now().UTC(), errKind, err.Error()))
		log.Error().Err(err).Str("session_id", sessionID).Msg("agent run error")
		return
	}

	_ = sink.Emit(runCtx, eventbus.AssistantMessage(time.Now().UTC(), result, false))
	_ = sink.Emit(runCtx, eventbus.Done(time.Now().UTC(), "turn complete"))

	toPersist := append([]llm.Message{{Role: "user", Content: req.Prompt}}, turnMessages...)
	if err := s.manager.Chat.AppendMessages(ctx, userID, sessionID, toPersistentMessages(sessionID, toPersist), previewOf(result), eng.Model); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist chat turn")
	}
}

// defaultModel resolves the orchestrator's own model name from whichever
// provider section of LLMClientConfig applies, so the Engine's token
// accounting (ContextWindowTokens / tokenizer selection) has a concrete
// model string to key off of.
func defaultModel(cfg config.LLMClientConfig) string {
	switch cfg.Provider {
	case "anthropic":
		return cfg.Anthropic.Model
	case "google":
		return cfg.Google.Model
	default:
		return cfg.OpenAI.Model
	}
}

func defaultSystemPrompt(specReg *specialists.Registry) string {
	base := "You are the orchestrator for a financial strategy research and automation assistant. " +
		"Delegate to named specialists via agent_call when a request needs a specific skill; otherwise answer directly."
	if specReg != nil {
		base = specReg.AppendToSystemPrompt(base)
	}
	return base
}

func llmHistory(msgs []persistence.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := llm.Message{Role: m.Role, Content: m.Content, ToolID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			_ = json.Unmarshal(m.ToolCalls, &msg.ToolCalls)
		}
		out = append(out, msg)
	}
	return out
}

func toPersistentMessages(sessionID string, msgs []llm.Message) []persistence.ChatMessage {
	out := make([]persistence.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		pm := persistence.ChatMessage{SessionID: sessionID, Role: m.Role, Content: m.Content, ToolCallID: m.ToolID}
		if len(m.ToolCalls) > 0 {
			if b, err := json.Marshal(m.ToolCalls); err == nil {
				pm.ToolCalls = b
			}
		}
		out = append(out, pm)
	}
	return out
}

func previewOf(s string) string {
	const maxLen = 120
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.manager.Chat.ListSessions(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, sessions)
	case http.MethodPost:
		var req struct{ Name string `json:"name"` }
		_ = json.NewDecoder(r.Body).Decode(&req)
		session, err := s.manager.Chat.CreateSession(r.Context(), userID, req.Name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, session)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(r)
	if !ok {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := s.manager.Strategy.List(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	case http.MethodPost:
		var req persistence.Strategy
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		req.UserID = userID
		created, err := s.manager.Strategy.Create(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, created)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStrategyByID serves /api/strategies/{id}[/mode|/enabled|/executions].
func (s *server) handleStrategyByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(r)
	if !ok {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/strategies/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		st, err := s.manager.Strategy.Get(r.Context(), userID, id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, st)
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.manager.Strategy.Delete(r.Context(), userID, id); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case sub == "mode" && r.Method == http.MethodPost:
		var req struct{ Mode string `json:"mode"` }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Mode == "live" {
			cur, err := s.manager.Strategy.Get(r.Context(), userID, id)
			if err != nil {
				writeStoreError(w, err)
				return
			}
			var stats strategy.Stats
			if len(cur.Stats) > 0 {
				_ = json.Unmarshal(cur.Stats, &stats)
			}
			if !strategy.CanGraduate(stats) {
				http.Error(w, "graduation criteria not met for live mode", http.StatusConflict)
				return
			}
		}
		st, err := s.manager.Strategy.SetMode(r.Context(), userID, id, req.Mode)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, st)
	case sub == "enabled" && r.Method == http.MethodPost:
		var req struct{ Enabled bool `json:"enabled"` }
		_ = json.NewDecoder(r.Body).Decode(&req)
		st, err := s.manager.Strategy.SetEnabled(r.Context(), userID, id, req.Enabled)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, st)
	case sub == "executions" && r.Method == http.MethodGet:
		if _, err := s.manager.Strategy.Get(r.Context(), userID, id); err != nil {
			writeStoreError(w, err)
			return
		}
		list, err := s.manager.Execution.List(r.Context(), id, 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := requireUserID(r)
	if !ok {
		http.Error(w, "X-User-ID header required", http.StatusUnauthorized)
		return
	}
	var req struct{ Force bool `json:"force"` }
	_ = json.NewDecoder(r.Body).Decode(&req)
	result, err := s.syncService.Sync(r.Context(), userID, req.Force)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case err == persistence.ErrNotFound:
		http.Error(w, "not found", http.StatusNotFound)
	case err == persistence.ErrForbidden:
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
