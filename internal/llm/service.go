package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/chatfront/chatfront/internal/models"
	"github.com/chatfront/chatfront/internal/store"
)

const modelsBodyLimit = 2 << 20

// Config holds the gateway connection settings.
type Config struct {
	BaseURL           string
	APIKey            string
	ModelsTimeout     time.Duration
	CompletionTimeout time.Duration
	// ModelCacheTTL bounds how stale a served model list may be. Zero
	// disables caching and every call hits the gateway.
	ModelCacheTTL time.Duration
}

// Service talks to the LLM manager gateway: it lists the models currently
// online and executes conversation turns against them.
type Service struct {
	llm    llms.Model
	store  *store.Store
	logger *zap.Logger

	baseURL           string
	apiKey            string
	httpc             *http.Client
	modelsTimeout     time.Duration
	completionTimeout time.Duration

	cache *modelCache
	enc   *tiktoken.Tiktoken
}

func New(cfg Config, st *store.Store, logger *zap.Logger) (*Service, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	client, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(base+"/v1"),
		openai.WithModel("unbound"), // always overridden per call
	)
	if err != nil {
		return nil, fmt.Errorf("llm: init gateway client: %w", err)
	}

	// Token counts are log-only; a missing encoding falls back to a
	// bytes/4 heuristic rather than failing startup.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, using heuristic token counts", zap.Error(err))
		enc = nil
	}

	return &Service{
		llm:               client,
		store:             st,
		logger:            logger,
		baseURL:           base,
		apiKey:            cfg.APIKey,
		httpc:             &http.Client{},
		modelsTimeout:     cfg.ModelsTimeout,
		completionTimeout: cfg.CompletionTimeout,
		cache:             newModelCache(cfg.ModelCacheTTL),
		enc:               enc,
	}, nil
}

// ListModels queries the gateway's model-listing endpoint and returns the ids
// of the models currently online.
func (s *Service) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.modelsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("llm: build models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: list models: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, modelsBodyLimit))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm: list models: status %d", resp.StatusCode)
	}

	var out []string
	for _, id := range gjson.GetBytes(body, "data.#.id").Array() {
		if v := strings.TrimSpace(id.String()); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// OnlineModels is the degrade-gracefully wrapper around ListModels: any
// failure is logged and reported as an empty list so navigation keeps
// working when the gateway is down. Results are cached for the configured
// TTL.
func (s *Service) OnlineModels(ctx context.Context) []string {
	if ids, ok := s.cache.get(); ok {
		return ids
	}
	ids, err := s.ListModels(ctx)
	if err != nil {
		s.logger.Warn("could not fetch online models", zap.Error(err))
		return nil
	}
	s.cache.put(ids)
	return ids
}

func (s *Service) complete(ctx context.Context, model string, history []models.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	ctx, cancel := context.WithTimeout(ctx, s.completionTimeout)
	defer cancel()

	resp, err := s.llm.GenerateContent(ctx, content, llms.WithModel(model))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("gateway returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// countTokens approximates the token size of a history for logging.
func (s *Service) countTokens(history []models.Message) int {
	total := 0
	for _, m := range history {
		if s.enc != nil {
			total += len(s.enc.Encode(m.Content, nil, nil))
		} else {
			total += len(m.Content) / 4
		}
	}
	return total
}

// modelCache is a TTL cache for the online-model list, so every page view
// doesn't pay a gateway round trip. A zero TTL disables it.
type modelCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	models    []string
	fetchedAt time.Time
}

func newModelCache(ttl time.Duration) *modelCache {
	return &modelCache{ttl: ttl}
}

func (c *modelCache) get() ([]string, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchedAt.IsZero() || time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return append([]string(nil), c.models...), true
}

func (c *modelCache) put(models []string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append([]string(nil), models...)
	c.fetchedAt = time.Now()
}
