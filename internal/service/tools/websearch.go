package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"funchatgo/internal/config"
	"funchatgo/internal/function"
	"funchatgo/internal/logger"
)

const (
	WebSearchFunctionName = "web_search"
	WebSearchHTTPTimeout  = 10 * time.Second
	maxFetchBodySize      = 512 * 1024
)

var ErrRateLimited = errors.New("web search rate limit exceeded, please retry in a minute")

type WebSearchParams struct {
	Query string `json:"query" jsonschema_description:"Natural language query or URL to search"`
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiter    *toolRateLimiter
}

// NewWebSearch builds the web_search function. Google is used when
// credentials are configured, DuckDuckGo otherwise or as a fallback.
func NewWebSearch(ctx context.Context, cfg config.WebSearchConfig) (function.Function, error) {
	googleTool := initGoogleSearch(ctx, cfg)
	duckTool := initDDGSearch(ctx)
	if googleTool == nil && duckTool == nil {
		return nil, errors.New("web search disabled: no search providers available")
	}
	return newWebSearchFunction(googleTool, duckTool, cfg)
}

func newWebSearchFunction(google, duck tool.InvokableTool, cfg config.WebSearchConfig) (function.Function, error) {
	ws := &webSearchTool{
		google:     google,
		duck:       duck,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiter:    newToolRateLimiter(cfg.RateLimit, cfg.Window()),
	}
	return function.New(WebSearchFunctionName,
		"Search the web for information; "+
			"automatically fallbacks to another provider if needed; "+
			"can fetch a URL if one is given.",
		ws.run)
}

func (w *webSearchTool) run(ctx context.Context, params WebSearchParams) (string, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	key := "anonymous"
	if userID, ok := ToolUserFromContext(ctx); ok {
		key = "user:" + userID
	}
	if !w.limiter.Allow(key) {
		return "", ErrRateLimited
	}

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		logger.Warn("web url fetch failed", "url", query, "error", err)
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		logger.Warn("google search failed", "error", err)
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, payload)
		if err == nil {
			return result, nil
		}
		logger.Warn("duckduckgo search failed", "error", err)
	}
	return "", errors.New("no search provider succeeded")
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "FunchatGo-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func initDDGSearch(ctx context.Context) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
	if err != nil {
		logger.Warn("duckduckgo search disabled", "error", err)
		return nil
	}
	return duckTool
}

func initGoogleSearch(ctx context.Context, cfg config.WebSearchConfig) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleSearchEngineID == "" {
		logger.Info("google search disabled: missing api key or search engine id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleSearchEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		logger.Warn("google search disabled", "error", err)
		return nil
	}
	return googleTool
}
