package tools

import (
	"context"
	"fmt"
	"os"

	"funchatgo/internal/config"
	"funchatgo/internal/function"
	"funchatgo/internal/logger"
)

// NewRegistry registers the functions enabled in cfg.
func NewRegistry(ctx context.Context, cfg config.ToolsConfig) (*function.Registry, error) {
	reg, err := function.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.Weather {
		weather, err := NewWeather()
		if err != nil {
			return nil, fmt.Errorf("init weather: %w", err)
		}
		if err := reg.Register(weather); err != nil {
			return nil, err
		}
	}
	if cfg.WebSearch.Enabled {
		ws := cfg.WebSearch
		if ws.GoogleAPIKey == "" {
			ws.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
		}
		if ws.GoogleSearchEngineID == "" {
			ws.GoogleSearchEngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
		}
		search, err := NewWebSearch(ctx, ws)
		if err != nil {
			logger.Warn("web search tool disabled", "error", err)
		} else if err := reg.Register(search); err != nil {
			return nil, err
		}
	}
	logger.Info("functions registered", "names", reg.Names())
	return reg, nil
}
