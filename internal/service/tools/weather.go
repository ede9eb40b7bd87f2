package tools

import (
	"context"
	"errors"
	"strings"

	"funchatgo/internal/function"
)

const WeatherFunctionName = "get_current_weather"

type WeatherParams struct {
	Location string `json:"location" jsonschema_description:"The city and state, e.g. San Francisco, CA"`
	Format   string `json:"format,omitempty" jsonschema:"enum=celsius,enum=fahrenheit" jsonschema_description:"The temperature unit to use. Infer this from the user's location."`
}

type WeatherReport struct {
	Location    string `json:"location"`
	Forecast    string `json:"forecast"`
	Temperature string `json:"temperature"`
}

// NewWeather returns the demo weather function. It always reports sunny.
func NewWeather() (function.Function, error) {
	return function.New(WeatherFunctionName, "Get the current weather in a given location", currentWeather)
}

func currentWeather(_ context.Context, p WeatherParams) (WeatherReport, error) {
	location := strings.TrimSpace(p.Location)
	if location == "" {
		return WeatherReport{}, errors.New("location must not be empty")
	}
	temperature := "25 C"
	if p.Format == "fahrenheit" {
		temperature = "77 F"
	}
	return WeatherReport{Location: location, Forecast: "sunny", Temperature: temperature}, nil
}
