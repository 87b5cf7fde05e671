package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"clawbot/internal/domain"
)

const weatherBaseURL = "https://api.weatherapi.com/v1"

// WeatherTool fetches current conditions or a multi-day forecast from
// WeatherAPI.com.
type WeatherTool struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewWeatherTool creates the weather tool. The key may be empty; per-call
// arguments and the WEATHER_API_KEY environment variable are consulted too.
func NewWeatherTool(apiKey string) *WeatherTool {
	return &WeatherTool{
		client:  &http.Client{Timeout: 15 * time.Second},
		apiKey:  apiKey,
		baseURL: weatherBaseURL,
	}
}

func (t *WeatherTool) Name() string { return "weather" }
func (t *WeatherTool) Description() string {
	return "Fetch current weather or a forecast (up to 7 days) for a location using WeatherAPI.com"
}
func (t *WeatherTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query":   {Type: "string", Description: "City name, ZIP code, or lat,long to look up"},
			"days":    {Type: "integer", Description: "Number of days to forecast (1 = current conditions, max 7)"},
			"api_key": {Type: "string", Description: "WeatherAPI.com key (optional, defaults to configured key or WEATHER_API_KEY)"},
		},
		[]string{"query"},
	)
}

// Execute calls current.json for a single day and forecast.json otherwise.
// Remote failures come back inside the result; an unparseable body is a
// hard error.
func (t *WeatherTool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	apiKey := strings.TrimSpace(ArgsString(args, "api_key"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(t.apiKey)
	}
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("WEATHER_API_KEY"))
	}
	if apiKey == "" {
		return domain.ToolResult{}, fmt.Errorf("weather API key not provided: pass 'api_key', configure tools.weather.apiKey, or set WEATHER_API_KEY")
	}

	query := strings.TrimSpace(ArgsString(args, "query"))
	if query == "" {
		return domain.ToolResult{}, fmt.Errorf("missing argument: query")
	}

	days := ArgsInt(args, "days", 1)
	if days < 1 {
		days = 1
	}
	if days > 7 {
		days = 7
	}

	endpoint := "current.json"
	if days > 1 {
		endpoint = "forecast.json"
	}

	params := url.Values{}
	params.Set("key", apiKey)
	params.Set("q", query)
	if days > 1 {
		params.Set("days", strconv.Itoa(days))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.ToolResult{}, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.ToolResult{Error: fmt.Sprintf("weather request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ToolResult{Error: fmt.Sprintf("failed to read weather response: %v", err)}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(body)
		var errBody struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error.Message != "" {
			detail = errBody.Error.Message
		}
		return domain.ToolResult{Error: fmt.Sprintf("weather API error (%s): %s", resp.Status, detail)}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.ToolResult{}, fmt.Errorf("failed to parse weather response: %w", err)
	}

	summary := ""
	if days > 1 {
		summary = summarizeForecast(parsed, days)
	} else {
		summary = summarizeCurrent(parsed)
	}
	if summary == "" {
		// Unexpected shape; hand back the raw body rather than nothing.
		pretty, _ := json.MarshalIndent(parsed, "", "  ")
		summary = string(pretty)
	}

	return domain.ToolResult{Success: true, Output: summary}, nil
}

// summarizeCurrent renders current conditions, or "" when the response does
// not carry the expected fields.
func summarizeCurrent(data map[string]any) string {
	location := buildLocationLine(data)
	if location == "" {
		return ""
	}
	current, ok := data["current"].(map[string]any)
	if !ok {
		return ""
	}
	condition, ok := jsonPathString(current, "condition", "text")
	if !ok {
		return ""
	}
	temp, ok1 := jsonFloat(current["temp_c"])
	feels, ok2 := jsonFloat(current["feelslike_c"])
	humidity, ok3 := jsonFloat(current["humidity"])
	wind, ok4 := jsonFloat(current["wind_kph"])
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return ""
	}
	windDir, _ := current["wind_dir"].(string)
	updated, _ := current["last_updated"].(string)
	if updated == "" {
		updated = "unknown"
	}

	return fmt.Sprintf(
		"%s\nCurrent: %s, temp %.1f C (feels %.1f C), humidity %.0f%%\nWind: %.1f kph %s\nLast updated: %s",
		location, condition, temp, feels, humidity, wind, windDir, updated)
}

// summarizeForecast renders up to days forecast entries, or "" when the
// response does not carry the expected fields.
func summarizeForecast(data map[string]any, days int) string {
	location := buildLocationLine(data)
	if location == "" {
		return ""
	}
	forecast, ok := data["forecast"].(map[string]any)
	if !ok {
		return ""
	}
	forecastDays, ok := forecast["forecastday"].([]any)
	if !ok {
		return ""
	}
	if days > len(forecastDays) {
		days = len(forecastDays)
	}

	lines := []string{location, fmt.Sprintf("Forecast (next %d day(s)):", days)}
	for _, raw := range forecastDays[:days] {
		day, ok := raw.(map[string]any)
		if !ok {
			return ""
		}
		date, ok := day["date"].(string)
		if !ok {
			return ""
		}
		details, ok := day["day"].(map[string]any)
		if !ok {
			return ""
		}
		condition, ok := jsonPathString(details, "condition", "text")
		if !ok {
			return ""
		}
		max, ok1 := jsonFloat(details["maxtemp_c"])
		min, ok2 := jsonFloat(details["mintemp_c"])
		if !ok1 || !ok2 {
			return ""
		}

		line := fmt.Sprintf("%s: %s, min %.1f C / max %.1f C", date, condition, min, max)
		if rain := extractPercentage(details["daily_chance_of_rain"]); rain != "" {
			line += fmt.Sprintf(" (rain chance %s)", rain)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func buildLocationLine(data map[string]any) string {
	location, ok := data["location"].(map[string]any)
	if !ok {
		return ""
	}
	name, ok := location["name"].(string)
	if !ok {
		return ""
	}
	country, ok := location["country"].(string)
	if !ok {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Location: ")
	sb.WriteString(name)
	sb.WriteString(", ")
	if region, _ := location["region"].(string); region != "" {
		sb.WriteString(region)
		sb.WriteString(", ")
	}
	sb.WriteString(country)
	if lat, okLat := jsonFloat(location["lat"]); okLat {
		if lon, okLon := jsonFloat(location["lon"]); okLon {
			fmt.Fprintf(&sb, " (lat %.2f, lon %.2f)", lat, lon)
		}
	}
	return sb.String()
}

// extractPercentage normalizes the rain-chance field, which WeatherAPI
// returns as either a number or a string, into "NN%". Empty when absent.
func extractPercentage(v any) string {
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return ""
		}
		if strings.HasSuffix(trimmed, "%") {
			return trimmed
		}
		return trimmed + "%"
	case float64:
		return fmt.Sprintf("%.0f%%", val)
	case int:
		return fmt.Sprintf("%d%%", val)
	default:
		return ""
	}
}

func jsonFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func jsonPathString(m map[string]any, keys ...string) (string, bool) {
	var current any = m
	for _, key := range keys {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current = obj[key]
	}
	s, ok := current.(string)
	return s, ok
}
