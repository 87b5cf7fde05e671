package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sampleCurrent(t *testing.T) map[string]any {
	t.Helper()
	raw := `{
		"location": {
			"name": "London", "region": "City of London",
			"country": "United Kingdom", "lat": 51.52, "lon": -0.11
		},
		"current": {
			"temp_c": 13.5, "feelslike_c": 12.1, "humidity": 82,
			"wind_kph": 10.2, "wind_dir": "SW",
			"last_updated": "2026-02-15 09:00",
			"condition": {"text": "Partly cloudy"}
		}
	}`
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestSummarizeCurrent(t *testing.T) {
	summary := summarizeCurrent(sampleCurrent(t))
	for _, want := range []string{"London", "Partly cloudy", "13.5", "82%", "SW"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestSummarizeCurrentMalformed(t *testing.T) {
	if got := summarizeCurrent(map[string]any{"location": "nope"}); got != "" {
		t.Errorf("malformed payload should summarize to empty, got %q", got)
	}
}

func TestSummarizeForecastMultipleDays(t *testing.T) {
	raw := `{
		"location": {
			"name": "Newark", "region": "New Jersey",
			"country": "USA", "lat": 40.73, "lon": -74.17
		},
		"forecast": {
			"forecastday": [
				{"date": "2026-02-15", "day": {
					"maxtemp_c": 8.0, "mintemp_c": -1.0,
					"daily_chance_of_rain": 55,
					"condition": {"text": "Light rain"}}},
				{"date": "2026-02-16", "day": {
					"maxtemp_c": 4.0, "mintemp_c": -3.5,
					"daily_chance_of_rain": 20,
					"condition": {"text": "Sunny"}}}
			]
		}
	}`
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatal(err)
	}

	// Requesting more days than available caps at what the API returned.
	summary := summarizeForecast(data, 3)
	for _, want := range []string{"Forecast (next 2 day(s))", "Light rain", "Sunny", "rain chance 55%"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestExtractPercentage(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{float64(55), "55%"},
		{"20", "20%"},
		{"35%", "35%"},
		{"  ", ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := extractPercentage(tc.in); got != tc.want {
			t.Errorf("extractPercentage(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWeatherExecuteMissingKey(t *testing.T) {
	t.Setenv("WEATHER_API_KEY", "")
	w := NewWeatherTool("")
	if _, err := w.Execute(context.Background(), map[string]any{"query": "London"}); err == nil {
		t.Error("missing API key must be a hard error")
	}
}

func TestWeatherExecuteMissingQuery(t *testing.T) {
	w := NewWeatherTool("key")
	if _, err := w.Execute(context.Background(), nil); err == nil {
		t.Error("missing query must be a hard error")
	}
}

func TestWeatherExecuteCurrent(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		json.NewEncoder(rw).Encode(sampleCurrent(t))
	}))
	defer srv.Close()

	w := NewWeatherTool("test-key")
	w.baseURL = srv.URL

	res, err := w.Execute(context.Background(), map[string]any{"query": "London"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result failed: %s", res.Error)
	}
	if gotPath != "/current.json" {
		t.Errorf("path = %q, want /current.json for a single day", gotPath)
	}
	if gotQuery != "London" {
		t.Errorf("q = %q", gotQuery)
	}
	if !strings.Contains(res.Output, "Partly cloudy") {
		t.Errorf("output missing condition:\n%s", res.Output)
	}
}

func TestWeatherExecuteForecastEndpointAndClamp(t *testing.T) {
	var gotPath, gotDays string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDays = r.URL.Query().Get("days")
		rw.Write([]byte(`{}`))
	}))
	defer srv.Close()

	w := NewWeatherTool("test-key")
	w.baseURL = srv.URL

	if _, err := w.Execute(context.Background(), map[string]any{"query": "Oslo", "days": float64(99)}); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/forecast.json" {
		t.Errorf("path = %q, want /forecast.json for multi-day", gotPath)
	}
	if gotDays != "7" {
		t.Errorf("days = %q, want clamped 7", gotDays)
	}
}

func TestWeatherExecuteRemoteErrorInResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusUnauthorized)
		rw.Write([]byte(`{"error":{"code":2006,"message":"API key is invalid."}}`))
	}))
	defer srv.Close()

	w := NewWeatherTool("bad-key")
	w.baseURL = srv.URL

	res, err := w.Execute(context.Background(), map[string]any{"query": "London"})
	if err != nil {
		t.Fatalf("remote failure must not be a hard error: %v", err)
	}
	if res.Success {
		t.Error("result should be marked failed")
	}
	if !strings.Contains(res.Error, "API key is invalid") {
		t.Errorf("error detail not extracted: %q", res.Error)
	}
}

func TestWeatherExecuteUnparseableBodyIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	w := NewWeatherTool("key")
	w.baseURL = srv.URL

	if _, err := w.Execute(context.Background(), map[string]any{"query": "London"}); err == nil {
		t.Error("unparseable success body must be a hard error")
	}
}
