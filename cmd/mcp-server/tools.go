// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "loom-mcp-server/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wikipediaSummary fetches the lead extract of the best-matching article.
func wikipediaSummary(ctx context.Context, query string) (string, error) {
	endpoint := "https://en.wikipedia.org/api/rest_v1/page/summary/" +
		url.PathEscape(strings.ReplaceAll(query, " ", "_"))

	var doc struct {
		Title   string `json:"title"`
		Extract string `json:"extract"`
	}
	if err := getJSON(ctx, endpoint, &doc); err != nil {
		return "", fmt.Errorf("wikipedia lookup failed: %w", err)
	}
	if doc.Extract == "" {
		return "", fmt.Errorf("no Wikipedia summary found for %q", query)
	}
	return doc.Extract, nil
}

type geocodeResult struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// geocode resolves a city name to coordinates with the Open-Meteo
// geocoding API.
func geocode(ctx context.Context, city string) (*geocodeResult, error) {
	endpoint := "https://geocoding-api.open-meteo.com/v1/search?count=1&language=it&format=json&name=" +
		url.QueryEscape(city)

	var doc struct {
		Results []geocodeResult `json:"results"`
	}
	if err := getJSON(ctx, endpoint, &doc); err != nil {
		return nil, err
	}
	if len(doc.Results) == 0 {
		return nil, fmt.Errorf("city %q not found", city)
	}
	result := doc.Results[0]
	if result.Timezone == "" {
		result.Timezone = "Europe/Rome"
	}
	return &result, nil
}

// currentWeather returns the current conditions for a city as a JSON
// document with the weathercode decoded into a condition string.
func currentWeather(ctx context.Context, city string) (string, error) {
	loc, err := geocode(ctx, city)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf(
		"https://api.open-meteo.com/v1/forecast?latitude=%f&longitude=%f&current_weather=true&timezone=%s",
		loc.Latitude, loc.Longitude, url.QueryEscape(loc.Timezone),
	)

	var doc struct {
		CurrentWeather map[string]any `json:"current_weather"`
	}
	if err := getJSON(ctx, endpoint, &doc); err != nil {
		return "", fmt.Errorf("weather lookup failed: %w", err)
	}
	if doc.CurrentWeather == nil {
		return "", fmt.Errorf("weather data not available for %q", city)
	}

	code := -1
	if raw, ok := doc.CurrentWeather["weathercode"].(float64); ok {
		code = int(raw)
	}
	doc.CurrentWeather["condition"] = decodeWeatherCode(code)

	payload, err := json.Marshal(doc.CurrentWeather)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

var weatherCodes = map[int]string{
	0:  "clear_sky",
	1:  "mainly_clear",
	2:  "partly_cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing_rime_fog",
	51: "light_drizzle",
	53: "moderate_drizzle",
	55: "dense_drizzle",
	56: "light_freezing_drizzle",
	57: "dense_freezing_drizzle",
	61: "slight_rain",
	63: "moderate_rain",
	65: "heavy_rain",
	66: "light_freezing_rain",
	67: "heavy_freezing_rain",
	71: "slight_snow_fall",
	73: "moderate_snow_fall",
	75: "heavy_snow_fall",
	77: "snow_grains",
	80: "slight_rain_showers",
	81: "moderate_rain_showers",
	82: "violent_rain_showers",
	85: "slight_snow_showers",
	86: "heavy_snow_showers",
	95: "thunderstorm",
	96: "thunderstorm_with_slight_hail",
	99: "thunderstorm_with_heavy_hail",
}

func decodeWeatherCode(code int) string {
	if condition, ok := weatherCodes[code]; ok {
		return condition
	}
	return "unknown_condition"
}

// webPageExtract fetches a page and returns its title plus the first few
// paragraphs of text.
func webPageExtract(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "loom-mcp-server/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	title := "Nessun titolo"
	if t := findFirst(root, "title"); t != "" {
		title = t
	}
	paragraphs := collectText(root, "p", 3)

	return fmt.Sprintf("Titolo: %s\n\nEstratto:\n%s", title, strings.Join(paragraphs, "\n")), nil
}

func findFirst(node *html.Node, tag string) string {
	if node.Type == html.ElementNode && node.Data == tag {
		return strings.TrimSpace(nodeText(node))
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if text := findFirst(child, tag); text != "" {
			return text
		}
	}
	return ""
}

func collectText(node *html.Node, tag string, limit int) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			if text := strings.TrimSpace(nodeText(n)); text != "" {
				out = append(out, text)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return out
}

func nodeText(node *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return sb.String()
}
