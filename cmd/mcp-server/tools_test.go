// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeWeatherCode(t *testing.T) {
	cases := map[int]string{
		0:  "clear_sky",
		61: "slight_rain",
		95: "thunderstorm",
		-1: "unknown_condition",
		42: "unknown_condition",
	}
	for code, want := range cases {
		if got := decodeWeatherCode(code); got != want {
			t.Errorf("decodeWeatherCode(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestWebPageExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Chi siamo</title></head><body>
			<p>Primo paragrafo.</p>
			<p>Secondo paragrafo.</p>
			<p>Terzo paragrafo.</p>
			<p>Quarto paragrafo, oltre il limite.</p>
		</body></html>`))
	}))
	defer srv.Close()

	text, err := webPageExtract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("webPageExtract() error = %v", err)
	}
	if !strings.Contains(text, "Titolo: Chi siamo") {
		t.Errorf("missing title: %q", text)
	}
	if !strings.Contains(text, "Terzo paragrafo.") {
		t.Errorf("missing third paragraph: %q", text)
	}
	if strings.Contains(text, "Quarto") {
		t.Errorf("extract should stop at three paragraphs: %q", text)
	}
}

func TestWebPageExtractNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := webPageExtract(context.Background(), srv.URL); err == nil {
		t.Fatal("webPageExtract() should fail on 404")
	}
}
