package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"askbox/asking"
	"askbox/config"
)

func testDeps(src asking.Source) *deps {
	cfg := config.Default()
	cfg.Asking.PollInterval = time.Millisecond
	return &deps{cfg: cfg, src: src}
}

func TestRunAskPrintsCandidates(t *testing.T) {
	var out bytes.Buffer
	err := runAsk(context.Background(), &out, testDeps(offlineSource()), "orders per month", askOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"searching...", "generating...", "finished...", "[1] SELECT date_trunc", "[2] (view monthly_orders) SELECT * FROM monthly_orders"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunAskSelectsView(t *testing.T) {
	var out bytes.Buffer
	err := runAsk(context.Background(), &out, testDeps(offlineSource()), "orders per month", askOptions{pick: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "selected view #1") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunAskSelectExplainsSQL(t *testing.T) {
	src := offlineSource()
	src.Details = &asking.Details{
		Description: "Counts orders per month",
		Steps: []asking.DetailStep{
			{SQL: "SELECT * FROM orders", Summary: "Take all orders", CTEName: "all_orders"},
			{SQL: "SELECT count(*) FROM all_orders", Summary: "Count them"},
		},
	}
	var out bytes.Buffer
	if err := runAsk(context.Background(), &out, testDeps(src), "orders per month", askOptions{pick: 1}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"description: Counts orders per month",
		"step 1: Take all orders",
		"step 2: Count them\n  WITH all_orders AS ( SELECT * FROM orders )",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunAskDetailsFailureIsReported(t *testing.T) {
	src := offlineSource()
	src.DetailErr = &asking.TaskError{Message: "cannot explain"}
	var out bytes.Buffer
	if err := runAsk(context.Background(), &out, testDeps(src), "orders per month", askOptions{pick: 2}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "details unavailable: cannot explain") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAskingConfigurations(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	got := askingConfigurations(config.Asking{Language: "German", Timezone: "UTC"}, now)
	if got.Language != "German" || got.Timezone == nil {
		t.Fatalf("configurations = %+v", got)
	}
	if got.Timezone.Name != "UTC" || got.Timezone.UTCOffset != "+00:00" {
		t.Errorf("timezone = %+v", got.Timezone)
	}
	if local := askingConfigurations(config.Asking{}, now); local.Timezone.Name == "" {
		t.Error("local zone should be named")
	}
}

func TestRunAskSelectOutOfRange(t *testing.T) {
	var out bytes.Buffer
	err := runAsk(context.Background(), &out, testDeps(offlineSource()), "orders", askOptions{pick: 5})
	if err == nil || !strings.Contains(err.Error(), "no candidate 5") {
		t.Errorf("err = %v", err)
	}
}

func TestRunAskFailed(t *testing.T) {
	src := asking.NewFake(asking.TypeTextToSQL, nil)
	src.Err = &asking.TaskError{Code: "NO_RELEVANT_SQL", Message: "no relevant sql"}
	var out bytes.Buffer
	err := runAsk(context.Background(), &out, testDeps(src), "weather tomorrow", askOptions{})
	if err == nil || !strings.Contains(err.Error(), "no relevant sql") {
		t.Errorf("err = %v", err)
	}
}

func TestRunAskNoResultRecommends(t *testing.T) {
	src := asking.NewFake(asking.TypeTextToSQL, nil)
	src.Recommended = []asking.RecommendedQuestion{{Question: "How many orders per day?"}}
	var out bytes.Buffer
	if err := runAsk(context.Background(), &out, testDeps(src), "orders", askOptions{}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "no results") || !strings.Contains(got, "How many orders per day?") {
		t.Errorf("output = %q", got)
	}
}

func TestRunAskGeneralStreams(t *testing.T) {
	src := asking.NewFake(asking.TypeGeneral, nil)
	src.Answer = "The orders table holds checkouts."
	var out bytes.Buffer
	if err := runAsk(context.Background(), &out, testDeps(src), "what is in orders", askOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "The orders table holds checkouts.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunAskEmptyQuestion(t *testing.T) {
	var out bytes.Buffer
	if err := runAsk(context.Background(), &out, testDeps(offlineSource()), "   ", askOptions{}); err == nil {
		t.Error("expected error for blank question")
	}
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	if err := printVersion(&out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "askbox dev") {
		t.Errorf("version = %q", out.String())
	}
}
