package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/callscope/internal/models"
)

type stubGenerator struct {
	reply string
	err   error
	calls int
	block bool
}

func (s *stubGenerator) Model() string { return "stub-model" }

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

const sinkLeak = "Hi, my kitchen sink is leaking badly, can someone come today?"

func TestGuardBoundary(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		proceed bool
		need    string
	}{
		{"empty", "", false, "No transcript available"},
		{"blank", "   \n\t ", false, "No transcript available"},
		{"nine runes", "123456789", false, "Transcript too short for analysis"},
		{"nine runes padded", "  123456789  ", false, "Transcript too short for analysis"},
		{"ten runes", "1234567890", true, ""},
		{"multibyte ten", "éééééééééé", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := Guard(tc.text)
			if ok != tc.proceed {
				t.Fatalf("Guard(%q) proceed=%v, want %v", tc.text, ok, tc.proceed)
			}
			if ok {
				return
			}
			if res.Category != models.CategoryOther || res.Intent != models.IntentInquiry || res.Sentiment != models.SentimentNeutral {
				t.Fatalf("unexpected default labels: %+v", res)
			}
			if res.Confidence != 0.1 || !res.NeedsReview {
				t.Fatalf("expected confidence 0.1 with review, got %+v", res)
			}
			if res.CustomerNeed != tc.need {
				t.Fatalf("customer need = %q, want %q", res.CustomerNeed, tc.need)
			}
		})
	}
}

func TestGuardRunsBeforeGenerator(t *testing.T) {
	gen := &stubGenerator{reply: `{"category":"HVAC","confidence":0.9}`}
	c := NewAIClassifier(gen, zaptest.NewLogger(t))

	res := c.Classify(context.Background(), Input{Transcript: "123456789"})
	if gen.calls != 0 {
		t.Fatalf("generator called %d times for a short transcript", gen.calls)
	}
	if res.Confidence != 0.1 {
		t.Fatalf("expected guard result, got %+v", res)
	}

	c.Classify(context.Background(), Input{Transcript: "1234567890"})
	if gen.calls != 1 {
		t.Fatalf("expected exactly one generator call, got %d", gen.calls)
	}
}

func TestHeuristicSinkLeak(t *testing.T) {
	res := NewHeuristicClassifier().Classify(context.Background(), Input{Transcript: sinkLeak})
	if res.Category != models.CategoryPlumbing {
		t.Fatalf("category = %s, want Plumbing", res.Category)
	}
	if res.Intent != models.IntentEmergency {
		t.Fatalf("intent = %s, want Emergency", res.Intent)
	}
	if res.Confidence != 0.4 || !res.NeedsReview {
		t.Fatalf("expected confidence 0.4 with review, got %+v", res)
	}
	if res.Model != heuristicModel {
		t.Fatalf("model = %q", res.Model)
	}
}

func TestHeuristicRules(t *testing.T) {
	h := NewHeuristicClassifier()
	cases := []struct {
		text      string
		category  models.Category
		intent    models.Intent
		sentiment models.Sentiment
	}{
		{"My water heater stopped and the drain is slow", models.CategoryWaterHeater, models.IntentInquiry, models.SentimentNeutral},
		{"The furnace is out, can you schedule a visit? Thank you", models.CategoryHVAC, models.IntentBooking, models.SentimentPositive},
		{"How much to snake the sewer line?", models.CategoryDrain, models.IntentEstimate, models.SentimentNeutral},
		{"I am frustrated, the toilet you fixed is broken again", models.CategoryPlumbing, models.IntentInquiry, models.SentimentNegative},
		{"Calling to ask about financing for a new system", models.CategoryFinancing, models.IntentInquiry, models.SentimentNeutral},
		{"Checking in on the permit for the job", models.CategoryOther, models.IntentFollowUp, models.SentimentNeutral},
		{"Thanks, but this is terrible service", models.CategoryOther, models.IntentInquiry, models.SentimentNeutral},
		{"I want to renew my membership please", models.CategoryMembership, models.IntentInquiry, models.SentimentNeutral},
		{"Please book a backflow test", models.CategoryOther, models.IntentBooking, models.SentimentNeutral},
	}
	for _, tc := range cases {
		res := h.Analyze(tc.text)
		if res.Category != tc.category || res.Intent != tc.intent || res.Sentiment != tc.sentiment {
			t.Errorf("Analyze(%q) = %s/%s/%s, want %s/%s/%s", tc.text,
				res.Category, res.Intent, res.Sentiment, tc.category, tc.intent, tc.sentiment)
		}
		if !res.Valid() {
			t.Errorf("Analyze(%q) produced invalid result %+v", tc.text, res)
		}
	}
}

func TestHeuristicDeterministic(t *testing.T) {
	h := NewHeuristicClassifier()
	a := h.Analyze(sinkLeak)
	for i := 0; i < 5; i++ {
		if b := h.Analyze(sinkLeak); b != a {
			t.Fatalf("run %d differs: %+v vs %+v", i, b, a)
		}
	}
}

func TestAIClassifierParsesFencedJSON(t *testing.T) {
	gen := &stubGenerator{reply: "Here you go:\n```json\n" +
		`{"category":"water heater","intent":"BOOKING","sentiment":"positive","service_detail":"Tank replacement","customer_need":"Wants a new tank {soon}","confidence":1.7}` +
		"\n```"}
	res := NewAIClassifier(gen, zaptest.NewLogger(t)).Classify(context.Background(), Input{Transcript: sinkLeak})

	if res.Category != models.CategoryWaterHeater || res.Intent != models.IntentBooking || res.Sentiment != models.SentimentPositive {
		t.Fatalf("unexpected labels: %+v", res)
	}
	if res.Confidence != 1 || res.NeedsReview {
		t.Fatalf("expected clamped confidence 1 without review, got %+v", res)
	}
	if res.ServiceDetail != "Tank replacement" || res.CustomerNeed != "Wants a new tank {soon}" {
		t.Fatalf("unexpected free text: %+v", res)
	}
	if res.Model != "stub-model" {
		t.Fatalf("model = %q", res.Model)
	}
}

func TestAIClassifierFreeTextDefaults(t *testing.T) {
	gen := &stubGenerator{reply: `{"category":"Roofing","intent":"chit-chat","sentiment":"meh","confidence":"0.72"}`}
	res := NewAIClassifier(gen, zaptest.NewLogger(t)).Classify(context.Background(), Input{Transcript: sinkLeak})

	if res.Category != models.CategoryOther || res.Intent != models.IntentInquiry || res.Sentiment != models.SentimentNeutral {
		t.Fatalf("expected default arms, got %+v", res)
	}
	if res.Confidence != 0.72 || res.NeedsReview {
		t.Fatalf("expected string confidence to parse, got %+v", res)
	}
}

func TestAIClassifierMissingConfidence(t *testing.T) {
	gen := &stubGenerator{reply: `{"category":"HVAC","intent":"Emergency"}`}
	res := NewAIClassifier(gen, zaptest.NewLogger(t)).Classify(context.Background(), Input{Transcript: sinkLeak})
	if res.Confidence != 0.5 || !res.NeedsReview {
		t.Fatalf("expected default 0.5 with review, got %+v", res)
	}
	if res.Category != models.CategoryHVAC || res.Intent != models.IntentEmergency {
		t.Fatalf("unexpected labels: %+v", res)
	}
}

func TestAIClassifierFallbackTotality(t *testing.T) {
	heuristic := NewHeuristicClassifier().Analyze(sinkLeak)

	cases := []struct {
		name string
		gen  TextGenerator
		opts []AIOption
	}{
		{"no credentials", nil, nil},
		{"transport error", &stubGenerator{err: errors.New("connection refused")}, nil},
		{"timeout", &stubGenerator{block: true}, []AIOption{WithTimeout(10 * time.Millisecond)}},
		{"prose", &stubGenerator{reply: "I am unable to classify this call."}, nil},
		{"array", &stubGenerator{reply: `["Plumbing","Emergency"]`}, nil},
		{"truncated", &stubGenerator{reply: `{"category":"Plumbing","intent":`}, nil},
		{"wrong types", &stubGenerator{reply: `{"category":7,"intent":["Booking"]}`}, nil},
		{"below floor", &stubGenerator{reply: `{"category":"HVAC","intent":"Booking","confidence":0.1}`}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewAIClassifier(tc.gen, zaptest.NewLogger(t), tc.opts...)
			res := c.Classify(context.Background(), Input{Transcript: sinkLeak})
			if res != heuristic {
				t.Fatalf("expected heuristic result %+v, got %+v", heuristic, res)
			}
			if !res.Valid() {
				t.Fatalf("invalid result %+v", res)
			}
		})
	}
}

func TestAIClassifierFloorIsConfigurable(t *testing.T) {
	gen := &stubGenerator{reply: `{"category":"HVAC","intent":"Booking","confidence":0.1}`}
	res := NewAIClassifier(gen, zaptest.NewLogger(t), WithMinConfidence(0)).
		Classify(context.Background(), Input{Transcript: sinkLeak})
	if res.Model != "stub-model" || res.Confidence != 0.1 || !res.NeedsReview {
		t.Fatalf("expected model answer to be kept, got %+v", res)
	}
}

func TestNormalizeCategoryPrefersWaterHeater(t *testing.T) {
	cases := map[string]models.Category{
		"Water Heater":       models.CategoryWaterHeater,
		"waterheater":        models.CategoryWaterHeater,
		"hot water issue":    models.CategoryWaterHeater,
		"Heating":            models.CategoryHVAC,
		"  PLUMBING ":        models.CategoryPlumbing,
		"drain repair":       models.CategoryDrain,
		"Financing options":  models.CategoryFinancing,
		"membership renewal": models.CategoryMembership,
		"":                   models.CategoryOther,
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %s, want %s", in, got, want)
		}
	}
	if got := NormalizeCategory(nil); got != models.CategoryOther {
		t.Errorf("NormalizeCategory(nil) = %s", got)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{0.85, 0.85},
		{-3.0, 0},
		{42.0, 1},
		{nil, 0.5},
		{"oops", 0.5},
		{" 0.3 ", 0.3},
		{true, 0.5},
	}
	for _, tc := range cases {
		if got := NormalizeConfidence(tc.in); got != tc.want {
			t.Errorf("NormalizeConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"":                                      "",
		"no braces":                             "",
		"```json\n{\"a\":1}\n```":               `{"a":1}`,
		`prefix {"a":{"b":"}"}} suffix {"c":2}`: `{"a":{"b":"}"}}`,
		`{"a":"escaped \" }"}`:                  `{"a":"escaped \" }"}`,
		`{"open":`:                              "",
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Errorf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPromptIncludesMetadata(t *testing.T) {
	p := BuildPrompt(Input{
		Transcript: "  my AC quit  ",
		Direction:  models.DirectionInbound,
		Duration:   95,
		CallDate:   time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC),
	})
	for _, want := range []string{"Direction: inbound", "Duration: 95 seconds", "Caller: Unknown", "2025-07-01T14:00:00Z", "my AC quit", `"Water Heater"`} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestKeywordOnly(t *testing.T) {
	logger := zaptest.NewLogger(t)
	if !NewAIClassifier(nil, logger).KeywordOnly() {
		t.Fatal("classifier without a generator should be keyword only")
	}
	if NewAIClassifier(&stubGenerator{}, logger).KeywordOnly() {
		t.Fatal("classifier with a generator should not be keyword only")
	}
	for model, want := range map[string]bool{"none": true, "keyword-fallback": true, "stub-model": false, "": false} {
		if got := IsKeywordModel(model); got != want {
			t.Errorf("IsKeywordModel(%q) = %v, want %v", model, got, want)
		}
	}
}
