package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/callscope/internal/models"
)

func TestFormatValidationSummary(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s := models.ValidationSummary{
		RunID:          "run-1",
		From:           time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC),
		To:             time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC),
		Candidates:     5,
		Pending:        2,
		Validated:      4,
		Confirmed:      3,
		FalsePositives: 1,
		Failed:         1,
		AccuracyRate:   0.75,
	}
	got := FormatValidationSummary(s, loc)
	for _, want := range []string{
		"run-1",
		"2024-03-04 00:00 to 2024-03-11 00:00",
		"Candidates: 5",
		"Awaiting match window: 2",
		"confirmed 3, false positives 1",
		"Skipped: 0, failed: 1",
		"Accuracy: 75.0%",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}

	empty := FormatValidationSummary(models.ValidationSummary{RunID: "run-2"}, nil)
	if !strings.Contains(empty, "Accuracy: n/a") {
		t.Fatalf("expected n/a accuracy without checked calls, got:\n%s", empty)
	}
	if strings.Contains(empty, "Skipped") || strings.Contains(empty, "Awaiting") {
		t.Fatalf("did not expect skipped line for a clean run:\n%s", empty)
	}
}

func TestFormatReclassifySummary(t *testing.T) {
	got := FormatReclassifySummary(models.ReclassifySummary{Considered: 5, NeedingWork: 4, Processed: 3, Succeeded: 2, Failed: 1})
	if !strings.Contains(got, "5 considered, 4 needing work, 3 processed (2 ok, 1 failed)") {
		t.Fatalf("unexpected reclassify summary: %s", got)
	}
}

func TestSlackNotifierPostsMessage(t *testing.T) {
	var (
		mu      sync.Mutex
		channel string
		text    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		channel = r.PostForm.Get("channel")
		text = r.PostForm.Get("text")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", "C123", zaptest.NewLogger(t), slack.OptionAPIURL(srv.URL+"/"))
	if err := n.Notify(context.Background(), "sweep done"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if channel != "C123" || text != "sweep done" {
		t.Fatalf("unexpected post channel=%q text=%q", channel, text)
	}
}

func TestSlackNotifierReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", "C404", zaptest.NewLogger(t), slack.OptionAPIURL(srv.URL+"/"))
	if err := n.Notify(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for failed slack post")
	}
}

func TestTelegramNotifierSendsMessage(t *testing.T) {
	var (
		mu     sync.Mutex
		chatID string
		text   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"callscope","username":"callscope_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			mu.Lock()
			chatID = r.PostForm.Get("chat_id")
			text = r.PostForm.Get("text")
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api, err := tgbotapi.NewBotAPIWithClient("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient failed: %v", err)
	}
	n := NewTelegramNotifierWithAPI(api, 42, zaptest.NewLogger(t))
	if err := n.Notify(context.Background(), "accuracy 75%"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if chatID != "42" || text != "accuracy 75%" {
		t.Fatalf("unexpected message chat_id=%q text=%q", chatID, text)
	}
}

type recordingNotifier struct {
	got []string
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.got = append(r.got, text)
	return r.err
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingNotifier{}
	b := &recordingNotifier{err: boom}
	c := &recordingNotifier{}

	err := Multi{a, b, c}.Notify(context.Background(), "hi")
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	for i, n := range []*recordingNotifier{a, b, c} {
		if len(n.got) != 1 || n.got[0] != "hi" {
			t.Fatalf("notifier %d did not receive the message: %v", i, n.got)
		}
	}

	if err := (Multi{}).Notify(context.Background(), "x"); err != nil {
		t.Fatalf("empty Multi should not fail: %v", err)
	}
	if err := (Nop{}).Notify(context.Background(), "x"); err != nil {
		t.Fatalf("Nop should not fail: %v", err)
	}
}
