package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"hotlabel/internal/app"
	"hotlabel/internal/config"
	"hotlabel/internal/signals"
	"hotlabel/internal/task"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fakeEngine struct {
	mu        sync.Mutex
	triggered []task.Options
	completed []string
	optedOut  bool
	pres      *presenter
}

func (f *fakeEngine) Trigger(ctx context.Context, opts task.Options) (*task.Task, error) {
	f.mu.Lock()
	f.triggered = append(f.triggered, opts)
	f.mu.Unlock()
	t := &task.Task{ID: "task-1", Type: opts.TaskType, Status: task.StatusCreated}
	_ = f.pres.Present(ctx, t)
	return t, nil
}

func (f *fakeEngine) Complete(_ context.Context, t *task.Task, response map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, t.ID+":"+response["label"].(string))
	return true
}

func (f *fakeEngine) OptOut(context.Context)        { f.optedOut = true }
func (f *fakeEngine) Counters() task.Counters       { return task.Counters{TasksCreatedToday: 1} }
func (f *fakeEngine) Config() (config.Config, bool) { return config.Config{}, true }
func (f *fakeEngine) OptedOut() bool                { return f.optedOut }
func (f *fakeEngine) NextReset() time.Time          { return time.Time{} }

func TestIsYes(t *testing.T) {
	for in, want := range map[string]bool{"y": true, "YES": true, " yes ": true, "n": false, "": false, "yep": false} {
		if got := isYes(in); got != want {
			t.Fatalf("isYes(%q)=%v want %v", in, got, want)
		}
	}
}

func TestTerminalRoutesAnswerToPendingPrompt(t *testing.T) {
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	term := newTerminal(pr, out)

	res := make(chan bool, 1)
	go func() {
		ok, _ := term.Prompt(context.Background())
		res <- ok
	}()

	// Wait until the prompt is registered.
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), consentQuestion) {
		if time.Now().After(deadline) {
			t.Fatalf("prompt not shown")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, _ = io.WriteString(pw, "y\nstatus\n")

	select {
	case ok := <-res:
		if !ok {
			t.Fatalf("prompt answer not routed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("prompt did not return")
	}
	select {
	case line := <-term.cmds:
		if line != "status" {
			t.Fatalf("cmd=%q want status", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("command not routed")
	}
	_ = pw.Close()
}

func TestTerminalPromptAfterEOF(t *testing.T) {
	term := newTerminal(strings.NewReader(""), io.Discard)
	for range term.cmds {
	}
	ok, err := term.Prompt(context.Background())
	if ok || err != io.EOF {
		t.Fatalf("ok=%v err=%v want false io.EOF", ok, err)
	}
}

func TestTerminalPromptHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	term := newTerminal(pr, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := term.Prompt(ctx)
	if ok || err == nil {
		t.Fatalf("ok=%v err=%v want context error", ok, err)
	}
}

func TestConsoleCommands(t *testing.T) {
	out := &syncBuffer{}
	term := newTerminal(strings.NewReader(strings.Join([]string{
		"trigger image-classification",
		`complete task-1 {"label":"cat"}`,
		"complete task-1",
		"engage mouse 3",
		"bogus",
		"optout",
		"status",
	}, "\n")), out)
	pres := newPresenter(out)
	eng := &fakeEngine{pres: pres}
	tr := signals.NewTracker()
	tr.Start(signals.Environment{})

	con := &console{term: term, out: out, sched: eng, tracker: tr, pres: pres}
	if reason := con.Run(context.Background(), make(chan struct{})); reason != app.StopInputEOF {
		t.Fatalf("reason=%v want input_eof", reason)
	}

	if len(eng.triggered) != 1 || eng.triggered[0].TaskType != "image-classification" {
		t.Fatalf("triggered=%+v", eng.triggered)
	}
	if len(eng.completed) != 1 || eng.completed[0] != "task-1:cat" {
		t.Fatalf("completed=%v", eng.completed)
	}
	if !eng.optedOut {
		t.Fatalf("optout not forwarded")
	}
	text := out.String()
	for _, want := range []string{"new task task-1", `no open task "task-1"`, "engaged", `unknown command "bogus"`, "tasks_today=1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConsoleHelpDescribesSignals(t *testing.T) {
	out := &syncBuffer{}
	term := newTerminal(strings.NewReader("help\nsignals\n"), out)
	pres := newPresenter(out)
	tr := signals.NewTracker()
	tr.Start(signals.Environment{})
	con := &console{term: term, out: out, sched: &fakeEngine{pres: pres}, tracker: tr, pres: pres}
	if reason := con.Run(context.Background(), make(chan struct{})); reason != app.StopInputEOF {
		t.Fatalf("reason=%v want input_eof", reason)
	}
	text := out.String()
	if strings.Contains(text, "sent with tasks") {
		t.Fatalf("help claims signals travel with tasks:\n%s", text)
	}
	if !strings.Contains(text, "engagement signals collected this session") {
		t.Fatalf("help missing signals line:\n%s", text)
	}
}

func TestConsoleQuit(t *testing.T) {
	term := newTerminal(strings.NewReader("quit\nstatus\n"), io.Discard)
	con := &console{term: term, out: io.Discard, pres: newPresenter(io.Discard)}
	if reason := con.Run(context.Background(), make(chan struct{})); reason != app.StopQuit {
		t.Fatalf("reason=%v want quit", reason)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList("en_US.UTF-8, fr-FR,,C")
	if len(got) != 2 || got[0] != "en-US" || got[1] != "fr-FR" {
		t.Fatalf("splitList=%v", got)
	}
}
