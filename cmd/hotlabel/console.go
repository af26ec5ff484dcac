package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"hotlabel/internal/app"
	"hotlabel/internal/config"
	"hotlabel/internal/signals"
	"hotlabel/internal/sink"
	"hotlabel/internal/task"
)

const consentQuestion = "Help label data for this site? Short tasks appear occasionally. [y/N] "

// terminal owns stdin. One goroutine reads lines and hands each one to a
// pending consent prompt if there is one, otherwise to the command loop.
type terminal struct {
	out io.Writer

	promptMu sync.Mutex // one prompt at a time

	mu      sync.Mutex
	pending chan string
	eof     bool
	cmds    chan string
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	t := &terminal{out: out, cmds: make(chan string, 16)}
	go t.readLoop(in)
	return t
}

func (t *terminal) readLoop(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		t.mu.Lock()
		p := t.pending
		t.pending = nil
		t.mu.Unlock()
		if p != nil {
			p <- line
			continue
		}
		t.cmds <- line
	}
	t.mu.Lock()
	t.eof = true
	if t.pending != nil {
		close(t.pending)
		t.pending = nil
	}
	t.mu.Unlock()
	close(t.cmds)
}

// Prompt implements consent.Prompter.
func (t *terminal) Prompt(ctx context.Context) (bool, error) {
	t.promptMu.Lock()
	defer t.promptMu.Unlock()

	ch := make(chan string, 1)
	t.mu.Lock()
	if t.eof {
		t.mu.Unlock()
		return false, io.EOF
	}
	t.pending = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.pending == ch {
			t.pending = nil
		}
		t.mu.Unlock()
	}()

	fmt.Fprint(t.out, consentQuestion)
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-ch:
		if !ok {
			return false, io.EOF
		}
		return isYes(line), nil
	}
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// presenter prints tasks and keeps them until completed.
type presenter struct {
	out io.Writer

	mu    sync.Mutex
	tasks map[string]*task.Task
}

func newPresenter(out io.Writer) *presenter {
	return &presenter{out: out, tasks: map[string]*task.Task{}}
}

func (p *presenter) Present(_ context.Context, t *task.Task) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tasks[t.ID] = t
	p.mu.Unlock()
	fmt.Fprintf(p.out, "new task %s\n%s\n", t.ID, b)
	return nil
}

func (p *presenter) take(id string) (*task.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	if ok {
		delete(p.tasks, id)
	}
	return t, ok
}

func (p *presenter) open() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// engine is the part of the scheduler the console drives.
type engine interface {
	Trigger(ctx context.Context, opts task.Options) (*task.Task, error)
	Complete(ctx context.Context, t *task.Task, response map[string]any) bool
	OptOut(ctx context.Context)
	Counters() task.Counters
	Config() (config.Config, bool)
	OptedOut() bool
	NextReset() time.Time
}

type console struct {
	term    *terminal
	out     io.Writer
	sched   engine
	tracker *signals.Tracker
	pres    *presenter
	stats   func() sink.Stats
}

// Run processes commands until quit or end of input, or until ctx or done ends.
func (c *console) Run(ctx context.Context, done <-chan struct{}) app.StopReason {
	fmt.Fprintln(c.out, `hotlabel ready; type "help" for commands`)
	for {
		select {
		case <-ctx.Done():
			return app.StopSignal
		case <-done:
			return app.StopUnknown
		case line, ok := <-c.term.cmds:
			if !ok {
				return app.StopInputEOF
			}
			if quit := c.handle(ctx, line); quit {
				return app.StopQuit
			}
		}
	}
}

func (c *console) handle(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "trigger", "t":
		c.trigger(ctx, args)
	case "complete", "c":
		c.complete(ctx, line, args)
	case "engage", "e":
		c.engage(args)
	case "optout":
		c.sched.OptOut(ctx)
		fmt.Fprintln(c.out, "opted out; no further tasks this session")
	case "status", "s":
		c.status()
	case "signals":
		c.signals()
	case "help", "h", "?":
		c.help()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q; try help\n", cmd)
	}
	return false
}

func (c *console) trigger(ctx context.Context, args []string) {
	var opts task.Options
	if len(args) > 0 {
		opts.TaskType = args[0]
	}
	if len(args) > 1 {
		opts.Category = args[1]
	}
	t, err := c.sched.Trigger(ctx, opts)
	switch {
	case err != nil:
		fmt.Fprintln(c.out, "trigger failed:", err)
	case t == nil:
		fmt.Fprintln(c.out, "no task")
	}
}

func (c *console) complete(ctx context.Context, line string, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "usage: complete <id> [json]")
		return
	}
	id := args[0]
	response := map[string]any{}
	if i := strings.Index(line, id); i >= 0 {
		if raw := strings.TrimSpace(line[i+len(id):]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &response); err != nil {
				fmt.Fprintln(c.out, "invalid response json:", err)
				return
			}
		}
	}
	t, ok := c.pres.take(id)
	if !ok {
		fmt.Fprintf(c.out, "no open task %q\n", id)
		return
	}
	if c.sched.Complete(ctx, t, response) {
		fmt.Fprintf(c.out, "task %s completed\n", id)
	} else {
		fmt.Fprintf(c.out, "task %s was already completed\n", id)
	}
}

func (c *console) engage(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "usage: engage <mouse|scroll|key|hide|show> [n]")
		return
	}
	switch strings.ToLower(args[0]) {
	case "hide":
		c.tracker.Record(signals.Event{Kind: signals.Visibility, Hidden: true})
	case "show":
		c.tracker.Record(signals.Event{Kind: signals.Visibility, Hidden: false})
	default:
		kind, ok := map[string]signals.Kind{
			"mouse":  signals.MouseMove,
			"scroll": signals.Scroll,
			"key":    signals.KeyPress,
		}[strings.ToLower(args[0])]
		if !ok {
			fmt.Fprintf(c.out, "unknown interaction %q\n", args[0])
			return
		}
		n := 1
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v < 1 {
				fmt.Fprintf(c.out, "invalid count %q\n", args[1])
				return
			}
			n = v
		}
		// n events one second apart, ending now.
		now := time.Now()
		for i := 0; i < n; i++ {
			c.tracker.Record(signals.Event{Kind: kind, At: now.Add(-time.Duration(n-1-i) * time.Second)})
		}
	}
	fmt.Fprintf(c.out, "engaged %.1fs\n", c.tracker.CurrentInteractionSeconds())
}

func (c *console) status() {
	cfg, ready := c.sched.Config()
	counters := c.sched.Counters()
	fmt.Fprintf(c.out, "ready=%v mode=%s opted_out=%v\n", ready, cfg.TriggerOptions.Mode, c.sched.OptedOut())
	fmt.Fprintf(c.out, "tasks_today=%d/%d engaged=%.1fs min=%.0fs\n",
		counters.TasksCreatedToday, cfg.TriggerOptions.MaxTasksPerDay,
		c.tracker.CurrentInteractionSeconds(), cfg.TriggerOptions.MinInteractionTimeSeconds)
	if !counters.LastTaskAt.IsZero() {
		fmt.Fprintf(c.out, "last_task=%s\n", counters.LastTaskAt.Format(time.RFC3339))
	}
	if next := c.sched.NextReset(); !next.IsZero() {
		fmt.Fprintf(c.out, "next_reset=%s\n", next.Format(time.RFC3339))
	}
	if c.stats != nil {
		st := c.stats()
		fmt.Fprintf(c.out, "sink queued=%d delivered=%d dropped=%d failed=%d\n", st.Queued, st.Delivered, st.Dropped, st.Failed)
	}
	if open := c.pres.open(); len(open) > 0 {
		fmt.Fprintf(c.out, "open tasks: %s\n", strings.Join(open, " "))
	}
}

func (c *console) signals() {
	cfg, _ := c.sched.Config()
	b, err := json.MarshalIndent(c.tracker.Snapshot(cfg.PrivacySettings.CollectedSignalKinds), "", "  ")
	if err != nil {
		fmt.Fprintln(c.out, "signals:", err)
		return
	}
	fmt.Fprintln(c.out, string(b))
}

func (c *console) help() {
	fmt.Fprint(c.out, `commands:
  trigger [type] [category]   request a task now
  complete <id> [json]        submit a response for an open task
  engage <kind> [n]           record interactions (mouse, scroll, key, hide, show)
  optout                      stop tasks and purge session data
  status                      counters and pipeline state
  signals                     engagement signals collected this session
  quit                        exit
`)
}
