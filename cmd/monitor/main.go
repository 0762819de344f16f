package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"github.com/rivo/tview"

	"taskmesh/internal/config"
	"taskmesh/internal/registry"
	"taskmesh/internal/stream"
	"taskmesh/internal/task"
)

const tailLimit = 200

// tail is a bounded, newest-last list of envelopes seen on one channel.
type tail struct {
	mu    sync.Mutex
	items []task.Envelope
}

func (t *tail) add(env task.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, env)
	if len(t.items) > tailLimit {
		t.items = t.items[len(t.items)-tailLimit:]
	}
}

func (t *tail) snapshot() []task.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]task.Envelope, len(t.items))
	copy(out, t.items)
	return out
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.taskmesh/config.toml)")
	registryURL := flag.String("registry", "", "registry base URL override")
	backendFlag := flag.String("backend", "", "stream backend override (memory|redis|nats)")
	interval := flag.Duration("interval", 2*time.Second, "agent table refresh interval")
	promptCaps := flag.String("caps", "general", "comma-separated required capabilities for prompt tasks")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	baseURL := firstNonEmpty(*registryURL, cfg.Agent.RegistryURL, "http://localhost:8090")
	client := registry.NewClient(baseURL)

	streamLog, err := openLog(firstNonEmpty(*backendFlag, cfg.Stream.Backend, "redis"), cfg.Stream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open stream log: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = streamLog.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := tview.NewApplication()

	agentsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	agentsTable.SetTitle("Agents (F5 refresh, F10 quit)").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Task Events").SetBorder(true)

	dispatchView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	dispatchView.SetTitle("Dispatch").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("Task -> Mesh: ")
	promptInput.SetBorder(true).SetTitle("Enter = submit task for matching")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus agents",
		baseURL,
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(eventsView, 0, 2, false).
		AddItem(dispatchView, 0, 1, false)

	mainLayout := tview.NewFlex().
		AddItem(agentsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshAgents := func() {
		agents, err := client.ListAgents(ctx, "")
		if err != nil {
			app.QueueUpdateDraw(func() {
				agentsTable.Clear()
				agentsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).
					SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		sort.Slice(agents, func(i, j int) bool {
			return agents[i].AgentID < agents[j].AgentID
		})
		app.QueueUpdateDraw(func() {
			renderAgentsTable(agentsTable, agents)
		})
	}

	events := &tail{}
	dispatches := &tail{}

	redrawTails := func() {
		app.QueueUpdateDraw(func() {
			eventsView.SetText(renderEnvelopes(events.snapshot()))
			dispatchView.SetText(renderEnvelopes(dispatches.snapshot()))
		})
	}

	consumer := "monitor-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	go tailChannel(ctx, streamLog, stream.ChannelEvents, consumer, events, redrawTails, setStatusAsync)
	go tailChannel(ctx, streamLog, stream.ChannelDispatch, consumer, dispatches, redrawTails, setStatusAsync)

	submitPrompt := func(prompt string) {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return
		}
		promptInput.SetText("")
		go func(input string) {
			env := task.NewEnvelope("monitor", task.Core{
				Name:                 trimLine(input, 48),
				Description:          input,
				RequiredCapabilities: splitCSV(*promptCaps),
			})
			raw, err := task.Encode(env)
			if err != nil {
				setStatusAsync("Failed to encode task: " + err.Error())
				return
			}
			if err := streamLog.Publish(ctx, stream.ChannelUnassigned, raw); err != nil {
				setStatusAsync("Failed to submit task: " + err.Error())
				return
			}
			setStatusAsync("Task submitted: " + shortID(env.Task.ID))
		}(prompt)
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(agentsTable)
				setStatusUI("Focus -> agents")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refreshAgents()
			setStatusUI("Manual refresh requested")
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyCtrlT:
			app.SetFocus(agentsTable)
			setStatusUI("Focus -> agents")
			return nil
		case tcell.KeyTAB:
			app.SetFocus(promptInput)
			return nil
		}
		if event.Key() == tcell.KeyRune {
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		refreshAgents()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshAgents()
			}
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

// tailChannel consumes one channel into a bounded tail and redraws after
// every batch. Messages are acked immediately: the monitor is a viewer, a
// dropped frame costs nothing.
func tailChannel(
	ctx context.Context,
	streamLog stream.Log,
	channel, consumer string,
	dest *tail,
	redraw func(),
	setStatus func(string),
) {
	const group = "monitor-grp"
	if err := streamLog.EnsureGroup(ctx, channel, group); err != nil {
		setStatus(fmt.Sprintf("tail %s: %v", channel, err))
		return
	}
	for ctx.Err() == nil {
		msgs, err := streamLog.Consume(ctx, channel, group, consumer, 16, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			setStatus(fmt.Sprintf("tail %s: %v", channel, err))
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			if env, err := task.Decode(msg.Payload); err == nil {
				dest.add(env)
			}
			_ = msg.Ack(ctx)
		}
		if len(msgs) > 0 {
			redraw()
		}
	}
}

func renderAgentsTable(table *tview.Table, agents []registry.Entry) {
	table.Clear()
	headers := []string{"Agent", "Type", "Status", "Heartbeat", "Capabilities"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, a := range agents {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(a.AgentID))
		table.SetCell(row, 1, tview.NewTableCell(a.AgentType))
		table.SetCell(row, 2, tview.NewTableCell(string(a.Status)))
		table.SetCell(row, 3, tview.NewTableCell(a.LastHeartbeat.Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(capabilityNames(a.Capabilities), 48)))
	}
}

func renderEnvelopes(items []task.Envelope) string {
	if len(items) == 0 {
		return "No traffic yet"
	}
	var b strings.Builder
	for i := len(items) - 1; i >= 0; i-- {
		env := items[i]
		b.WriteString(fmt.Sprintf(
			"[%s] %s  %s  status=%s event=%s agent=%s\n",
			env.Header.Timestamp.Format("15:04:05"),
			shortID(env.Task.ID),
			trimLine(env.Task.Name, 32),
			env.Header.Status,
			env.Header.LastEvent,
			env.Header.AssignedAgent,
		))
	}
	return b.String()
}

func capabilityNames(caps []registry.Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func splitCSV(csv string) []string {
	var out []string
	for _, v := range strings.Split(csv, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func openLog(backend string, cfg config.StreamConfig) (stream.Log, error) {
	switch backend {
	case "memory":
		return stream.NewMemoryLog(), nil
	case "redis":
		return stream.NewRedisLog(firstNonEmpty(cfg.Redis, "redis://localhost:6379/0"))
	case "nats":
		return stream.NewNATSLog(firstNonEmpty(cfg.NATS, "nats://localhost:4222"))
	default:
		return nil, fmt.Errorf("unknown stream backend %q", backend)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
