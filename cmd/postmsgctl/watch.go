package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/atsika/postmsg"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	watchLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	watchOpenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	watchOtherStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type snapshotTickMsg struct{}

type watchModel struct {
	client *postmsg.Client
	snap   postmsg.Snapshot
}

func (m watchModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg { return snapshotTickMsg{} })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case snapshotTickMsg:
		m.snap = m.client.Snapshot()
		return m, tickCmd()
	}
	return m, nil
}

func (m watchModel) View() string {
	stateStyle := watchOtherStyle
	if m.snap.State == postmsg.StateSessionOpen {
		stateStyle = watchOpenStyle
	}

	return fmt.Sprintf(
		"%s\n\n%s %s\n%s %d  %s %d/%d\n\n%s %d/%d  %s %d/%d\n%s %d  %s %d  %s %d  %s %d\n\n%s\n",
		watchTitleStyle.Render("postmsgctl watch"),
		watchLabelStyle.Render("state:"), stateStyle.Render(m.snap.State.String()),
		watchLabelStyle.Render("version:"), m.snap.Version,
		watchLabelStyle.Render("chunk size tx/rx:"), m.snap.TxChunkSize, m.snap.RxChunkSize,
		watchLabelStyle.Render("chunks sent/recv:"), m.snap.ChunksSent, m.snap.ChunksReceived,
		watchLabelStyle.Render("bytes sent/recv:"), m.snap.BytesSent, m.snap.BytesReceived,
		watchLabelStyle.Render("control retries:"), m.snap.ControlRetries,
		watchLabelStyle.Render("object retries:"), m.snap.ObjectRetries,
		watchLabelStyle.Render("violations:"), m.snap.ProtocolViolations,
		watchLabelStyle.Render("dropped:"), m.snap.ObjectsDropped,
		watchLabelStyle.Render("(q to quit)"),
	)
}

func runWatch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8088/relay", "relay url")
	fs.Parse(args)

	client, relay, err := dial(ctx, *url)
	if err != nil {
		fmt.Println("dial:", err)
		return 1
	}
	defer relay.Close()

	p := tea.NewProgram(watchModel{client: client})
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	if _, err := p.Run(); err != nil {
		fmt.Println("watch:", err)
		return 1
	}
	return 0
}
