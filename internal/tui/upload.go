// Package tui renders upload progress with bubbletea.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/flashtools/smpflash/internal/uploader"
)

// progressMsg carries one orchestrator progress report into the UI loop.
type progressMsg uploader.Progress

// doneMsg ends the UI when the transfer reaches a terminal state.
type doneMsg struct {
	err error
}

type uploadModel struct {
	bar    progress.Model
	styles Styles
	cancel context.CancelFunc

	state   uploader.State
	offset  uint32
	total   uint32
	started time.Time
	done    bool
}

func newUploadModel(total uint32, cancel context.CancelFunc) uploadModel {
	return uploadModel{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
		styles:  DefaultStyles(),
		cancel:  cancel,
		total:   total,
		started: time.Now(),
	}
}

func (m uploadModel) Init() tea.Cmd {
	return nil
}

func (m uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.state = msg.State
		m.offset = msg.Offset
		m.total = msg.Total
		return m, nil

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			// Abandoning mid-chunk is safe, the device keeps its
			// partial image for a later resume.
			m.cancel()
		}
		return m, nil
	}
	return m, nil
}

func (m uploadModel) View() string {
	if m.done {
		return ""
	}
	var pct float64
	if m.total > 0 {
		pct = float64(m.offset) / float64(m.total)
	}
	elapsed := time.Since(m.started).Round(time.Second)
	status := fmt.Sprintf("%-9s %7d / %d bytes  %s", m.state, m.offset, m.total, elapsed)
	return m.styles.Label.Render(status) + "\n" + m.bar.ViewAs(pct) + "\n" +
		m.styles.Muted.Render("press q to abort") + "\n"
}

// RunUpload renders a progress bar while fn performs the transfer in its own
// goroutine. fn receives a context that is cancelled when the user aborts
// and a report callback that is safe to call from that goroutine. The
// returned error is whatever fn returned.
func RunUpload(ctx context.Context, total uint32, fn func(ctx context.Context, report func(uploader.Progress)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newUploadModel(total, cancel))

	result := make(chan error, 1)
	go func() {
		err := fn(ctx, func(pr uploader.Progress) {
			p.Send(progressMsg(pr))
		})
		result <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return fmt.Errorf("progress display: %w", err)
	}
	return <-result
}
