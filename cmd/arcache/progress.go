package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// progressSink is what the library's WithDownloadProgress/WithUploadProgress
// callbacks publish into: one byte count per completed chunk. A Bubble Tea
// program reads it on a background goroutine and re-renders one progress
// bar (spec.md's domain-stack table: "driven by byte-count ticks published
// through a channel from the downloader/uploader, styled with lipgloss").
//
// Grounded on the teacher's cmd/modfetch/download_progress.go polling loop,
// generalized from a 250ms DB-poll to an event-driven channel consumer
// since arcache has no on-disk state to poll.
type progressSink chan int64

func newProgressSink() progressSink { return make(progressSink, 64) }

// onChunk is passed directly as the library's OnChunk callback. It must
// not block — channel is buffered and a full channel just drops the tick,
// which only delays the bar catching up to the next one.
func (s progressSink) onChunk(n int64) {
	select {
	case s <- n:
	default:
	}
}

type progressModel struct {
	bar       progress.Model
	sink      progressSink
	total     int64
	completed int64
	label     string
	done      bool
}

func newProgressModel(label string, total int64, sink progressSink) progressModel {
	return progressModel{
		bar:   progress.New(progress.WithDefaultGradient()),
		sink:  sink,
		total: total,
		label: label,
	}
}

type chunkMsg int64
type closedMsg struct{}

func waitForChunk(sink progressSink) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-sink
		if !ok {
			return closedMsg{}
		}
		return chunkMsg(n)
	}
}

func (m progressModel) Init() tea.Cmd {
	return waitForChunk(m.sink)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case chunkMsg:
		m.completed += int64(msg)
		var cmd tea.Cmd
		if m.total > 0 {
			cmd = m.bar.SetPercent(float64(m.completed) / float64(m.total))
		}
		return m, tea.Batch(cmd, waitForChunk(m.sink))
	case closedMsg:
		m.done = true
		return m, tea.Quit
	case progress.FrameMsg:
		next, cmd := m.bar.Update(msg)
		m.bar = next.(progress.Model)
		return m, cmd
	default:
		return m, nil
	}
}

func (m progressModel) View() string {
	style := lipgloss.NewStyle().Bold(true)
	header := style.Render(m.label)
	counts := fmt.Sprintf("%s / %s", humanize.Bytes(uint64(m.completed)), humanize.Bytes(uint64(m.total)))
	if m.total <= 0 {
		counts = humanize.Bytes(uint64(m.completed))
	}
	return fmt.Sprintf("%s\n%s  %s\n", header, m.bar.View(), counts)
}

// runProgress drives a Bubble Tea program against sink until the channel
// is closed, then returns. The caller closes sink once the transfer
// goroutine finishes so the program exits.
func runProgress(label string, total int64, sink progressSink) error {
	p := tea.NewProgram(newProgressModel(label, total, sink))
	_, err := p.Run()
	return err
}

// fallbackProgress is used under --quiet or --json: a plain periodic line
// on stdout instead of a redrawing bar, still fed by the same sink. It
// returns when sink is closed or done is closed.
func fallbackProgress(label string, total int64, sink progressSink, done <-chan struct{}) {
	var completed int64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case n, ok := <-sink:
			if !ok {
				return
			}
			completed += n
		case <-ticker.C:
			fmt.Printf("%s: %s", label, humanize.Bytes(uint64(completed)))
			if total > 0 {
				fmt.Printf(" / %s", humanize.Bytes(uint64(total)))
			}
			fmt.Println()
		case <-done:
			return
		}
	}
}
