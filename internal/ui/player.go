package ui

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/linuxmatters/jiveplayer/internal/cli"
	"github.com/linuxmatters/jiveplayer/internal/config"
	"github.com/linuxmatters/jiveplayer/internal/effects"
	"github.com/linuxmatters/jiveplayer/internal/engine"
	"github.com/linuxmatters/jiveplayer/internal/playlist"
)

const frameInterval = 16 * time.Millisecond

// tickMsg drives the visualiser refresh
type tickMsg time.Time

// trackEventMsg carries an engine notification into the update loop
type trackEventMsg engine.Event

// Model is the interactive player. It owns no audio state of its own: every
// key maps onto an engine or playlist call and the view reads back from them.
type Model struct {
	engine   *engine.Engine
	playlist *playlist.Sequencer
	rng      *rand.Rand

	progressBar progress.Model
	width       int

	tonePreset string
	message    string
	quitting   bool
}

// NewModel creates the player UI. rng drives the random tone preset and
// may be nil.
func NewModel(e *engine.Engine, pl *playlist.Sequencer, rng *rand.Rand) *Model {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	// Fire gradient: deep red → yellow
	p := progress.New(
		progress.WithGradient(string(cli.FireCrimson), string(cli.FireYellow)),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &Model{
		engine:      e,
		playlist:    pl,
		rng:         rng,
		progressBar: p,
		tonePreset:  effects.TonePresets[0].Name,
	}
}

// Start loads the playlist's current track, skipping forward past any that
// fail to load. It returns an error only when nothing could be played.
func (m *Model) Start() error {
	path, ok := m.playlist.Current()
	if !ok {
		return errors.New("playlist is empty")
	}
	if m.load(path) {
		return nil
	}
	if m.advance() {
		return nil
	}
	return fmt.Errorf("no playable tracks: %s", m.message)
}

// Init starts the frame ticker and the engine event listener
func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForEvent(m.engine.Events()))
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent blocks on the engine's event channel from a command
// goroutine, so the update loop itself never waits.
func waitForEvent(events <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return trackEventMsg(ev)
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(10, min(msg.Width-30, 50))
		return m, nil

	case tickMsg:
		m.engine.UpdateVisualizer()
		return m, tick()

	case trackEventMsg:
		m.handleEvent(engine.Event(msg))
		return m, waitForEvent(m.engine.Events())

	case tea.KeyMsg:
		if m.handleKey(msg.String()) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m *Model) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventTrackFailed:
		m.message = fmt.Sprintf("%s failed: %v", filepath.Base(ev.Path), ev.Err)
		m.advance()
	case engine.EventTrackFinished:
		if !m.advance() {
			m.message = "End of playlist"
		}
	}
}

// advance moves to the next track that loads. It gives up after one pass
// over the list so a playlist of broken files cannot spin forever.
func (m *Model) advance() bool {
	for tries := 0; tries < m.playlist.Len(); tries++ {
		path, ok := m.playlist.Next()
		if !ok {
			return false
		}
		if m.load(path) {
			return true
		}
	}
	return false
}

func (m *Model) load(path string) bool {
	if err := m.engine.LoadTrack(path); err != nil {
		m.message = fmt.Sprintf("Cannot play %s: %v", filepath.Base(path), err)
		return false
	}
	m.message = ""
	return true
}

// handleKey applies one key press and reports whether to quit.
func (m *Model) handleKey(key string) bool {
	e := m.engine

	switch key {
	case "q", "ctrl+c":
		return true

	case " ", "space":
		if e.Status() == engine.StatusPlaying {
			m.report(e.Pause())
		} else {
			m.report(e.Play())
		}
	case "s":
		m.report(e.Stop())

	case "left":
		m.report(e.SetPlayingOffset(e.CurrentTime() - config.SeekStepSeconds))
	case "right":
		m.report(e.SetPlayingOffset(e.CurrentTime() + config.SeekStepSeconds))

	case "+", "=":
		e.SetVolume(e.Volume() + config.ToneStep)
	case "-":
		e.SetVolume(e.Volume() - config.ToneStep)

	case "b":
		e.SetBass(e.Bass() + config.ToneStep)
	case "B":
		e.SetBass(e.Bass() - config.ToneStep)
	case "t":
		e.SetTreble(e.Treble() + config.ToneStep)
	case "T":
		e.SetTreble(e.Treble() - config.ToneStep)
	case "p":
		e.SetPitch(e.Pitch() + 1)
	case "P":
		e.SetPitch(e.Pitch() - 1)

	case "1", "2", "3", "4", "5":
		m.ApplyTonePreset(effects.TonePresets[int(key[0]-'1')%len(effects.TonePresets)])
	case "r":
		m.ApplyTonePreset(effects.RandomTonePreset(m.rng))

	case "e":
		m.report(e.SetReverbEnabled(!e.ReverbEnabled()))
	case "v":
		if r := e.Reverb(); r != nil {
			_, err := r.NextPreset()
			m.report(err)
		} else {
			m.report(effects.ErrReverbUnsupported)
		}

	case "a":
		e.Spatial().MoveSource(-config.PositionStep, 0)
	case "d":
		e.Spatial().MoveSource(config.PositionStep, 0)
	case "w":
		e.Spatial().MoveSource(0, -config.PositionStep)
	case "x":
		e.Spatial().MoveSource(0, config.PositionStep)
	case "c":
		e.Spatial().Reset()

	case "n":
		if !m.advance() && m.message == "" {
			m.message = "Already at the last track"
		}
	case "N":
		m.previous()

	case "l":
		e.SetLooping(!e.Looping())
	case "z":
		m.playlist.ToggleShuffle()
	case "R":
		m.playlist.ToggleRepeat()
	}
	return false
}

// ApplyTonePreset sets the engine's tone and shows the preset's name.
func (m *Model) ApplyTonePreset(p effects.TonePreset) {
	m.engine.ApplyTonePreset(p)
	m.tonePreset = p.Name
}

func (m *Model) previous() {
	path, ok := m.playlist.Previous()
	if !ok {
		m.message = "Already at the first track"
		return
	}
	m.load(path)
}

func (m *Model) report(err error) {
	if err != nil {
		m.message = err.Error()
	} else {
		m.message = ""
	}
}

// View renders the UI
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	e := m.engine

	s.WriteString(lipgloss.NewStyle().Bold(true).Foreground(cli.FireYellow).Render("Jiveplayer 🔥"))
	s.WriteString("\n")
	m.renderTrack(&s)
	s.WriteString("\n\n")

	// Progress bar and timing
	current, total := e.CurrentTime(), e.Duration()
	var percent float64
	if total > 0 {
		percent = current / total
	}
	s.WriteString(statusIcon(e.Status()))
	s.WriteString(" ")
	s.WriteString(m.progressBar.ViewAs(percent))
	s.WriteString(fmt.Sprintf("  %s / %s", formatClock(current), formatClock(total)))
	s.WriteString("\n\n")

	spectrumWidth := config.NumBands
	if m.width > 10 {
		spectrumWidth = min(m.width-10, 64)
	}
	s.WriteString(renderSpectrum(e.VisualizerData(), e.BandPeaks(), spectrumWidth, 4))
	s.WriteString("\n\n")

	m.renderControls(&s)

	if m.message != "" {
		s.WriteString("\n")
		s.WriteString(lipgloss.NewStyle().Foreground(cli.FireRed).Render(m.message))
	}

	s.WriteString("\n\n")
	s.WriteString(lipgloss.NewStyle().Faint(true).Render(
		"space play/pause  s stop  ←/→ seek  +/- volume  b/B t/T p/P tone  1-5 r presets\n" +
			"e reverb  v room  a/d w/x move  c centre  n/N track  l loop  z shuffle  R repeat  q quit"))

	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(cli.FireOrange).
		Padding(1, 2).
		Render(s.String())
}

func (m *Model) renderTrack(s *strings.Builder) {
	info := m.engine.TrackInfo()
	title := info.Title
	if title == "" {
		title = filepath.Base(m.engine.Path())
	}
	s.WriteString(lipgloss.NewStyle().Foreground(cli.FireOrange).Render(title))

	var details []string
	for _, v := range []string{info.Artist, info.Album, info.Year} {
		if v != "" {
			details = append(details, v)
		}
	}
	if len(details) > 0 {
		s.WriteString("  ")
		s.WriteString(lipgloss.NewStyle().Foreground(cli.WarmGray).Render(strings.Join(details, " · ")))
	}

	if n := m.playlist.Len(); n > 1 {
		s.WriteString(lipgloss.NewStyle().Faint(true).Render(fmt.Sprintf("  [%d/%d]", m.playlist.Position(), n)))
	}
}

func (m *Model) renderControls(s *strings.Builder) {
	e := m.engine
	labelStyle := lipgloss.NewStyle().Faint(true)
	valueStyle := lipgloss.NewStyle()

	field := func(label, value string) {
		s.WriteString(labelStyle.Render(label + ":"))
		s.WriteString(" ")
		s.WriteString(valueStyle.Render(value))
		s.WriteString("  ")
	}

	field("Volume", fmt.Sprintf("%d%%", int(e.Volume()*100+0.5)))
	field("Bass", fmt.Sprintf("%+.1f", e.Bass()))
	field("Treble", fmt.Sprintf("%+.1f", e.Treble()))
	field("Pitch", fmt.Sprintf("%+.0f st", e.Pitch()))
	field("Preset", m.tonePreset)
	s.WriteString("\n")

	field("Loop", onOff(e.Looping()))
	field("Shuffle", onOff(m.playlist.Shuffle()))
	field("Repeat", onOff(m.playlist.Repeat()))

	reverb := "unavailable"
	if r := e.Reverb(); r != nil {
		reverb = r.Preset()
		if !e.ReverbEnabled() {
			reverb += " (off)"
		}
	}
	field("Reverb", reverb)

	x, z := e.Spatial().SourcePosition()
	field("Source", fmt.Sprintf("%+.1f, %+.1f", x, z))
}

func statusIcon(status engine.Status) string {
	switch status {
	case engine.StatusPlaying:
		return lipgloss.NewStyle().Foreground(cli.FireYellow).Render("▶")
	case engine.StatusPaused:
		return lipgloss.NewStyle().Foreground(cli.FireOrange).Render("⏸")
	default:
		return lipgloss.NewStyle().Foreground(cli.WarmGray).Render("■")
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// formatClock formats seconds as m:ss
func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// renderSpectrum draws band levels in [0, 1] as fire-coloured block
// columns `rows` high, with a marker where a peak sits above its bar.
func renderSpectrum(values, peaks []float64, width, rows int) string {
	if len(values) == 0 || width <= 0 || rows <= 0 {
		return ""
	}

	blocks := []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	// Fire gradient colours from low to high intensity
	fireColors := []lipgloss.Color{
		lipgloss.Color("#8B0000"), // Dark red (ember)
		cli.FireCrimson,
		cli.FireOrange,
		cli.FireYellow,
	}

	// Sample bands to fit width
	stride := max(1, len(values)/width)
	var cols []int
	for i := 0; i < len(values) && len(cols) < width; i += stride {
		cols = append(cols, i)
	}

	var result strings.Builder
	for r := 0; r < rows; r++ {
		lo := float64(rows-1-r) / float64(rows)
		hi := float64(rows-r) / float64(rows)
		color := fireColors[min(len(fireColors)-1, (rows-1-r)*len(fireColors)/rows)]
		style := lipgloss.NewStyle().Foreground(color)

		var row strings.Builder
		for _, i := range cols {
			v := max(0, min(1, values[i]))
			var peak float64
			if i < len(peaks) {
				peak = max(0, min(1, peaks[i]))
			}

			switch {
			case v >= hi:
				row.WriteRune(blocks[len(blocks)-1])
			case v > lo:
				idx := int((v - lo) / (hi - lo) * float64(len(blocks)-1))
				row.WriteRune(blocks[max(1, idx)])
			case peak > lo && peak <= hi && peak > v:
				row.WriteRune('▔')
			default:
				row.WriteRune(' ')
			}
		}
		result.WriteString(style.Render(row.String()))
		if r < rows-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}
