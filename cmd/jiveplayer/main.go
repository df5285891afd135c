package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/linuxmatters/jiveplayer/internal/audio"
	"github.com/linuxmatters/jiveplayer/internal/cli"
	"github.com/linuxmatters/jiveplayer/internal/config"
	"github.com/linuxmatters/jiveplayer/internal/device"
	"github.com/linuxmatters/jiveplayer/internal/effects"
	"github.com/linuxmatters/jiveplayer/internal/engine"
	"github.com/linuxmatters/jiveplayer/internal/logger"
	"github.com/linuxmatters/jiveplayer/internal/playlist"
	"github.com/linuxmatters/jiveplayer/internal/renderer"
	"github.com/linuxmatters/jiveplayer/internal/ui"
)

// version is set via ldflags at build time
// Local dev builds: "dev"
// Release builds: git tag (e.g. "v0.1.0")
var version = "dev"

var CLI struct {
	Paths     []string `arg:"" name:"paths" help:"Audio files or directories to play" optional:""`
	Snapshot  string   `help:"Render one spectrum frame of the first track to this PNG and exit" placeholder:"out.png"`
	At        float64  `help:"Time in seconds for --snapshot" default:"0"`
	NullAudio bool     `help:"Play into a silent device clocked in real time" env:"JIVEPLAYER_NULL_AUDIO"`
	LogFile   string   `help:"Write a JSON log to this file" env:"JIVEPLAYER_LOG_FILE"`
	LogLevel  string   `help:"Log level: debug, info, warn or error" default:"info" env:"JIVEPLAYER_LOG_LEVEL"`
	BarColor  string   `help:"Snapshot bar colour as hex" placeholder:"#A40000" env:"JIVEPLAYER_BAR_COLOR"`
	PeakColor string   `help:"Snapshot peak marker colour as hex" placeholder:"#FF8C00" env:"JIVEPLAYER_PEAK_COLOR"`
	TextColor string   `help:"Snapshot title colour as hex" placeholder:"#F8B31D" env:"JIVEPLAYER_TEXT_COLOR"`
	Volume    float64  `help:"Initial volume from 0 to 1" default:"1.0" env:"JIVEPLAYER_VOLUME"`
	Tone      string   `help:"Tone preset: default, slowed, chipmunk, deep or radio" env:"JIVEPLAYER_TONE"`
	Reverb    string   `help:"Start with reverb in this room: default, small room, medium room, large room, hall or cave" env:"JIVEPLAYER_REVERB"`
	Loop      bool     `help:"Loop each track"`
	Shuffle   bool     `help:"Shuffle the playlist"`
	Repeat    bool     `help:"Repeat the playlist"`
	Version   bool     `help:"Show version information"`
}

func main() {
	// Defaults may come from a .env file; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cli.PrintWarning(fmt.Sprintf("ignoring .env: %v", err))
	}

	ctx := kong.Parse(&CLI,
		kong.Name("jiveplayer"),
		kong.Description(cli.Tagline),
		kong.Vars{"version": version},
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)
	_ = ctx

	if CLI.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}

	if len(CLI.Paths) == 0 {
		cli.PrintError("at least one file or directory is required")
		os.Exit(1)
	}

	tracks, err := playlist.ExpandPaths(CLI.Paths)
	if err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
	if len(tracks) == 0 {
		cli.PrintError("no supported audio files found")
		os.Exit(1)
	}

	if CLI.Snapshot != "" {
		err = renderSnapshot(tracks[0])
	} else {
		err = runPlayer(tracks)
	}
	if err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

func runtimeConfig() (*config.RuntimeConfig, error) {
	rc := &config.RuntimeConfig{}
	colors := []struct {
		flag  string
		value string
		set   func(r, g, b uint8)
	}{
		{"--bar-color", CLI.BarColor, rc.SetBarColor},
		{"--peak-color", CLI.PeakColor, rc.SetPeakColor},
		{"--text-color", CLI.TextColor, rc.SetTextColor},
	}
	for _, c := range colors {
		if c.value == "" {
			continue
		}
		r, g, b, err := config.ParseHexColor(c.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.flag, err)
		}
		c.set(r, g, b)
	}
	return rc, nil
}

func renderSnapshot(path string) error {
	rc, err := runtimeConfig()
	if err != nil {
		return err
	}

	cli.PrintBanner()
	cli.PrintSection("Snapshot")
	cli.PrintInfo("Input", path)
	cli.PrintInfo("Position", fmt.Sprintf("%.1fs", CLI.At))
	cli.PrintInfo("Output", CLI.Snapshot)

	dec, err := audio.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer dec.Close()

	md := dec.Metadata()
	title := md.Title
	if md.Artist != "" {
		title = md.Artist + " - " + title
	}

	if err := renderer.RenderSnapshot(dec, CLI.At, title, CLI.Snapshot, rc); err != nil {
		return err
	}

	cli.PrintTrackSummary(md.Title, md.Artist,
		time.Duration(audio.Duration(dec)*float64(time.Second)), dec.SampleRate(), dec.NumChannels())
	cli.PrintSuccess(fmt.Sprintf("Snapshot at %.1fs written to %s", CLI.At, CLI.Snapshot))
	return nil
}

func openDevice(log *zap.Logger) (device.Device, func(), error) {
	if CLI.NullAudio {
		null := device.NewNull(config.DeviceSampleRate)
		ctx, cancel := context.WithCancel(context.Background())
		go null.RunClock(ctx, config.DevicePeriodMs*time.Millisecond)
		return null, func() {
			cancel()
			null.Close()
		}, nil
	}

	cfg := device.DefaultMalgoConfig()
	cfg.Logger = log
	dev, err := device.OpenMalgo(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audio device: %w (try --null-audio)", err)
	}
	return dev, func() {
		if err := dev.Close(); err != nil {
			log.Warn("closing audio device", zap.Error(err))
		}
	}, nil
}

func runPlayer(tracks []string) error {
	logCfg := logger.DefaultConfig()
	logCfg.Level = CLI.LogLevel
	logCfg.OutputPath = CLI.LogFile
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer log.Sync()

	dev, closeDevice, err := openDevice(log)
	if err != nil {
		return err
	}
	defer closeDevice()

	opts := engine.DefaultOptions()
	opts.Logger = log
	e, err := engine.New(dev, opts)
	if err != nil {
		return fmt.Errorf("starting playback engine: %w", err)
	}
	defer e.Close()

	e.SetVolume(CLI.Volume)
	e.SetLooping(CLI.Loop)

	if CLI.Reverb != "" {
		if err := enableReverb(e, CLI.Reverb); err != nil {
			cli.PrintWarning(err.Error())
		}
	}

	pl := playlist.New(nil)
	pl.Add(tracks...)
	if CLI.Shuffle {
		pl.ToggleShuffle()
	}
	if CLI.Repeat {
		pl.ToggleRepeat()
	}

	model := ui.NewModel(e, pl, nil)
	if CLI.Tone != "" {
		preset, err := effects.TonePresetByName(CLI.Tone)
		if err != nil {
			return err
		}
		model.ApplyTonePreset(preset)
	}
	if err := model.Start(); err != nil {
		return err
	}

	log.Info("player started", zap.Int("tracks", len(tracks)), zap.Bool("null_audio", CLI.NullAudio))

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}

func enableReverb(e *engine.Engine, room string) error {
	r := e.Reverb()
	if r == nil {
		return fmt.Errorf("reverb %q: %w", room, effects.ErrReverbUnsupported)
	}
	if err := r.ApplyPreset(room); err != nil {
		return err
	}
	return e.SetReverbEnabled(true)
}
