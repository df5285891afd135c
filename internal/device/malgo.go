package device

import (
	"encoding/binary"
	"fmt"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/linuxmatters/jiveplayer/internal/config"
)

// MalgoConfig selects the hardware output format.
type MalgoConfig struct {
	SampleRate int
	PeriodMs   int
	Logger     *zap.Logger
}

// DefaultMalgoConfig returns 48 kHz stereo with a 10 ms period.
func DefaultMalgoConfig() MalgoConfig {
	return MalgoConfig{
		SampleRate: config.DeviceSampleRate,
		PeriodMs:   config.DevicePeriodMs,
		Logger:     zap.NewNop(),
	}
}

// Malgo plays the software mixer through the system's default output via
// miniaudio.
type Malgo struct {
	*Mixer
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	log     *zap.Logger
	scratch []int16
}

// OpenMalgo opens and starts the default playback device. Failure here is
// fatal to the player: there is nothing to play into.
func OpenMalgo(cfg MalgoConfig) (*Malgo, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	m := &Malgo{
		Mixer: NewMixer(cfg.SampleRate, true),
		ctx:   ctx,
		log:   log,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.PeriodMs)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = config.DeviceChannels
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	m.device, err = malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := m.device.Start(); err != nil {
		m.device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	log.Info("audio device opened",
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Int("period_ms", cfg.PeriodMs))
	return m, nil
}

// onData runs on the audio thread.
func (m *Malgo) onData(output, _ []byte, frameCount uint32) {
	samples := int(frameCount) * config.DeviceChannels
	if len(output) < samples*2 || samples == 0 {
		return
	}
	if cap(m.scratch) < samples {
		m.scratch = make([]int16, samples)
	}
	pcm := m.scratch[:samples]
	m.Render(pcm)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(s))
	}
}

// Close stops the hardware before releasing mixer state.
func (m *Malgo) Close() error {
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			m.log.Warn("failed to release audio context", zap.Error(err))
		}
		m.ctx.Free()
		m.ctx = nil
	}
	return m.Mixer.Close()
}
