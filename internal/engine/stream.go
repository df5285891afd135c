package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/linuxmatters/jiveplayer/internal/config"
	"github.com/linuxmatters/jiveplayer/internal/device"
)

// run is the streaming goroutine. It polls the source until Close.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for e.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.step()
		}
	}
}

// step is one poll: hand processed buffers back to the pool, refill up to
// the target one buffer at a time, then check the source is still running.
// decMu is held throughout so control calls that move the decoder wait for
// the poll to finish.
func (e *Engine) step() {
	e.decMu.Lock()
	defer e.decMu.Unlock()

	if !e.reclaim() {
		return
	}
	for e.refillOne() {
	}
	e.superviseSource()
}

func (e *Engine) active() bool {
	return !e.closed && e.dec != nil && e.status != StatusStopped
}

func (e *Engine) reclaim() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active() {
		return false
	}
	if err := e.reclaimLocked(); err != nil {
		e.failLocked(err)
		return false
	}
	return true
}

// refillOne decodes and shapes one chunk without mu, then queues it.
// Caller holds decMu.
func (e *Engine) refillOne() bool {
	e.mu.Lock()
	ready := e.active() && len(e.free) > 0
	e.mu.Unlock()
	if !ready || e.eos {
		return false
	}

	start, frames := e.decodeChunk()
	if frames == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active() || len(e.free) == 0 {
		return false
	}
	if err := e.queueChunkLocked(start, frames); err != nil {
		e.failLocked(err)
		return false
	}
	return true
}

// superviseSource finishes a drained track and restarts a source that ran
// dry while the engine still wants it playing.
func (e *Engine) superviseSource() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active() || e.status != StatusPlaying {
		return
	}
	if e.src.State() == device.StatePlaying {
		return
	}

	// Buffers that played before the source stopped must not replay
	if err := e.reclaimLocked(); err != nil {
		e.failLocked(err)
		return
	}
	if len(e.timeline) == 0 {
		if e.eos {
			e.finishLocked()
		}
		return
	}

	e.log.Debug("restarting source after underrun",
		zap.String("path", e.path),
		zap.Int("queued", len(e.timeline)))
	if err := e.src.Play(); err != nil {
		e.failLocked(err)
	}
}

// startLocked primes the queue if it is empty and starts the source.
func (e *Engine) startLocked() error {
	if len(e.timeline) == 0 {
		n, err := e.primeLocked()
		if err != nil {
			e.failLocked(err)
			return fmt.Errorf("failed to prime buffers: %w", err)
		}
		if n == 0 && e.eos {
			return ErrNothingQueued
		}
	}

	// An empty queue here means reads are being retried; the streaming
	// goroutine starts the source once audio arrives.
	if err := e.src.Play(); err != nil {
		e.failLocked(err)
		return fmt.Errorf("failed to start source: %w", err)
	}
	e.status = StatusPlaying
	return nil
}

// primeLocked fills every free buffer it can and returns how many it queued.
func (e *Engine) primeLocked() (int, error) {
	queued := 0
	for len(e.free) > 0 && !e.eos {
		ok, err := e.fillBufferLocked()
		if err != nil {
			return queued, err
		}
		if !ok {
			break
		}
		queued++
	}
	return queued, nil
}

// fillBufferLocked decodes one chunk and queues it in a free buffer. It
// reports false when no audio was read. Caller holds both locks.
func (e *Engine) fillBufferLocked() (bool, error) {
	start, frames := e.decodeChunk()
	if frames == 0 {
		return false, nil
	}
	if err := e.queueChunkLocked(start, frames); err != nil {
		return false, err
	}
	return true, nil
}

// decodeChunk reads one chunk, shapes it, feeds the analyzer and leaves
// the 16-bit result in pcm. Caller holds decMu.
func (e *Engine) decodeChunk() (int64, int) {
	start, frames := e.readChunk()
	if frames == 0 {
		return 0, 0
	}

	channels := e.cfg.Channels
	samples := e.scratch[:frames*channels]

	e.tone.Process(samples, channels, e.cfg.SampleRate)
	e.analyzer.PushAudioData(samples, channels, e.cfg.SampleRate)
	quantize(e.pcm[:len(samples)], samples)
	return start, frames
}

// queueChunkLocked uploads the decoded chunk into a free buffer and queues
// it. Caller holds both locks.
func (e *Engine) queueChunkLocked(start int64, frames int) error {
	channels := e.cfg.Channels
	pcm := e.pcm[:frames*channels]

	format, err := device.FormatForChannels(channels)
	if err != nil {
		return err
	}
	id := e.free[len(e.free)-1]
	if err := e.dev.BufferData(id, format, e.cfg.SampleRate, pcm); err != nil {
		return fmt.Errorf("failed to upload buffer %d: %w", id, err)
	}
	if err := e.src.QueueBuffers(id); err != nil {
		return fmt.Errorf("failed to queue buffer %d: %w", id, err)
	}

	e.free = e.free[:len(e.free)-1]
	e.timeline = append(e.timeline, queuedBuffer{id: id, start: start, frames: int64(frames)})
	e.delivered.Add(int64(frames))
	return nil
}

// readChunk reads up to one buffer of frames into scratch and returns the
// track frame it started at. End of stream either rewinds (looping) or sets
// eos. Read errors are counted and give up after MaxReadRetries. Caller
// holds decMu.
func (e *Engine) readChunk() (int64, int) {
	for {
		start := e.readPos
		n, err := e.dec.ReadFrames(e.scratch)
		if n > 0 {
			e.retries = 0
			e.readPos += int64(n)
			return start, n
		}

		if err == nil || errors.Is(err, io.EOF) {
			// readPos > 0 guards against spinning on a track that yields nothing
			if e.looping.Load() && e.readPos > 0 {
				if err := e.dec.Seek(0); err != nil {
					e.log.Error("failed to rewind for loop", zap.String("path", e.path), zap.Error(err))
					e.eos = true
					return 0, 0
				}
				e.readPos = 0
				e.log.Debug("looping track", zap.String("path", e.path))
				continue
			}
			e.eos = true
			return 0, 0
		}

		e.retries++
		if e.retries >= config.MaxReadRetries {
			e.log.Error("giving up on track after repeated read failures",
				zap.String("path", e.path),
				zap.Int64("frame", e.readPos),
				zap.Int("attempts", e.retries),
				zap.Error(err))
			e.eos = true
		} else {
			e.log.Warn("decoder read failed, retrying next poll",
				zap.String("path", e.path),
				zap.Int64("frame", e.readPos),
				zap.Int("attempt", e.retries),
				zap.Error(err))
		}
		return 0, 0
	}
}

// reclaimLocked unqueues processed buffers back into the free pool.
func (e *Engine) reclaimLocked() error {
	n := min(e.src.BuffersProcessed(), len(e.timeline))
	if n == 0 {
		return nil
	}
	ids, err := e.src.UnqueueBuffers(n)
	if err != nil {
		return fmt.Errorf("failed to unqueue %d buffers: %w", n, err)
	}

	last := e.timeline[n-1]
	e.cursor = last.start + last.frames
	e.timeline = append(e.timeline[:0], e.timeline[n:]...)
	e.free = append(e.free, ids...)
	return nil
}

// flushLocked stops the source and takes back every queued buffer.
func (e *Engine) flushLocked() error {
	if len(e.timeline) == 0 {
		return nil
	}
	if err := e.src.Stop(); err != nil {
		return fmt.Errorf("failed to stop source: %w", err)
	}
	return e.reclaimLocked()
}

// rewindLocked moves to Stopped at the start of the track.
func (e *Engine) rewindLocked() error {
	err := e.flushLocked()
	e.status = StatusStopped
	e.readPos = 0
	e.cursor = 0
	e.eos = false
	e.retries = 0
	e.delivered.Store(0)

	if serr := e.dec.Seek(0); serr != nil {
		e.log.Warn("failed to rewind track", zap.String("path", e.path), zap.Error(serr))
		if err == nil {
			err = fmt.Errorf("failed to rewind: %w", serr)
		}
	}
	return err
}

// finishLocked ends a track that drained naturally.
func (e *Engine) finishLocked() {
	e.log.Info("track finished", zap.String("path", e.path))
	if err := e.rewindLocked(); err != nil {
		e.log.Warn("failed to reset finished track", zap.Error(err))
	}
	e.emitLocked(Event{Kind: EventTrackFinished, Path: e.path})
}

// failLocked stops the track after a device or decoder error. Caller holds
// both locks.
func (e *Engine) failLocked(err error) {
	e.log.Error("stopping track after error", zap.String("path", e.path), zap.Error(err))
	if ferr := e.flushLocked(); ferr != nil {
		e.log.Warn("failed to flush after error", zap.Error(ferr))
	}
	e.status = StatusStopped
	e.eos = false
	e.emitLocked(Event{Kind: EventTrackFailed, Path: e.path, Err: err})
}

func (e *Engine) emitLocked(ev Event) {
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event queue full, dropping event", zap.Int("kind", int(ev.Kind)), zap.String("path", ev.Path))
	}
}

// positionLocked returns the track frame under the playback cursor: the
// start of the buffer being played plus the source's offset into it.
func (e *Engine) positionLocked() int64 {
	if e.status == StatusStopped || len(e.timeline) == 0 {
		return e.cursor
	}

	last := e.timeline[len(e.timeline)-1]
	end := last.start + last.frames

	// Offset first: if the source drains in between, the state check below
	// sees it stopped and reports the end rather than going backwards.
	offset := e.src.SampleOffset()
	switch e.src.State() {
	case device.StateStopped, device.StateInitial:
		if e.src.BuffersProcessed() >= len(e.timeline) {
			return end
		}
		return e.timeline[0].start
	}

	for _, b := range e.timeline {
		if offset < b.frames {
			return b.start + offset
		}
		offset -= b.frames
	}
	return end
}

// quantize converts float samples to 16-bit, clamping to full scale first.
func quantize(dst []int16, src []float32) {
	for i, s := range src {
		v := float64(s)
		switch {
		case math.IsNaN(v):
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		dst[i] = int16(math.Round(v * math.MaxInt16))
	}
}
