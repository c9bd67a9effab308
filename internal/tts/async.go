package tts

import (
	"context"
	"sync"
	"time"

	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/logging"
	"github.com/leochame/lavis/internal/push"
	"go.uber.org/zap"
)

const (
	defaultWorkers     = 3
	defaultQueueDepth  = 64
	defaultSegmentSize = 64 * 1024 // bytes per tts_audio segment
)

type job struct {
	sessionID string
	text      string
	requestID string
	version   int64
}

// AsyncTts is spec's AsyncTts: a bounded worker pool producing audio via
// ModelGateway.tts and pushing tts_audio events to the target connection.
type AsyncTts struct {
	gw      *gateway.ModelGateway
	pushBus *push.PushBus
	alias   string
	voice   string
	format  string

	segmentSize int
	queue       chan job

	mu            sync.Mutex
	latestVersion map[string]int64 // requestID -> version of the most recent Submit
	versionSeq    int64

	wg   sync.WaitGroup
	log  *zap.Logger
}

// New builds an AsyncTts with a bounded worker pool. Stop must be called to
// drain workers on shutdown.
func New(gw *gateway.ModelGateway, pushBus *push.PushBus, alias, voice, format string) *AsyncTts {
	a := &AsyncTts{
		gw:            gw,
		pushBus:       pushBus,
		alias:         alias,
		voice:         voice,
		format:        format,
		segmentSize:   defaultSegmentSize,
		queue:         make(chan job, defaultQueueDepth),
		latestVersion: make(map[string]int64),
		log:           logging.Named("tts-async"),
	}
	for i := 0; i < defaultWorkers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

// Submit implements chat.AsyncTts. A Submit for a requestID already queued
// supersedes it: the stale queued entry is skipped by the worker instead of
// being synthesized (spec §4.12: "backpressure by dropping oldest pending
// for the same requestId").
func (a *AsyncTts) Submit(sessionID, text, requestID string) {
	a.mu.Lock()
	a.versionSeq++
	v := a.versionSeq
	a.latestVersion[requestID] = v
	a.mu.Unlock()

	j := job{sessionID: sessionID, text: text, requestID: requestID, version: v}
	select {
	case a.queue <- j:
	default:
		a.log.Warn("tts queue full, dropping submission", zap.String("requestId", requestID))
	}
}

func (a *AsyncTts) worker() {
	defer a.wg.Done()
	for j := range a.queue {
		a.mu.Lock()
		latest := a.latestVersion[j.requestID]
		a.mu.Unlock()
		if j.version != latest {
			continue
		}
		a.process(j)
	}
}

// process synthesizes audio and pushes it in fixed-size segments with
// monotonically increasing seq, last=true on the final one. On failure it
// publishes a single execution_error event and no tts_audio (spec §4.12).
func (a *AsyncTts) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	audio, err := a.gw.TTS(ctx, j.text, a.voice, a.format)
	if err != nil {
		a.pushBus.SendByID(j.sessionID, push.NewEvent(push.TypeExecutionError, map[string]any{
			"requestId": j.requestID,
			"error":     err.Error(),
		}, time.Now()))
		return
	}

	segments := splitSegments(audio, a.segmentSize)
	for seq, seg := range segments {
		a.pushBus.SendByID(j.sessionID, push.NewEvent(push.TypeTTSAudio, map[string]any{
			"requestId": j.requestID,
			"seq":       seq,
			"last":      seq == len(segments)-1,
			"format":    a.format,
			"audio":     seg,
		}, time.Now()))
	}
}

func splitSegments(audio []byte, size int) [][]byte {
	if size <= 0 || len(audio) <= size {
		return [][]byte{audio}
	}
	var out [][]byte
	for i := 0; i < len(audio); i += size {
		end := i + size
		if end > len(audio) {
			end = len(audio)
		}
		out = append(out, audio[i:end])
	}
	return out
}

// Stop closes the queue and waits for in-flight jobs to drain.
func (a *AsyncTts) Stop() {
	close(a.queue)
	a.wg.Wait()
}
