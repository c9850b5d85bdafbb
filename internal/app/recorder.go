package app

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/ymansouri/maitred/internal/audio"
	"github.com/ymansouri/maitred/internal/transport"
)

// callRecorder buffers caller audio and writes it out as one WAV per session
// when recording is enabled. Saving is best effort.
type callRecorder struct {
	mu        sync.Mutex
	path      string
	pcm       []byte
	truncated bool
}

// Roughly 30 minutes of 16kHz mono PCM.
const recorderMaxBytes = 16000 * 2 * 60 * 30

func newCallRecorder(dir, sessionID string) *callRecorder {
	if dir == "" {
		return &callRecorder{}
	}
	return &callRecorder{path: filepath.Join(dir, sessionID+".wav")}
}

func (r *callRecorder) append(pcm []byte) {
	if r.path == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pcm)+len(pcm) > recorderMaxBytes {
		r.truncated = true
		return
	}
	r.pcm = append(r.pcm, pcm...)
}

func (r *callRecorder) flush() {
	if r.path == "" {
		return
	}
	r.mu.Lock()
	pcm := r.pcm
	r.pcm = nil
	truncated := r.truncated
	r.mu.Unlock()

	if len(pcm) == 0 {
		return
	}
	if err := audio.WriteWAVFile(r.path, pcm, transport.SampleRate); err != nil {
		log.Printf("recording %s: %v", r.path, err)
		return
	}
	if truncated {
		log.Printf("recording %s: capped at %d bytes", r.path, recorderMaxBytes)
	}
}
