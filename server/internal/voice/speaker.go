package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/intellimonitor/intellimonitor/server/internal/config"
)

// State is the speaker's playback state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StatePlaying    State = "playing"
)

// Topics group utterances so a surface can silence only its own speech.
const (
	TopicFailure  = "failure"
	TopicRecovery = "recovery"
	TopicResource = "resource"
)

// Status is a snapshot of the speaker.
type Status struct {
	State     State  `json:"state"`
	Topic     string `json:"topic,omitempty"`
	Text      string `json:"text,omitempty"`
	Spoken    uint64 `json:"spoken"`
	Fallbacks uint64 `json:"fallbacks"`
}

type utterance struct {
	topic  string
	text   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Speaker plays one utterance at a time. Idle -> Requesting -> Playing -> Idle;
// a new Say cancels whatever is in flight and starts only once it has wound
// down. A speech failure falls back to the chime.
type Speaker struct {
	tts    TTS
	player Player
	chime  []byte

	mu        sync.Mutex
	state     State
	cur       *utterance
	spoken    uint64
	fallbacks uint64
}

// NewSpeaker returns a Speaker. A nil tts always plays the chime.
func NewSpeaker(tts TTS, player Player) *Speaker {
	return &Speaker{tts: tts, player: player, chime: Chime(), state: StateIdle}
}

// Say starts speaking text under topic and returns immediately.
func (s *Speaker) Say(ctx context.Context, topic, text string) {
	uctx, cancel := context.WithCancel(ctx)
	u := &utterance{topic: topic, text: text, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.cur
	if prev != nil {
		prev.cancel()
	}
	s.cur = u
	s.mu.Unlock()

	go s.run(uctx, u, prev)
}

func (s *Speaker) run(ctx context.Context, u *utterance, prev *utterance) {
	defer close(u.done)
	defer u.cancel()
	if prev != nil {
		<-prev.done
	}
	if ctx.Err() != nil {
		s.finish(u)
		return
	}

	s.transition(u, StateRequesting)
	audio, err := s.request(ctx, u.text)
	if ctx.Err() != nil {
		s.finish(u)
		return
	}
	if err != nil {
		slog.Warn("voice: speech unavailable, playing chime", "topic", u.topic, "err", err)
		audio = s.chime
		s.count(false)
	} else {
		s.count(true)
	}

	s.transition(u, StatePlaying)
	if err := s.player.Play(ctx, audio); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("voice: playback failed", "topic", u.topic, "err", err)
	}
	s.finish(u)
}

// UpdateConfig hands a reloaded voice configuration to the speech backend
// when it accepts one.
func (s *Speaker) UpdateConfig(cfg config.VoiceConfig) {
	if u, ok := s.tts.(interface{ Update(config.VoiceConfig) }); ok {
		u.Update(cfg)
	}
}

func (s *Speaker) request(ctx context.Context, text string) ([]byte, error) {
	if s.tts == nil {
		return nil, &SpeechError{Op: "request", Err: errors.New("no tts configured")}
	}
	return s.tts.Speak(ctx, text)
}

func (s *Speaker) transition(u *utterance, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == u {
		s.state = st
	}
}

func (s *Speaker) finish(u *utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == u {
		s.cur = nil
		s.state = StateIdle
	}
}

func (s *Speaker) count(spoken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spoken {
		s.spoken++
	} else {
		s.fallbacks++
	}
}

// Stop cancels the in-flight utterance if its topic matches. An empty topic
// matches anything.
func (s *Speaker) Stop(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || (topic != "" && s.cur.topic != topic) {
		return false
	}
	s.cur.cancel()
	return true
}

// Wait blocks until the in-flight utterance, if any, has finished.
func (s *Speaker) Wait() {
	s.mu.Lock()
	u := s.cur
	s.mu.Unlock()
	if u != nil {
		<-u.done
	}
}

// Status returns the current playback state.
func (s *Speaker) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Spoken: s.spoken, Fallbacks: s.fallbacks}
	if s.cur != nil {
		st.Topic, st.Text = s.cur.topic, s.cur.text
	}
	return st
}
