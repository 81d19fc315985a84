package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/videochat/internal/audio"
	"github.com/ent0n29/videochat/internal/callerr"
	"github.com/ent0n29/videochat/internal/observability"
	"github.com/ent0n29/videochat/internal/openclaw"
	"github.com/ent0n29/videochat/internal/policy"
	"github.com/ent0n29/videochat/internal/voice"
	"github.com/google/uuid"
)

// Pipeline is the set of collaborators every turn runs through. STT and TTS
// are expected to carry their own retry and timeout policy.
type Pipeline struct {
	STT  voice.STTProvider
	Chat openclaw.Adapter
	// TTS may be nil, in which case replies are text only.
	TTS         voice.TTSProvider
	ChatTimeout time.Duration
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Limits bound the per-session buffers.
type Limits struct {
	HistoryTurns  int
	MaxAudioBytes int
	MaxFrameBytes int
}

// Session is one live call. turnMu is held for the duration of a turn; mu
// guards every other mutable field and is never held across a network call.
type Session struct {
	key       string
	opts      Options
	startedAt time.Time
	pipeline  *Pipeline
	logger    *slog.Logger
	now       func() time.Time
	onAbandon func()

	turnMu sync.Mutex

	mu           sync.Mutex
	state        State
	media        *MediaBuffer
	history      *History
	lastActivity time.Time
	activeTurn   string
}

func New(key string, opts Options, limits Limits, p *Pipeline) *Session {
	if p == nil {
		p = &Pipeline{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	return &Session{
		key:          key,
		opts:         opts,
		startedAt:    now,
		pipeline:     p,
		logger:       logger.With("session_id", key),
		now:          func() time.Time { return time.Now().UTC() },
		state:        StateIdle,
		media:        NewMediaBuffer(limits.MaxAudioBytes, limits.MaxFrameBytes),
		history:      NewHistory(limits.HistoryTurns),
		lastActivity: now,
	}
}

func (s *Session) Key() string { return s.key }

func (s *Session) Options() Options { return s.opts }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:      s.key,
		State:          s.state,
		AgentName:      s.opts.AgentName,
		UserName:       s.opts.UserName,
		HistoryTurns:   s.history.Len(),
		ActiveTurnID:   s.activeTurn,
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivity,
	}
}

// History returns a copy of the committed turns.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Turns()
}

// AppendAudio buffers a chunk of the next utterance.
func (s *Session) AppendAudio(chunk []byte, format string, sampleRate int) error {
	const op = "session.append_audio"
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateTerminated:
		return callerr.New(callerr.SessionClosed, op, "session terminated")
	case s.state.InFlight():
		return callerr.New(callerr.TurnInProgress, op, "a turn is being processed")
	}
	if len(chunk) == 0 {
		return nil
	}
	if err := s.media.AppendAudio(chunk, format, sampleRate); err != nil {
		return err
	}
	s.state = StateListening
	s.lastActivity = s.now()
	return nil
}

// SubmitFrame replaces the pending camera frame. Frames are accepted while a
// turn is in flight and ride along with the next one.
func (s *Session) SubmitFrame(f Frame) error {
	const op = "session.submit_frame"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return callerr.New(callerr.SessionClosed, op, "session terminated")
	}
	if err := s.media.SetFrame(f); err != nil {
		return err
	}
	s.lastActivity = s.now()
	return nil
}

// Terminate moves the session to Terminated and drops buffered media. An
// in-flight turn keeps running but its result is discarded. It reports
// whether this call did the transition.
func (s *Session) Terminate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.state = StateTerminated
	s.activeTurn = ""
	s.media.Reset()
	return true
}

type turnOutcome struct {
	result TurnResult
	err    error
}

// RunTurn appends in to the buffered media, then runs STT, chat and TTS on
// it. A concurrent call fails fast with TurnInProgress. Pipeline failures are
// reported in the result; the returned error is reserved for rejections and
// for turns abandoned by termination. If ctx ends first, the session is
// terminated and the in-flight calls finish in the background.
func (s *Session) RunTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	t, err := s.begin(in)
	if err != nil {
		return TurnResult{}, err
	}

	done := make(chan turnOutcome, 1)
	go func() {
		defer s.turnMu.Unlock()
		res, err := t.run(context.WithoutCancel(ctx))
		done <- turnOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		select {
		case out := <-done:
			return out.result, out.err
		default:
		}
		s.logger.Info("caller went away mid-turn, terminating session", "turn_id", t.id)
		s.abandon()
		return TurnResult{}, callerr.Wrap(callerr.SessionClosed, "session.run_turn", ctx.Err())
	}
}

func (s *Session) abandon() {
	if s.onAbandon != nil {
		s.onAbandon()
		return
	}
	s.Terminate()
}

func (s *Session) begin(in TurnInput) (*turn, error) {
	const op = "session.run_turn"
	if !s.turnMu.TryLock() {
		if s.State() == StateTerminated {
			return nil, callerr.New(callerr.SessionClosed, op, "session terminated")
		}
		return nil, callerr.New(callerr.TurnInProgress, op, "a turn is already in flight")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reject := func(err error) (*turn, error) {
		s.turnMu.Unlock()
		return nil, err
	}
	if s.state == StateTerminated {
		return reject(callerr.New(callerr.SessionClosed, op, "session terminated"))
	}
	if err := s.bufferInput(in); err != nil {
		// A rejected turn drops its clip, including chunks streamed before it.
		s.media.Reset()
		if s.state == StateListening {
			s.state = StateIdle
		}
		return reject(err)
	}

	t := &turn{
		s:       s,
		id:      uuid.NewString(),
		in:      in,
		opts:    s.opts,
		clip:    s.media.TakeClip(),
		frame:   s.media.TakeFrame(),
		started: time.Now(),
	}
	if in.Language != "" {
		t.opts.Language = in.Language
	}
	if in.VoiceID != "" {
		t.opts.VoiceID = in.VoiceID
	}
	if in.Speed != "" {
		t.opts.Speed = in.Speed
	}
	t.log = s.logger.With("turn_id", t.id)

	s.state = StateTranscribing
	s.activeTurn = t.id
	s.lastActivity = s.now()
	return t, nil
}

func (s *Session) bufferInput(in TurnInput) error {
	if in.Frame != nil {
		if err := s.media.SetFrame(*in.Frame); err != nil {
			return err
		}
	}
	if len(in.Audio) > 0 {
		return s.media.AppendAudio(in.Audio, in.AudioFormat, in.SampleRate)
	}
	return nil
}

// transition moves along a legal edge. It refuses terminated sessions and
// illegal edges, leaving the state untouched.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	if !CanTransition(s.state, to) {
		s.logger.Error("illegal state transition", "from", s.state, "to", to)
		return false
	}
	s.state = to
	if to == StateIdle {
		s.activeTurn = ""
		s.lastActivity = s.now()
	}
	return true
}

// commit appends a completed exchange unless the session was terminated.
func (s *Session) commit(turns ...Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return false
	}
	s.history.Append(turns...)
	s.lastActivity = s.now()
	return true
}

// idleFor reports how long the session has been quiet and whether a turn is
// currently running.
func (s *Session) idleFor(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity), s.state.InFlight()
}

// turn is the scratch state of one STT -> chat -> TTS run.
type turn struct {
	s       *Session
	id      string
	in      TurnInput
	opts    Options
	clip    AudioClip
	frame   *Frame
	started time.Time
	log     *slog.Logger
}

func (t *turn) emit(ev TurnEvent) {
	if t.in.OnEvent == nil {
		return
	}
	ev.TurnID = t.id
	t.in.OnEvent(ev)
}

func (t *turn) enter(state State) bool {
	if !t.s.transition(state) {
		return false
	}
	t.emit(TurnEvent{Type: EventState, State: state})
	return true
}

func (t *turn) closed() (TurnResult, error) {
	t.log.Info("discarding turn result, session terminated")
	t.s.pipeline.Metrics.ObserveTurn("abandoned", "")
	return TurnResult{}, callerr.New(callerr.SessionClosed, "session.run_turn", "session terminated mid-turn")
}

func (t *turn) run(ctx context.Context) (TurnResult, error) {
	defer func() {
		if t.frame != nil {
			clear(t.frame.Data)
		}
	}()
	res := TurnResult{TurnID: t.id, Status: TurnOK}
	t.emit(TurnEvent{Type: EventState, State: StateTranscribing})

	transcript, err := t.transcribe(ctx)
	if err != nil {
		return t.fail(res, "stt", err)
	}
	res.Transcript = transcript
	if transcript == "" {
		res.Silent = true
		if !t.enter(StateIdle) {
			return t.closed()
		}
		t.log.Info("no speech detected, skipping chat")
		t.s.pipeline.Metrics.ObserveTurn("silent", "")
		return res, nil
	}
	t.emit(TurnEvent{Type: EventTranscript, Transcript: transcript})

	if !t.enter(StateThinking) {
		return t.closed()
	}
	reply, err := t.complete(ctx, transcript)
	if err != nil {
		return t.fail(res, "chat", err)
	}

	now := time.Now().UTC()
	user := Turn{Role: RoleUser, Text: transcript, CreatedAt: now}
	if t.frame != nil {
		user.Frames = []FrameRef{{MediaType: t.frame.MediaType, Size: len(t.frame.Data), CapturedAt: t.frame.CapturedAt}}
	}
	if !t.s.commit(user, Turn{Role: RoleAssistant, Text: reply, CreatedAt: now}) {
		return t.closed()
	}
	res.ReplyText = reply

	if !t.enter(StateSpeaking) {
		return t.closed()
	}
	t.speak(ctx, &res)

	if !t.enter(StateIdle) {
		return t.closed()
	}
	m := t.s.pipeline.Metrics
	m.ObserveStage("turn_total", time.Since(t.started))
	m.ObserveTurn(string(TurnOK), string(res.SpeechErrorKind))
	t.log.Info("turn completed",
		"transcript", policy.ForLog(transcript, 80),
		"reply_chars", len(reply),
		"audio_bytes", len(res.Audio),
		"duration_ms", time.Since(t.started).Milliseconds())
	return res, nil
}

func (t *turn) transcribe(ctx context.Context) (string, error) {
	if len(t.clip.Data) == 0 {
		return "", nil
	}
	clip := voice.AudioClip{Data: t.clip.Data, Format: t.clip.Format, SampleRate: t.clip.SampleRate}
	if clip.Format == FormatPCM16 {
		wav, err := audio.EncodeWAVPCM16LE(clip.Data, clip.SampleRate)
		clear(t.clip.Data)
		if err != nil {
			return "", callerr.Wrap(callerr.MalformedInput, "stt", err)
		}
		clip = voice.AudioClip{Data: wav, Format: "wav", SampleRate: t.clip.SampleRate}
	}
	started := time.Now()
	tr, err := t.s.pipeline.STT.Transcribe(ctx, clip, voice.TranscribeOptions{Language: t.opts.Language})
	clear(t.clip.Data)
	clear(clip.Data)
	t.s.pipeline.Metrics.ObserveStage("stt", time.Since(started))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tr.Text), nil
}

func (t *turn) complete(ctx context.Context, transcript string) (string, error) {
	history := t.s.History()
	msgs := make([]openclaw.Message, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, openclaw.Message{Role: openclaw.Role(h.Role), Text: h.Text})
	}
	var img *openclaw.Image
	if t.frame != nil {
		img = &openclaw.Image{MediaType: t.frame.MediaType, Data: t.frame.Data}
	}
	persona := openclaw.Persona{AgentName: t.opts.AgentName, UserName: t.opts.UserName, Language: t.opts.Language}
	msgs = append(msgs, openclaw.Message{
		Role:  openclaw.RoleUser,
		Text:  openclaw.FrameUtterance(transcript, persona, img != nil),
		Image: img,
	})

	if d := t.s.pipeline.ChatTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	started := time.Now()
	c, err := t.s.pipeline.Chat.Complete(ctx, openclaw.CompletionRequest{
		SessionID:  t.s.key,
		TurnID:     t.id,
		Messages:   msgs,
		Transcript: transcript,
	}, func(delta string) error {
		t.emit(TurnEvent{Type: EventTextDelta, Delta: delta})
		return nil
	})
	t.s.pipeline.Metrics.ObserveStage("chat", time.Since(started))
	if err != nil {
		t.s.pipeline.Metrics.ObserveProviderError(t.s.pipeline.Chat.Name(), string(callerr.KindOf(err)))
		return "", err
	}
	reply := strings.TrimSpace(c.Text)
	if reply == "" {
		return "", callerr.New(callerr.GatewayError, "chat", "empty reply")
	}
	return reply, nil
}

// speak synthesizes the reply. Failure degrades the turn to text only.
func (t *turn) speak(ctx context.Context, res *TurnResult) {
	tts := t.s.pipeline.TTS
	if tts == nil {
		return
	}
	started := time.Now()
	syn, err := voice.SynthesizeReply(ctx, tts, res.ReplyText, voice.VoiceConfig{
		VoiceID:  t.opts.VoiceID,
		Language: t.opts.Language,
		Speed:    voice.SpeakingRate(t.opts.Speed),
	})
	t.s.pipeline.Metrics.ObserveStage("tts", time.Since(started))
	if err != nil {
		res.SpeechErrorKind = callerr.KindOf(err)
		t.log.Warn("speech synthesis failed, replying with text only", "kind", res.SpeechErrorKind, "err", err)
		return
	}
	res.Audio = syn.Audio
	res.AudioFormat = syn.Format
	res.AudioContentType = syn.ContentType
}

// fail routes the session through Error back to Idle and reports the
// classified failure in the result.
func (t *turn) fail(res TurnResult, stage string, err error) (TurnResult, error) {
	kind := callerr.KindOf(err)
	if !t.enter(StateError) || !t.enter(StateIdle) {
		return t.closed()
	}
	res.Status = TurnError
	res.ErrorKind = kind
	res.ErrorMessage = callerr.UserMessage(kind)
	res.ErrorDetail = policy.ForLog(err.Error(), 300)
	t.s.pipeline.Metrics.ObserveTurn(string(TurnError), string(kind))
	t.log.Warn("turn failed", "stage", stage, "kind", kind, "err", res.ErrorDetail)
	return res, nil
}
