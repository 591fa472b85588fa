package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kodeuji/kodeuji-api/internal/dto"
	"github.com/kodeuji/kodeuji-api/pkg/interp"
)

// ErrNoPendingInput indicates input was submitted while the program was not
// waiting for any.
var ErrNoPendingInput = errors.New("no pending input request")

// TerminalService drives interactive runs of student code. Each attempt owns
// at most one session; a session holds the run transcript and the single
// pending input slot.
type TerminalService interface {
	// Run starts an interactive execution of code. When a run is already in
	// flight for the attempt the call is a no-op.
	Run(studentID, questionID uint, code string)
	// SubmitInput delivers one line to the suspended program.
	SubmitInput(studentID, questionID uint, value string) error
	// Subscribe returns a channel replaying the transcript so far and then
	// streaming new lines. The returned func cancels the subscription.
	Subscribe(studentID, questionID uint) (<-chan dto.TerminalLine, func())
	// ForceRelease resolves any pending input with an empty line and stops
	// accepting further runs for the attempt.
	ForceRelease(studentID, questionID uint)
	// Reset drops the attempt's session and transcript.
	Reset(studentID, questionID uint)
}

type terminalService struct {
	engine interp.Engine
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*terminalSession
}

type terminalSession struct {
	mu          sync.Mutex
	running     bool
	closed      bool
	inputCh     chan string
	waiting     bool
	transcript  []dto.TerminalLine
	subscribers map[int]chan dto.TerminalLine
	nextSubID   int
	cancelRun   context.CancelFunc
}

// NewTerminalService constructs the interactive runner.
func NewTerminalService(engine interp.Engine, logger zerolog.Logger) TerminalService {
	return &terminalService{
		engine:   engine,
		logger:   logger.With().Str("component", "terminal_service").Logger(),
		sessions: make(map[string]*terminalSession),
	}
}

func terminalKey(studentID, questionID uint) string {
	return fmt.Sprintf("%d:%d", studentID, questionID)
}

func (s *terminalService) session(studentID, questionID uint) *terminalSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := terminalKey(studentID, questionID)
	sess, ok := s.sessions[key]
	if !ok {
		sess = &terminalSession{
			inputCh:     make(chan string, 1),
			subscribers: make(map[int]chan dto.TerminalLine),
		}
		s.sessions[key] = sess
	}
	return sess
}

func (s *terminalService) Run(studentID, questionID uint, code string) {
	sess := s.session(studentID, questionID)

	sess.mu.Lock()
	if sess.running || sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.running = true
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancelRun = cancel
	sess.mu.Unlock()

	sess.append(dto.TerminalLine{Kind: "command", Text: "run"})

	go s.execute(ctx, sess, studentID, questionID, code)
}

func (s *terminalService) execute(ctx context.Context, sess *terminalSession, studentID, questionID uint, code string) {
	defer func() {
		sess.mu.Lock()
		sess.running = false
		sess.waiting = false
		if sess.cancelRun != nil {
			sess.cancelRun()
			sess.cancelRun = nil
		}
		sess.mu.Unlock()
	}()

	ictx := s.engine.NewContext()
	defer ictx.Close()

	hooks := interp.Hooks{
		OnOutput: func(text string) {
			sess.append(dto.TerminalLine{Kind: "output", Text: text})
		},
		OnInput: func(prompt string) (string, error) {
			if prompt != "" {
				sess.append(dto.TerminalLine{Kind: "prompt", Text: prompt})
			}

			sess.mu.Lock()
			sess.waiting = true
			sess.mu.Unlock()

			select {
			case value := <-sess.inputCh:
				sess.mu.Lock()
				sess.waiting = false
				sess.mu.Unlock()
				sess.append(dto.TerminalLine{Kind: "input", Text: value})
				return value, nil
			case <-ctx.Done():
				sess.mu.Lock()
				sess.waiting = false
				sess.mu.Unlock()
				return "", ctx.Err()
			}
		},
	}

	err := ictx.Run(ctx, code, hooks)
	switch {
	case err == nil, interp.IsStop(err):
		sess.append(dto.TerminalLine{Kind: "success", Text: "program finished"})
	case errors.Is(err, context.Canceled):
		sess.append(dto.TerminalLine{Kind: "error", Text: "program stopped"})
	default:
		s.logger.Debug().
			Uint("student_id", studentID).
			Uint("question_id", questionID).
			Err(err).
			Msg("interactive run failed")
		sess.append(dto.TerminalLine{Kind: "error", Text: err.Error()})
	}
}

func (s *terminalService) SubmitInput(studentID, questionID uint, value string) error {
	sess := s.session(studentID, questionID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.waiting {
		return ErrNoPendingInput
	}

	select {
	case sess.inputCh <- value:
		return nil
	default:
		return ErrNoPendingInput
	}
}

func (s *terminalService) Subscribe(studentID, questionID uint) (<-chan dto.TerminalLine, func()) {
	sess := s.session(studentID, questionID)

	sess.mu.Lock()
	id := sess.nextSubID
	sess.nextSubID++
	ch := make(chan dto.TerminalLine, 256)
	for _, line := range sess.transcript {
		select {
		case ch <- line:
		default:
		}
	}
	sess.subscribers[id] = ch
	sess.mu.Unlock()

	cancel := func() {
		sess.mu.Lock()
		if existing, ok := sess.subscribers[id]; ok {
			delete(sess.subscribers, id)
			close(existing)
		}
		sess.mu.Unlock()
	}

	return ch, cancel
}

func (s *terminalService) ForceRelease(studentID, questionID uint) {
	sess := s.session(studentID, questionID)

	sess.mu.Lock()
	sess.closed = true
	running := sess.running
	sess.mu.Unlock()

	if running {
		// Unblocks a program suspended on input the same way an expired
		// timer resolves the pending read with an empty line. The buffered
		// slot also covers a program that has not reached its read yet.
		select {
		case sess.inputCh <- "":
		default:
		}
	}
}

func (s *terminalService) Reset(studentID, questionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := terminalKey(studentID, questionID)
	sess, ok := s.sessions[key]
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.cancelRun != nil {
		sess.cancelRun()
	}
	for id, ch := range sess.subscribers {
		delete(sess.subscribers, id)
		close(ch)
	}
	sess.mu.Unlock()

	delete(s.sessions, key)
}

func (sess *terminalSession) append(line dto.TerminalLine) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.transcript = append(sess.transcript, line)
	for _, ch := range sess.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}
