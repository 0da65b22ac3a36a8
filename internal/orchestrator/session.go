package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sandboxlabs/execcore/internal/bus"
	"github.com/sandboxlabs/execcore/internal/executor"
	"github.com/sandboxlabs/execcore/internal/jobstore"
	"github.com/sandboxlabs/execcore/internal/log"
)

// inputQueueDepth bounds how many unconsumed "input" frames a session
// holds for the executor; a slower-draining executor sheds the newest
// frame rather than blocking the socket read loop.
const inputQueueDepth = 64

// session drives one WebSocket connection through the state machine:
// await the first frame, authenticate, validate, run, relay, close.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	logger log.Logger
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	return &session{srv: srv, conn: conn, logger: log.New("orchestrator")}
}

func (s *session) run(parent context.Context) {
	defer s.conn.Close()

	frame, ok := s.awaitFirstFrame()
	if !ok {
		return
	}

	jobID, ok := s.authenticate(parent, frame)
	if !ok {
		return
	}

	job, ok := s.fetchJob(parent, jobID)
	if !ok {
		return
	}
	logger := s.logger.WithJob(job.ID, job.Language)

	if err := s.srv.store.MarkProcessing(parent, job.ID); err != nil {
		logger.Errorf("mark processing: %v", err)
		s.closeWith(closeInternal, "internal error")
		return
	}

	result := s.srv.validator.Validate(job.Language, []byte(job.Source))
	if !result.Accepted {
		_ = s.srv.store.MarkFailed(parent, job.ID, result.Reason, nil)
		s.observe(job.Language, "rejected", 0)
		_ = s.sendJSON(newErrorFrame(result.Reason))
		s.closeWith(closeValidationRejected, result.Reason)
		return
	}

	s.runExecution(parent, job, logger)
}

// awaitFirstFrame waits up to firstMessageTimeout for the mandatory
// "execute" frame, per §5's first-message timeout.
func (s *session) awaitFirstFrame() (clientFrame, bool) {
	_ = s.conn.SetReadDeadline(time.Now().Add(firstMessageTimeout))

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.closeWith(closeProtocolOrAuth, "timed out waiting for execute frame")
		return clientFrame{}, false
	}

	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != frameTypeExecute {
		s.closeWith(closeProtocolOrAuth, "expected execute frame first")
		return clientFrame{}, false
	}
	if frame.JobID == "" || frame.JobToken == "" || frame.Language == "" {
		s.closeWith(closeProtocolOrAuth, "execute frame missing required fields")
		return clientFrame{}, false
	}

	_ = s.conn.SetReadDeadline(time.Time{})
	return frame, true
}

// authenticate consumes the single-shot job token and confirms it names
// the job the client claims.
func (s *session) authenticate(ctx context.Context, frame clientFrame) (string, bool) {
	jobID, err := s.srv.store.ConsumeToken(ctx, frame.JobToken)
	if err != nil {
		s.closeWith(closeProtocolOrAuth, "invalid or already-used token")
		return "", false
	}
	if jobID != frame.JobID {
		s.closeWith(closeProtocolOrAuth, "token does not belong to the given job")
		return "", false
	}
	return jobID, true
}

func (s *session) fetchJob(ctx context.Context, jobID string) (*jobstore.Job, bool) {
	job, err := s.srv.store.Get(ctx, jobID)
	if err != nil {
		s.closeWith(closeProtocolOrAuth, "job not found or expired")
		return nil, false
	}
	return job, true
}

// runExecution starts the executor on its own worker, subscribes to the
// job's bus topics before doing so, and relays output and the terminal
// event back to the client until one of them arrives or the socket dies.
func (s *session) runExecution(parent context.Context, job *jobstore.Job, logger log.Logger) {
	execCtx, cancel := context.WithCancel(parent)
	defer cancel()

	outputCh, err := s.srv.bus.Subscribe(execCtx, bus.OutputTopic(job.ID))
	if err != nil {
		logger.Errorf("subscribe output topic: %v", err)
		s.closeWith(closeInternal, "internal error")
		return
	}
	completeCh, err := s.srv.bus.Subscribe(execCtx, bus.CompleteTopic(job.ID))
	if err != nil {
		logger.Errorf("subscribe complete topic: %v", err)
		s.closeWith(closeInternal, "internal error")
		return
	}

	inputCh := make(chan []byte, inputQueueDepth)

	execDone := make(chan struct{})
	go s.execute(execCtx, job, inputCh, execDone, logger)

	readDone := make(chan struct{})
	go s.readInputFrames(inputCh, readDone, logger)

	closeCode, closeReason := s.relay(execCtx, cancel, outputCh, completeCh, readDone, job, logger)
	s.closeWith(closeCode, closeReason)

	<-execDone
}

// execute runs the job to completion on its own goroutine (the PTY loop is
// synchronous and must not share a cooperative scheduler with the socket
// side), publishing output as it arrives and a single terminal event at
// the end.
func (s *session) execute(ctx context.Context, job *jobstore.Job, inputCh <-chan []byte, done chan<- struct{}, logger log.Logger) {
	defer close(done)

	res, err := s.srv.exec.Execute(ctx, executor.Request{
		JobID:    job.ID,
		Language: job.Language,
		Filename: job.Filename,
		Source:   []byte(job.Source),
		OnOutput: func(b []byte) {
			data := append([]byte(nil), b...)
			_ = s.srv.bus.Publish(context.Background(), bus.OutputTopic(job.ID), bus.Message{
				Kind:   bus.KindOutput,
				JobID:  job.ID,
				Stream: bus.StreamStdout,
				Data:   data,
			})
		},
		Input: inputCh,
	})

	if err != nil {
		logger.Errorf("execute: %v", err)
		_ = s.srv.store.MarkFailed(context.Background(), job.ID, err.Error(), nil)
		s.observe(job.Language, "failed", 0)
		_ = s.srv.bus.Publish(context.Background(), bus.CompleteTopic(job.ID), bus.Message{
			Kind:         bus.KindError,
			JobID:        job.ID,
			ErrorMessage: "execution failed",
		})
		return
	}

	storeResult := jobstore.Result{
		Success:    res.Success,
		ExitCode:   res.ExitCode,
		ElapsedSec: res.ElapsedSec,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
	if err := s.srv.store.MarkCompleted(context.Background(), job.ID, storeResult); err != nil {
		logger.Errorf("mark completed: %v", err)
	}
	s.observe(job.Language, "completed", res.ElapsedSec)

	// A compile failure carries its sanitized build log in Stderr with no
	// other output. Surface it on the output stream, stderr, before the
	// terminal frame, so the client sees a diagnostic instead of a bare
	// failing exit code.
	if res.Stderr != "" {
		_ = s.srv.bus.Publish(context.Background(), bus.OutputTopic(job.ID), bus.Message{
			Kind:   bus.KindOutput,
			JobID:  job.ID,
			Stream: bus.StreamStderr,
			Data:   []byte(res.Stderr),
		})
	}

	_ = s.srv.bus.Publish(context.Background(), bus.CompleteTopic(job.ID), bus.Message{
		Kind:       bus.KindComplete,
		JobID:      job.ID,
		ExitCode:   res.ExitCode,
		ElapsedSec: res.ElapsedSec,
	})
}

// readInputFrames is the only goroutine that calls conn.ReadMessage after
// the first frame; its exit (on any read error) is the signal that the
// client socket is gone, which is the "socket closed" upstream-cancel
// trigger.
func (s *session) readInputFrames(inputCh chan<- []byte, done chan<- struct{}, logger log.Logger) {
	defer close(done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != frameTypeInput {
			continue
		}

		select {
		case inputCh <- []byte(frame.Data):
		default:
			logger.Warnf("input queue full, dropping input frame")
		}
	}
}

// relay forwards output and the terminal event to the client until one
// arrives, the client disconnects, or the parent context ends. It returns
// the close code and reason the caller should close the socket with.
func (s *session) relay(
	ctx context.Context,
	cancel context.CancelFunc,
	outputCh <-chan bus.Message,
	completeCh <-chan bus.Message,
	readDone <-chan struct{},
	job *jobstore.Job,
	logger log.Logger,
) (int, string) {
	for {
		select {
		case msg, ok := <-outputCh:
			if !ok {
				outputCh = nil
				continue
			}
			if err := s.sendJSON(newOutputFrame(string(msg.Stream), msg.Data)); err != nil {
				logger.Warnf("send output frame: %v", err)
				cancel()
			}

		case msg, ok := <-completeCh:
			if !ok {
				completeCh = nil
				continue
			}
			return s.terminalClose(msg)

		case <-readDone:
			// Upstream cancel: the client socket is gone. Signal the
			// executor and give it cancelGraceTimeout to publish its
			// terminal event before giving up on a clean reason.
			cancel()
			select {
			case msg, ok := <-completeCh:
				if ok {
					code, reason := s.terminalClose(msg)
					return code, reason
				}
			case <-time.After(cancelGraceTimeout):
			}
			return closeNormal, "client disconnected"

		case <-ctx.Done():
			return closeInternal, "server shutting down"
		}
	}
}

func (s *session) terminalClose(msg bus.Message) (int, string) {
	if msg.Kind == bus.KindError {
		_ = s.sendJSON(newErrorFrame(msg.ErrorMessage))
		return closeInternal, msg.ErrorMessage
	}
	_ = s.sendJSON(newCompleteFrame(msg.ExitCode, msg.ElapsedSec))
	return closeNormal, ""
}

func (s *session) observe(language, status string, elapsedSec float64) {
	if s.srv.metrics != nil {
		s.srv.metrics.ObserveJob(language, status, elapsedSec)
	}
}

func (s *session) sendJSON(v interface{}) error {
	return s.conn.WriteJSON(v)
}

func (s *session) closeWith(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
