package ninjago

import (
	"bytes"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/tevino/abool/v2"
)

// Subprocess is the interface to a single subprocess, holding its
// buffered output; stdout and stderr are interleaved into one stream and
// delivered only after termination, so progress lines stay coherent.
type Subprocess struct {
	cmd        *exec.Cmd
	buf        bytes.Buffer
	useConsole bool
	status     ExitStatus
}

func newSubprocess(command string, useConsole bool) *Subprocess {
	s := &Subprocess{
		cmd:        exec.Command("/bin/sh", "-c", command),
		useConsole: useConsole,
	}
	if useConsole {
		// Console edges inherit the terminal.
		s.cmd.Stdin = os.Stdin
		s.cmd.Stdout = os.Stdout
		s.cmd.Stderr = os.Stderr
	} else {
		s.cmd.Stdout = &s.buf
		s.cmd.Stderr = &s.buf
	}
	return s
}

// Finish returns the exit status after the subprocess has completed.
func (s *Subprocess) Finish() ExitStatus { return s.status }

func (s *Subprocess) GetOutput() string { return s.buf.String() }

func (s *Subprocess) UseConsole() bool { return s.useConsole }

// SubprocessSet runs a poll loop around a set of Subprocess objects,
// surfacing one completion at a time and noticing delivered signals.
type SubprocessSet struct {
	running  []*Subprocess
	finished []*Subprocess

	doneCh      chan *Subprocess
	sigCh       chan os.Signal
	interrupted *abool.AtomicBool
}

func NewSubprocessSet() *SubprocessSet {
	s := &SubprocessSet{
		doneCh:      make(chan *Subprocess, 64),
		sigCh:       make(chan os.Signal, 1),
		interrupted: abool.New(),
	}
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	return s
}

// Add starts a new subprocess for command.
func (s *SubprocessSet) Add(command string, useConsole bool) *Subprocess {
	sub := newSubprocess(command, useConsole)
	if err := sub.cmd.Start(); err != nil {
		return nil
	}
	go func() {
		err := sub.cmd.Wait()
		switch e := err.(type) {
		case nil:
			sub.status = ExitSuccess
		case *exec.ExitError:
			if status, ok := e.Sys().(syscall.WaitStatus); ok &&
				status.Signaled() && status.Signal() == syscall.SIGINT {
				sub.status = ExitInterrupted
			} else {
				sub.status = ExitFailure
			}
		default:
			sub.status = ExitFailure
		}
		s.doneCh <- sub
	}()
	s.running = append(s.running, sub)
	return sub
}

// DoWork blocks until a subprocess completes or a signal arrives; the
// bool result reports an interruption.
func (s *SubprocessSet) DoWork() bool {
	select {
	case sub := <-s.doneCh:
		s.removeRunning(sub)
		s.finished = append(s.finished, sub)
		return false
	case <-s.sigCh:
		s.interrupted.Set()
		return true
	}
}

// NextFinished returns the next finished subprocess, if any.
func (s *SubprocessSet) NextFinished() *Subprocess {
	if len(s.finished) == 0 {
		return nil
	}
	sub := s.finished[0]
	s.finished = s.finished[1:]
	return sub
}

func (s *SubprocessSet) IsInterrupted() bool { return s.interrupted.IsSet() }

func (s *SubprocessSet) Running() int  { return len(s.running) }
func (s *SubprocessSet) Finished() int { return len(s.finished) }

// Clear terminates all children.
func (s *SubprocessSet) Clear() {
	for _, sub := range s.running {
		// Console subprocesses share the terminal's process group and
		// already saw the interrupt.
		if !sub.useConsole && sub.cmd.Process != nil {
			sub.cmd.Process.Kill()
		}
	}
	// Reap them all.
	for len(s.running) > 0 {
		sub := <-s.doneCh
		s.removeRunning(sub)
	}
}

func (s *SubprocessSet) removeRunning(sub *Subprocess) {
	for i, r := range s.running {
		if r == sub {
			s.running = append(s.running[:i], s.running[i+1:]...)
			return
		}
	}
}
