package main

import (
	"context"
	"log"
	"strings"
	"time"
)

// LoginState is the progress of one login attempt.
type LoginState int

const (
	AwaitingWelcome LoginState = iota
	AwaitingEncodingChoice
	AwaitingPassword
	AwaitingDuplicateSessionPrompt
	Authenticated
	Failed
)

func (s LoginState) String() string {
	switch s {
	case AwaitingWelcome:
		return "awaiting_welcome"
	case AwaitingEncodingChoice:
		return "awaiting_encoding_choice"
	case AwaitingPassword:
		return "awaiting_password"
	case AwaitingDuplicateSessionPrompt:
		return "awaiting_duplicate_session_prompt"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s LoginState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Prompts are the substrings the sequencer looks for in server output.
type Prompts struct {
	EncodingChoice   string
	Password         string
	DuplicateSession string
	Welcome          string
}

// DefaultPrompts match the pkuxkx server.
var DefaultPrompts = Prompts{
	EncodingChoice:   "Input 1 for GBK, 2 for UTF8, 3 for BIG5",
	Password:         "密码",
	DuplicateSession: "取而代之",
	Welcome:          "欢迎",
}

// Credentials identify the character to log in as.
type Credentials struct {
	Username string
	Password string
}

// Sequencer performs the login handshake over a fresh connection.
//
// The server gives no explicit turn-taking signal, so each step sends and
// then waits StepDelay before draining the response. Unmatched prompts are
// only warnings: the wording is not stable, and transport errors are the
// reliable failure signal.
type Sequencer struct {
	Addr        string
	Credentials Credentials
	Encoding    Encoding
	Prompts     Prompts
	StepDelay   time.Duration
	Output      *Output
}

// Login runs the handshake and returns the terminal state: Authenticated,
// or Failed together with the transport error that stopped it.
func (s *Sequencer) Login(ctx context.Context, sess Session) (LoginState, error) {
	state := AwaitingWelcome
	debugf("login: %s", state)

	banner, err := s.step(ctx, sess)
	if err != nil {
		return Failed, err
	}

	if s.Prompts.EncodingChoice != "" && strings.Contains(banner, s.Prompts.EncodingChoice) {
		state = AwaitingEncodingChoice
		debugf("login: %s", state)
		log.Printf("INFO: Selecting %s encoding", s.Encoding)
		if err := sess.Send(s.Encoding.SelectionCode()); err != nil {
			return Failed, err
		}
		if _, err := s.step(ctx, sess); err != nil {
			return Failed, err
		}
	}

	log.Printf("INFO: Sending username: %s", s.Credentials.Username)
	if err := sess.Send(s.Credentials.Username); err != nil {
		return Failed, err
	}
	response, err := s.step(ctx, sess)
	if err != nil {
		return Failed, err
	}

	switch {
	case s.Prompts.Password != "" && strings.Contains(response, s.Prompts.Password):
		state = AwaitingPassword
		debugf("login: %s", state)
		log.Printf("INFO: Sending password...")
		if err := sess.Send(s.Credentials.Password); err != nil {
			return Failed, err
		}
		response, err = s.step(ctx, sess)
		if err != nil {
			return Failed, err
		}

		if s.Prompts.DuplicateSession != "" && strings.Contains(response, s.Prompts.DuplicateSession) {
			state = AwaitingDuplicateSessionPrompt
			debugf("login: %s", state)
			log.Printf("INFO: Replacing the session already logged in as %s", s.Credentials.Username)
			if err := sess.Send("y"); err != nil {
				return Failed, err
			}
			if _, err := s.step(ctx, sess); err != nil {
				return Failed, err
			}
		}

	case s.Prompts.Welcome != "" && strings.Contains(response, s.Prompts.Welcome):
		debugf("login: welcome seen without a password prompt")

	default:
		log.Printf("WARN: No password prompt after username; assuming the session is usable")
	}

	debugf("login: %s", Authenticated)
	return Authenticated, nil
}

// step waits for the server to answer and records what it sent. Prompts
// are matched against the stripped text, so color codes inside a prompt do
// not hide it.
func (s *Sequencer) step(ctx context.Context, sess Session) (string, error) {
	if err := sleepContext(ctx, s.StepDelay); err != nil {
		return "", err
	}
	text, err := sess.DrainAvailable()
	if text != "" && s.Output != nil {
		s.Output.Server(text)
	}
	if err != nil {
		err = &ConnectError{Addr: s.Addr, Err: err}
	}
	return StripEscapeCodes(text), err
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
