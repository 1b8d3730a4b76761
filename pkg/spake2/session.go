// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package spake2

import (
	"bytes"
	"crypto/ecdh"
	"time"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/trust"
	"github.com/openscreen-go/ospcast/pkg/wire"
)

// Sender is the minimal outbound surface a Session needs; *protoconn.Connection
// satisfies it directly.
type Sender interface {
	Write(b []byte) error
}

// Delegate is notified of the handshake's outcome. Exactly one of the two
// methods fires, exactly once, per Session.
type Delegate struct {
	OnAuthenticationSucceed func(sharedKey [64]byte)
	OnAuthenticationFailed  func(err error)
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateAnnounced
	stateShown
	stateAwaitingConfirmation
	stateDone
)

// Session runs one side of a pairing handshake over a Sender. Like the rest
// of the core protocol stack it is meant to be driven from a single
// goroutine (the owning task runner); it does not lock its own state.
type Session struct {
	role            Role
	peerFingerprint string
	initiationToken string
	password        string
	trustStore      *trust.Store
	delegate        Delegate
	sender          Sender

	priv    *ecdh.PrivateKey
	peerPub *ecdh.PublicKey

	pendingSecret []byte
	sharedKey     [64]byte

	state sessionState
}

// NewPresenter builds a Session for the party that will show the PIN. The
// password is already known at construction time since the Presenter is
// the one displaying it.
func NewPresenter(peerFingerprint, initiationToken, password string, sender Sender, trustStore *trust.Store, delegate Delegate) (*Session, error) {
	return newSession(Presenter, peerFingerprint, initiationToken, password, sender, trustStore, delegate)
}

// NewConsumer builds a Session for the party whose user will type the PIN
// in later, via SubmitPassword.
func NewConsumer(peerFingerprint, initiationToken string, sender Sender, trustStore *trust.Store, delegate Delegate) (*Session, error) {
	return newSession(Consumer, peerFingerprint, initiationToken, "", sender, trustStore, delegate)
}

func newSession(role Role, peerFingerprint, initiationToken, password string, sender Sender, trustStore *trust.Store, delegate Delegate) (*Session, error) {
	priv, err := derivePrivateKey(peerFingerprint)
	if err != nil {
		return nil, err
	}
	return &Session{
		role:            role,
		peerFingerprint: peerFingerprint,
		initiationToken: initiationToken,
		password:        password,
		sender:          sender,
		trustStore:      trustStore,
		delegate:        delegate,
		priv:            priv,
	}, nil
}

// Start begins the handshake. If trustStore already holds a cached shared
// key for this peer, the handshake is skipped entirely and the delegate is
// notified of success immediately.
func (s *Session) Start() error {
	if s.trustStore != nil {
		if entry, ok := s.trustStore.Lookup(s.peerFingerprint); ok {
			s.state = stateDone
			s.sharedKey = entry.SharedKey
			if s.delegate.OnAuthenticationSucceed != nil {
				s.delegate.OnAuthenticationSucceed(entry.SharedKey)
			}
			return nil
		}
	}

	if s.role != Presenter {
		s.state = stateAnnounced
		return nil
	}
	return s.sendHandshake(NeedsPresentation)
}

// NotifyPINShown is called by the Presenter once the PIN has actually been
// rendered to the user, moving the handshake from "about to present" to
// "presented".
func (s *Session) NotifyPINShown() error {
	if s.role != Presenter || s.state != stateAnnounced {
		return ospcast.New(ospcast.ErrOperationInvalid, "spake2.NotifyPINShown: not awaiting presentation", nil)
	}
	return s.sendHandshake(Shown)
}

// SubmitPassword is called by the Consumer once its user has typed the PIN
// in. It finishes deriving the shared key from the secret computed when the
// Presenter's public value arrived, then sends its own handshake message.
func (s *Session) SubmitPassword(password string) error {
	if s.role != Consumer || s.state != stateShown {
		return ospcast.New(ospcast.ErrOperationInvalid, "spake2.SubmitPassword: not awaiting a password", nil)
	}
	s.password = password
	s.sharedKey = deriveSharedKey(s.pendingSecret, password)
	s.state = stateAwaitingConfirmation
	return s.sendHandshake(Input)
}

func (s *Session) sendHandshake(status PSKStatus) error {
	hs := Handshake{
		InitiationToken: s.initiationToken,
		PSKStatus:       status,
		PublicValue:     publicValueBytes(s.priv),
	}
	if err := s.send(TagHandshake, hs); err != nil {
		return err
	}
	switch status {
	case NeedsPresentation:
		s.state = stateAnnounced
	case Shown:
		s.state = stateShown
	case Input:
		s.state = stateAwaitingConfirmation
	}
	return nil
}

func (s *Session) send(tag byte, v any) error {
	b, err := wire.EncodeValue(tag, v)
	if err != nil {
		return err
	}
	if s.sender == nil {
		return ospcast.New(ospcast.ErrNoActiveConnection, "spake2.send", nil)
	}
	return s.sender.Write(b)
}

// HandleFrame matches pkg/demux.Watcher's signature so a Session can be
// registered directly against a Demuxer for its three message tags.
func (s *Session) HandleFrame(instanceID, streamID uint64, tag byte, rest []byte, now time.Time) (int, error) {
	body, consumed, err := wire.DecodeBody(rest)
	if err != nil {
		if err == wire.ErrParserEOF {
			return 0, nil
		}
		return 0, ospcast.New(ospcast.ErrCborParsing, "spake2.HandleFrame: length prefix", err)
	}

	switch tag {
	case TagHandshake:
		var hs Handshake
		if uerr := wire.DecodeValue(body, &hs); uerr != nil {
			return 0, ospcast.New(ospcast.ErrCborParsing, "spake2.HandleFrame: handshake", uerr)
		}
		if herr := s.handleHandshake(hs, now); herr != nil {
			return 0, herr
		}
	case TagConfirmation:
		var conf Confirmation
		if uerr := wire.DecodeValue(body, &conf); uerr != nil {
			return 0, ospcast.New(ospcast.ErrCborParsing, "spake2.HandleFrame: confirmation", uerr)
		}
		if herr := s.handleConfirmation(conf, now); herr != nil {
			return 0, herr
		}
	case TagAuthStatus:
		var as AuthStatus
		if uerr := wire.DecodeValue(body, &as); uerr != nil {
			return 0, ospcast.New(ospcast.ErrCborParsing, "spake2.HandleFrame: auth status", uerr)
		}
		s.handleAuthStatus(as, now)
	default:
		return 0, ospcast.New(ospcast.ErrParseError, "spake2.HandleFrame: unrecognized tag", nil)
	}
	return consumed, nil
}

func (s *Session) handleHandshake(hs Handshake, now time.Time) error {
	if hs.InitiationToken != s.initiationToken {
		return s.fail(ospcast.New(ospcast.ErrInvalidAnswer, "spake2: initiation token mismatch", nil))
	}

	switch s.role {
	case Consumer:
		return s.handleHandshakeAsConsumer(hs, now)
	default:
		return s.handleHandshakeAsPresenter(hs, now)
	}
}

func (s *Session) handleHandshakeAsConsumer(hs Handshake, now time.Time) error {
	switch hs.PSKStatus {
	case NeedsPresentation:
		if s.peerPub == nil {
			pub, err := parsePublicValue(hs.PublicValue)
			if err != nil {
				return s.fail(err)
			}
			s.peerPub = pub
		}
		return nil
	case Shown:
		pub := s.peerPub
		if pub == nil {
			var err error
			pub, err = parsePublicValue(hs.PublicValue)
			if err != nil {
				return s.fail(err)
			}
			s.peerPub = pub
		}
		secret, err := ecdhSecret(s.priv, pub)
		if err != nil {
			return s.fail(err)
		}
		s.pendingSecret = secret
		s.state = stateShown
		return nil
	default:
		return s.fail(ospcast.New(ospcast.ErrInvalidAnswer, "spake2: unexpected handshake status for consumer", nil))
	}
}

func (s *Session) handleHandshakeAsPresenter(hs Handshake, now time.Time) error {
	if hs.PSKStatus != Input {
		return s.fail(ospcast.New(ospcast.ErrInvalidAnswer, "spake2: unexpected handshake status for presenter", nil))
	}
	pub, err := parsePublicValue(hs.PublicValue)
	if err != nil {
		return s.fail(err)
	}
	s.peerPub = pub

	key, err := ComputeSharedKey(s.priv, pub, s.password)
	if err != nil {
		return s.fail(err)
	}
	s.sharedKey = key
	s.state = stateAwaitingConfirmation
	return s.send(TagConfirmation, Confirmation{ConfirmationValue: key})
}

func (s *Session) handleConfirmation(conf Confirmation, now time.Time) error {
	if s.role != Consumer || s.state != stateAwaitingConfirmation {
		return s.fail(ospcast.New(ospcast.ErrOperationInvalid, "spake2: unexpected confirmation", nil))
	}

	if bytes.Equal(conf.ConfirmationValue[:], s.sharedKey[:]) {
		if err := s.send(TagAuthStatus, AuthStatus{Result: Authenticated}); err != nil {
			return err
		}
		s.succeed()
		return nil
	}

	if err := s.send(TagAuthStatus, AuthStatus{Result: ProofInvalid}); err != nil {
		return err
	}
	return s.fail(ospcast.New(ospcast.ErrInvalidAnswer, "spake2: confirmation value mismatch", nil))
}

func (s *Session) handleAuthStatus(as AuthStatus, now time.Time) {
	if as.Result == Authenticated {
		s.succeed()
		return
	}
	s.fail(ospcast.New(ospcast.ErrInvalidAnswer, "spake2: peer reported proof invalid", nil))
}

func (s *Session) succeed() {
	if s.state == stateDone {
		return
	}
	s.state = stateDone
	if s.trustStore != nil {
		_ = s.trustStore.Remember(s.peerFingerprint, s.sharedKey, time.Now())
	}
	if s.delegate.OnAuthenticationSucceed != nil {
		s.delegate.OnAuthenticationSucceed(s.sharedKey)
	}
}

func (s *Session) fail(err error) error {
	if s.state == stateDone {
		return err
	}
	s.state = stateDone
	if s.delegate.OnAuthenticationFailed != nil {
		s.delegate.OnAuthenticationFailed(err)
	}
	return err
}
