// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package castneg

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
	"github.com/openscreen-go/ospcast/pkg/wire"
)

// Wire type tags for the two message shapes this package exchanges.
const (
	TagOffer  byte = 0x30
	TagAnswer byte = 0x31
)

// Sender is the minimal outbound surface a MessageHandler needs;
// *protoconn.Connection satisfies it directly.
type Sender interface {
	Write(b []byte) error
}

// MessageHandler bridges a Negotiator to a demuxed connection: it decodes
// inbound OFFER frames, runs them through the Negotiator, and writes the
// resulting ANSWER back out. Its HandleFrame method matches
// pkg/demux.Watcher's signature exactly.
type MessageHandler struct {
	negotiator *Negotiator
	sender     Sender
}

// NewMessageHandler wires a Negotiator to a Sender for the ANSWERs it produces.
func NewMessageHandler(negotiator *Negotiator, sender Sender) *MessageHandler {
	return &MessageHandler{negotiator: negotiator, sender: sender}
}

// HandleFrame matches pkg/demux.Watcher's signature so a MessageHandler can
// be registered directly against a Demuxer for TagOffer.
func (h *MessageHandler) HandleFrame(instanceID, streamID uint64, tag byte, rest []byte, now time.Time) (int, error) {
	if tag != TagOffer {
		return 0, ospcast.New(ospcast.ErrParseError, "castneg.HandleFrame: unrecognized tag", nil)
	}

	body, consumed, err := wire.DecodeBody(rest)
	if err != nil {
		if err == wire.ErrParserEOF {
			return 0, nil
		}
		return 0, ospcast.New(ospcast.ErrCborParsing, "castneg.HandleFrame: length prefix", err)
	}

	var offer Offer
	if uerr := wire.DecodeValue(body, &offer); uerr != nil {
		return 0, ospcast.New(ospcast.ErrCborParsing, "castneg.HandleFrame: offer body", uerr)
	}

	answer, _, negErr := h.negotiator.HandleOffer(offer)
	if negErr != nil && errors.Is(negErr, ErrOfferPending) {
		log.WithField("sequence", offer.Sequence).Debug("castneg: offer stashed until the receiver socket is ready")
		return consumed, nil
	}

	if sendErr := h.sendAnswer(answer); sendErr != nil {
		return 0, sendErr
	}
	return consumed, nil
}

// SendAnswer lets a caller push an ANSWER produced outside of HandleFrame —
// e.g. one released by SetSocketReady/SetSocketInvalid resolving a stashed
// OFFER — out over the same Sender.
func (h *MessageHandler) SendAnswer(answer Answer) error {
	return h.sendAnswer(answer)
}

func (h *MessageHandler) sendAnswer(answer Answer) error {
	b, err := wire.EncodeValue(TagAnswer, answer)
	if err != nil {
		return err
	}
	if h.sender == nil {
		return ospcast.New(ospcast.ErrNoActiveConnection, "castneg.sendAnswer", nil)
	}
	return h.sender.Write(b)
}
