// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package castneg

import (
	"errors"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/openscreen-go/ospcast/pkg/ospcast"
)

// SocketState tracks the readiness of the receiver-bound UDP socket an
// accepted OFFER's streams will be delivered on.
type SocketState int

const (
	SocketBinding SocketState = iota
	SocketReady
	SocketInvalid
)

// ErrOfferPending is returned by HandleOffer when the UDP socket is still
// binding: the OFFER has been stashed and will be answered once SetSocketReady
// or SetSocketInvalid is called, rather than rejected outright.
var ErrOfferPending = errors.New("castneg: offer stashed pending socket readiness")

// Negotiator runs one session's OFFER/ANSWER exchange and keeps the
// currently-live receiver set.
type Negotiator struct {
	prefs       Preferences
	spawn       SpawnFunc
	delegate    Delegate
	socketState SocketState
	udpPort     int

	haveSequence bool
	lastSequence int

	pending *Offer

	receivers []Receiver
}

// New builds a Negotiator. The socket starts in SocketBinding; call
// SetSocketReady once the receiver-bound UDP port is known.
func New(prefs Preferences, spawn SpawnFunc, delegate Delegate) *Negotiator {
	return &Negotiator{prefs: prefs, spawn: spawn, delegate: delegate, socketState: SocketBinding}
}

// SetSocketReady marks the UDP socket usable on udpPort and, if an OFFER
// was stashed while binding, negotiates it now.
func (n *Negotiator) SetSocketReady(udpPort int) (Answer, []Receiver, error, bool) {
	n.socketState = SocketReady
	n.udpPort = udpPort
	if n.pending == nil {
		return Answer{}, nil, nil, false
	}
	o := *n.pending
	n.pending = nil
	answer, receivers, err := n.negotiate(o)
	return answer, receivers, err, true
}

// SetSocketInvalid marks the UDP socket unusable and, if an OFFER was
// stashed while binding, answers it with an error now.
func (n *Negotiator) SetSocketInvalid() (Answer, error, bool) {
	n.socketState = SocketInvalid
	if n.pending == nil {
		return Answer{}, nil, false
	}
	o := *n.pending
	n.pending = nil
	answer := n.errorAnswer(o.Sequence, "UDP socket is unavailable")
	return answer, ospcast.New(ospcast.ErrSocketFailure, "castneg: socket invalid while offer pending", nil), true
}

// HandleOffer validates and, where possible, negotiates an inbound OFFER.
func (n *Negotiator) HandleOffer(o Offer) (Answer, []Receiver, error) {
	if o.Sequence < 0 {
		return n.errorAnswer(o.Sequence, "OFFER sequence number must not be negative"), nil,
			ospcast.New(ospcast.ErrParameterInvalid, "castneg: negative sequence", nil)
	}
	if n.haveSequence && o.Sequence <= n.lastSequence {
		return n.errorAnswer(o.Sequence, "OFFER sequence number is not monotonically increasing"), nil,
			ospcast.New(ospcast.ErrParameterInvalid, "castneg: replayed or out-of-order sequence", nil)
	}
	n.haveSequence = true
	n.lastSequence = o.Sequence

	switch n.socketState {
	case SocketInvalid:
		return n.errorAnswer(o.Sequence, "UDP socket is unavailable"), nil,
			ospcast.New(ospcast.ErrSocketFailure, "castneg: socket invalid", nil)
	case SocketBinding:
		cp := o
		n.pending = &cp
		return Answer{}, nil, ErrOfferPending
	default:
		return n.negotiate(o)
	}
}

func (n *Negotiator) negotiate(o Offer) (Answer, []Receiver, error) {
	if len(o.SupportedStreams) > MaxOfferedStreams {
		return n.errorAnswer(o.Sequence, "OFFER contains too many streams"), nil,
			ospcast.New(ospcast.ErrParameterInvalid, "castneg: too many streams", nil)
	}

	var valid []OfferedStream
	for _, s := range o.SupportedStreams {
		if ok, reason := validateStream(s); ok {
			valid = append(valid, s)
		} else {
			index := -1
			if s.Index != nil {
				index = *s.Index
			}
			log.WithFields(log.Fields{"index": index, "reason": reason}).Debug("castneg: rejected candidate stream")
		}
	}
	if len(valid) == 0 {
		return n.errorAnswer(o.Sequence, "OFFER did not contain any valid streams"), nil,
			ospcast.New(ospcast.ErrParseError, "castneg: no valid candidate streams", nil)
	}

	audio := selectFirstMatch(valid, StreamTypeAudio, n.prefs.AudioCodecs)
	video := selectFirstMatch(valid, StreamTypeVideo, n.prefs.VideoCodecs)
	if audio == nil && video == nil {
		return n.errorAnswer(o.Sequence, "Failed to select any streams from OFFER"), nil,
			ospcast.New(ospcast.ErrParameterInvalid, "castneg: no preferred codec present", nil)
	}

	var selected []OfferedStream
	if audio != nil {
		selected = append(selected, *audio)
	}
	if video != nil {
		selected = append(selected, *video)
	}

	newReceivers := make([]Receiver, 0, len(selected))
	indexes := make([]int, 0, len(selected))
	ssrcs := make([]uint32, 0, len(selected))
	for _, s := range selected {
		receiveSSRC := s.SSRC + 1
		r, err := n.spawn(s, receiveSSRC, n.udpPort)
		if err != nil {
			for _, spawned := range newReceivers {
				spawned.Destroy(Failed)
			}
			return n.errorAnswer(o.Sequence, "Failed to start a receiver for the selected streams"), nil,
				ospcast.New(ospcast.ErrOperationInvalid, "castneg: spawn receiver", err)
		}
		newReceivers = append(newReceivers, r)
		indexes = append(indexes, *s.Index)
		ssrcs = append(ssrcs, receiveSSRC)
	}

	for _, old := range n.receivers {
		old.Destroy(Renegotiated)
	}
	n.receivers = newReceivers

	if n.delegate.OnNegotiated != nil {
		n.delegate.OnNegotiated(newReceivers)
	}

	answer := Answer{
		Result:        ResultOK,
		StreamIndexes: indexes,
		StreamSSRCs:   ssrcs,
		Sequence:      o.Sequence,
		UDPPort:       n.udpPort,
		Display:       n.prefs.Display,
	}
	if audio != nil {
		if c, ok := n.prefs.AudioLimits[audio.CodecName]; ok {
			cp := c
			answer.AudioConstraints = &cp
		}
	}
	if video != nil {
		if c, ok := n.prefs.VideoLimits[video.CodecName]; ok {
			cp := c
			answer.VideoConstraints = &cp
		}
	}
	return answer, newReceivers, nil
}

func (n *Negotiator) errorAnswer(sequence int, reason string) Answer {
	return Answer{Result: ResultError, ErrorReason: reason, Sequence: sequence}
}

func selectFirstMatch(streams []OfferedStream, streamType string, preferredCodecs []string) *OfferedStream {
	for _, codec := range preferredCodecs {
		for i := range streams {
			s := &streams[i]
			if s.Type == streamType && strings.EqualFold(s.CodecName, codec) {
				return s
			}
		}
	}
	return nil
}

func validateStream(s OfferedStream) (ok bool, reason string) {
	if s.Index == nil {
		return false, "missing index"
	}
	if s.Type != StreamTypeAudio && s.Type != StreamTypeVideo {
		return false, "unrecognized stream type"
	}
	if s.CodecName == "" {
		return false, "missing codecName"
	}
	if s.RtpProfile == "" {
		return false, "missing rtpProfile"
	}
	if s.RtpPayloadType <= 0 {
		return false, "missing rtpPayloadType"
	}
	if s.SSRC == 0 {
		return false, "ssrc must not be zero"
	}
	if !validTimeBase(s.TimeBase) {
		return false, "timeBase must be a positive num/den rational"
	}
	if len(s.AesKey) != 16 {
		return false, "aesKey must be 16 bytes"
	}
	if len(s.AesIvMask) != 16 {
		return false, "aesIvMask must be 16 bytes"
	}

	switch s.Type {
	case StreamTypeVideo:
		if s.MaxBitRate <= 0 {
			return false, "missing maxBitRate"
		}
	case StreamTypeAudio:
		if s.Channels <= 0 {
			return false, "missing channels"
		}
		if s.BitRate <= 0 {
			return false, "missing bitRate"
		}
	}
	return true, ""
}

func validTimeBase(tb string) bool {
	parts := strings.SplitN(tb, "/", 2)
	if len(parts) != 2 {
		return false
	}
	num, err1 := strconv.Atoi(parts[0])
	den, err2 := strconv.Atoi(parts[1])
	return err1 == nil && err2 == nil && num > 0 && den > 0
}
