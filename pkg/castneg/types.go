// SPDX-FileCopyrightText: 2024 The ospcast Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package castneg negotiates a Cast Mirroring Control Protocol session: it
// validates an inbound OFFER, selects at most one audio and one video
// stream from the caller's preferred codec order, spawns receivers for
// what it selected, and builds the matching ANSWER.
package castneg

// MaxOfferedStreams bounds how many candidate streams a single OFFER may
// list, before any per-stream validation runs, so a malicious or malformed
// OFFER can't force unbounded allocation.
const MaxOfferedStreams = 64

const (
	StreamTypeAudio = "audio_source"
	StreamTypeVideo = "video_source"
)

// Resolution is one entry of a video stream's supported dimensions.
type Resolution struct {
	Width  int `cbor:"0,keyasint"`
	Height int `cbor:"1,keyasint"`
}

// OfferedStream is one candidate stream inside an Offer. Index is a pointer
// so a stream that omits it decodes to nil rather than indistinguishably
// aliasing index 0; AesKey and AesIvMask must each be exactly 16 bytes;
// SSRC must be nonzero; TimeBase must parse as "<num>/<den>" with both
// positive.
type OfferedStream struct {
	Index          *int         `cbor:"0,keyasint"`
	Type           string       `cbor:"1,keyasint"`
	CodecName      string       `cbor:"2,keyasint"`
	RtpProfile     string       `cbor:"3,keyasint"`
	RtpPayloadType int          `cbor:"4,keyasint"`
	SSRC           uint32       `cbor:"5,keyasint"`
	TimeBase       string       `cbor:"6,keyasint"`
	TargetDelayMs  int          `cbor:"7,keyasint,omitempty"`
	AesKey         []byte       `cbor:"8,keyasint"`
	AesIvMask      []byte       `cbor:"9,keyasint"`

	// audio_source only
	BitRate  int `cbor:"10,keyasint,omitempty"`
	Channels int `cbor:"11,keyasint,omitempty"`

	// video_source only
	MaxBitRate   int          `cbor:"12,keyasint,omitempty"`
	MaxFrameRate string       `cbor:"13,keyasint,omitempty"`
	Resolutions  []Resolution `cbor:"14,keyasint,omitempty"`
	Profile      string       `cbor:"15,keyasint,omitempty"`
	Level        string       `cbor:"16,keyasint,omitempty"`
}

// Offer is the caller-parsed body of an inbound OFFER message.
type Offer struct {
	CastMode         string          `cbor:"0,keyasint"`
	Sequence         int             `cbor:"1,keyasint"`
	SupportedStreams []OfferedStream `cbor:"2,keyasint"`
}

// Constraints narrows a codec selection beyond what the OFFER proposed,
// drawn from the receiver's own preferences.
type Constraints struct {
	SampleRate         int `cbor:"0,keyasint,omitempty"`
	Channels           int `cbor:"1,keyasint,omitempty"`
	MinBitRate         int `cbor:"2,keyasint,omitempty"`
	MaxBitRate         int `cbor:"3,keyasint,omitempty"`
	MaxDelayMs         int `cbor:"4,keyasint,omitempty"`
	MaxPixelsPerSecond int `cbor:"5,keyasint,omitempty"`
	MaxWidth           int `cbor:"6,keyasint,omitempty"`
	MaxHeight          int `cbor:"7,keyasint,omitempty"`
}

// DisplayDescription advertises the receiver's screen to the sender.
type DisplayDescription struct {
	Width           int  `cbor:"0,keyasint"`
	Height          int  `cbor:"1,keyasint"`
	CanScaleContent bool `cbor:"2,keyasint"`
}

// Answer is the outbound response to an Offer.
type Answer struct {
	Result           string               `cbor:"0,keyasint"`
	ErrorReason      string               `cbor:"1,keyasint,omitempty"`
	StreamIndexes    []int                `cbor:"2,keyasint,omitempty"`
	StreamSSRCs      []uint32             `cbor:"3,keyasint,omitempty"`
	Sequence         int                  `cbor:"4,keyasint"`
	UDPPort          int                  `cbor:"5,keyasint,omitempty"`
	AudioConstraints *Constraints         `cbor:"6,keyasint,omitempty"`
	VideoConstraints *Constraints         `cbor:"7,keyasint,omitempty"`
	Display          *DisplayDescription  `cbor:"8,keyasint,omitempty"`
}

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Preferences configures which codecs a Negotiator will accept, in
// descending priority, plus optional per-codec limits and the receiver's
// own display description.
type Preferences struct {
	AudioCodecs []string
	VideoCodecs []string
	AudioLimits map[string]Constraints
	VideoLimits map[string]Constraints
	Display     *DisplayDescription
}

// DestroyReason tells a Receiver why it is being torn down.
type DestroyReason int

const (
	Ended DestroyReason = iota
	Renegotiated
	Failed
)

// Receiver is one spawned media receiver, owned by the caller once handed
// over via Delegate.OnNegotiated.
type Receiver interface {
	Destroy(reason DestroyReason)
}

// SpawnFunc builds a Receiver for one selected stream. receiveSSRC is
// offered_ssrc + 1, per the ANSWER's own SSRC convention.
type SpawnFunc func(stream OfferedStream, receiveSSRC uint32, udpPort int) (Receiver, error)

// Delegate is notified once a new receiver set has been spawned and is
// about to be handed to the caller, ahead of the ANSWER being sent.
type Delegate struct {
	OnNegotiated func(receivers []Receiver)
}
