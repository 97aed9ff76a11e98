package strategy

import (
	"strconv"
	"time"
)

// Control strategies travel over the remote protocol only. They carry
// no tree mutation: Execute is a no-op, the transport layer reacts to
// them by type. They are registered so they parse off the wire, but
// Persistent is false, so they never land in a log.
const (
	NameAuthenticate    = "Authenticate"
	NameReplayRequest   = "ReplayRequest"
	NameReplayCompleted = "ReplayCompleted"
	NamePing            = "Ping"
	NamePong            = "Pong"
	NameError           = "Error"
)

type control struct {
	base
}

func (c *control) Persistent() bool                    { return false }
func (c *control) Execute(*Context) (*Conflict, error) { return nil, nil }

// Authenticate opens a session with an opaque credential.
// Authenticate("alice@example.com", "token-123")
type Authenticate struct {
	control
	token string
}

func newAuthenticate(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameAuthenticate, params, 2, 2); err != nil {
		return nil, err
	}
	return &Authenticate{
		control: control{base{seq: seq, when: when, user: user, params: params}},
		token:   params[1],
	}, nil
}

// NewAuthenticate builds an outbound Authenticate.
func NewAuthenticate(when time.Time, user, token string) *Authenticate {
	return &Authenticate{
		control: control{base{when: when, user: user, params: []string{user, token}}},
		token:   token,
	}
}

func (s *Authenticate) Name() string  { return NameAuthenticate }
func (s *Authenticate) Token() string { return s.token }

// ReplayRequest asks the server to stream every strategy after the
// given sequence number.
// ReplayRequest("42")
type ReplayRequest struct {
	control
	sinceSeq int64
}

func newReplayRequest(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameReplayRequest, params, 1, 1); err != nil {
		return nil, err
	}
	since, err := strconv.ParseInt(params[0], 10, 64)
	if err != nil {
		return nil, invalidf("bad sequence %q", params[0])
	}
	return &ReplayRequest{
		control:  control{base{seq: seq, when: when, user: user, params: params}},
		sinceSeq: since,
	}, nil
}

// NewReplayRequest builds an outbound ReplayRequest.
func NewReplayRequest(when time.Time, user string, sinceSeq int64) *ReplayRequest {
	return &ReplayRequest{
		control:  control{base{when: when, user: user, params: []string{strconv.FormatInt(sinceSeq, 10)}}},
		sinceSeq: sinceSeq,
	}
}

func (s *ReplayRequest) Name() string    { return NameReplayRequest }
func (s *ReplayRequest) SinceSeq() int64 { return s.sinceSeq }

// ReplayCompleted marks the end of a bulk catch-up stream.
// ReplayCompleted()
type ReplayCompleted struct {
	control
}

func newReplayCompleted(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	return &ReplayCompleted{control{base{seq: seq, when: when, user: user, params: params}}}, nil
}

func (s *ReplayCompleted) Name() string { return NameReplayCompleted }

// Ping carries a correlation uid the peer must echo back.
// Ping("uid-1")
type Ping struct {
	control
	uid string
}

func newPing(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NamePing, params, 1, 1); err != nil {
		return nil, err
	}
	return &Ping{
		control: control{base{seq: seq, when: when, user: user, params: params}},
		uid:     params[0],
	}, nil
}

// NewPing builds an outbound Ping.
func NewPing(when time.Time, user, uid string) *Ping {
	return &Ping{
		control: control{base{when: when, user: user, params: []string{uid}}},
		uid:     uid,
	}
}

func (s *Ping) Name() string { return NamePing }
func (s *Ping) UID() string  { return s.uid }

// Pong answers a Ping, echoing its uid.
// Pong("uid-1")
type Pong struct {
	control
	uid string
}

func newPong(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NamePong, params, 1, 1); err != nil {
		return nil, err
	}
	return &Pong{
		control: control{base{seq: seq, when: when, user: user, params: params}},
		uid:     params[0],
	}, nil
}

func (s *Pong) Name() string { return NamePong }
func (s *Pong) UID() string  { return s.uid }

// Error is a server-reported protocol failure. It is terminal: the
// client surfaces it and stops reconnecting.
// Error("401", "bad token")
type Error struct {
	control
	code    string
	message string
}

func newError(seq int64, when time.Time, user string, params []string) (Strategy, error) {
	if err := requireParams(NameError, params, 2, 2); err != nil {
		return nil, err
	}
	return &Error{
		control: control{base{seq: seq, when: when, user: user, params: params}},
		code:    params[0],
		message: params[1],
	}, nil
}

func (s *Error) Name() string    { return NameError }
func (s *Error) Code() string    { return s.code }
func (s *Error) Message() string { return s.message }
