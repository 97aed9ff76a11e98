// Package events implements the Before/After event bus the engine emits
// mutations through.
//
// Every mutation fires a Before<X> event, applies, then fires After<X>
// with the same payload keys. Emission is synchronous and follows strict
// program order: a nested strategy's Before/After pair completes before
// the outer strategy's After fires. Subscriptions match exact names or
// glob-like patterns ('*' matches any run of characters).
package events

import (
	"regexp"
	"strings"
)

// Entity mutation events.
const (
	BeforeUserCreate = "BeforeUserCreate"
	AfterUserCreate  = "AfterUserCreate"
	BeforeUserDelete = "BeforeUserDelete"
	AfterUserDelete  = "AfterUserDelete"
	BeforeUserRename = "BeforeUserRename"
	AfterUserRename  = "AfterUserRename"

	BeforeBacklogCreate  = "BeforeBacklogCreate"
	AfterBacklogCreate   = "AfterBacklogCreate"
	BeforeBacklogDelete  = "BeforeBacklogDelete"
	AfterBacklogDelete   = "AfterBacklogDelete"
	BeforeBacklogRename  = "BeforeBacklogRename"
	AfterBacklogRename   = "AfterBacklogRename"
	BeforeBacklogReorder = "BeforeBacklogReorder"
	AfterBacklogReorder  = "AfterBacklogReorder"

	BeforeWorkitemCreate   = "BeforeWorkitemCreate"
	AfterWorkitemCreate    = "AfterWorkitemCreate"
	BeforeWorkitemDelete   = "BeforeWorkitemDelete"
	AfterWorkitemDelete    = "AfterWorkitemDelete"
	BeforeWorkitemRename   = "BeforeWorkitemRename"
	AfterWorkitemRename    = "AfterWorkitemRename"
	BeforeWorkitemReorder  = "BeforeWorkitemReorder"
	AfterWorkitemReorder   = "AfterWorkitemReorder"
	BeforeWorkitemStart    = "BeforeWorkitemStart"
	AfterWorkitemStart     = "AfterWorkitemStart"
	BeforeWorkitemComplete = "BeforeWorkitemComplete"
	AfterWorkitemComplete  = "AfterWorkitemComplete"

	BeforePomodoroAdd       = "BeforePomodoroAdd"
	AfterPomodoroAdd        = "AfterPomodoroAdd"
	BeforePomodoroRemove    = "BeforePomodoroRemove"
	AfterPomodoroRemove     = "AfterPomodoroRemove"
	BeforePomodoroWorkStart = "BeforePomodoroWorkStart"
	AfterPomodoroWorkStart  = "AfterPomodoroWorkStart"
	BeforePomodoroRestStart = "BeforePomodoroRestStart"
	AfterPomodoroRestStart  = "AfterPomodoroRestStart"
	BeforePomodoroComplete  = "BeforePomodoroComplete"
	AfterPomodoroComplete   = "AfterPomodoroComplete"
	BeforePomodoroVoided    = "BeforePomodoroVoided"
	AfterPomodoroVoided     = "AfterPomodoroVoided"

	BeforeCategoryCreate = "BeforeCategoryCreate"
	AfterCategoryCreate  = "AfterCategoryCreate"
	BeforeCategoryDelete = "BeforeCategoryDelete"
	AfterCategoryDelete  = "AfterCategoryDelete"
	BeforeCategoryRename = "BeforeCategoryRename"
	AfterCategoryRename  = "AfterCategoryRename"

	TagCreated        = "TagCreated"
	TagDeleted        = "TagDeleted"
	TagContentChanged = "TagContentChanged"
)

// Engine lifecycle events.
const (
	BeforeMessageProcessed  = "BeforeMessageProcessed"
	AfterMessageProcessed   = "AfterMessageProcessed"
	SourceMessagesRequested = "SourceMessagesRequested"
	SourceMessagesProcessed = "SourceMessagesProcessed"
	ReplayCompleted         = "ReplayCompleted"
	PongReceived            = "PongReceived"
	WentOnline              = "WentOnline"
	WentOffline             = "WentOffline"
)

// Payload carries the event parameters. After<X> events repeat the keys
// of the matching Before<X>.
type Payload map[string]any

// Callback receives an event by name with its payload.
type Callback func(event string, payload Payload)

// Subscription identifies one On registration. Handles are unique per
// emitter; callbacks are not, two closures built from the same function
// literal share a code pointer.
type Subscription int

type subscription struct {
	id      Subscription
	pattern *regexp.Regexp
	exact   string
	cb      Callback
	last    bool
}

func (s *subscription) matches(event string) bool {
	if s.pattern != nil {
		return s.pattern.MatchString(event)
	}
	return s.exact == event
}

// Emitter dispatches events to subscribers. It is not safe for
// concurrent use; the engine is single-writer by design.
type Emitter struct {
	subs   []*subscription
	nextID Subscription
	muted  int
}

// NewEmitter returns an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// On subscribes a callback to every event matching the pattern. A
// pattern without '*' matches one event exactly; with '*' it matches
// any run of characters ("AfterBacklog*", "*Pomodoro*"). Subscriptions
// flagged last run after all normal ones, each group in registration
// order. The returned handle removes exactly this registration.
func (e *Emitter) On(pattern string, cb Callback, last bool) Subscription {
	e.nextID++
	sub := &subscription{id: e.nextID, cb: cb, last: last}
	if strings.Contains(pattern, "*") {
		quoted := regexp.QuoteMeta(pattern)
		sub.pattern = regexp.MustCompile("^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$")
	} else {
		sub.exact = pattern
	}
	e.subs = append(e.subs, sub)
	return sub.id
}

// Unsubscribe removes the registration behind the handle On returned.
// Unknown handles are ignored.
func (e *Emitter) Unsubscribe(sub Subscription) {
	kept := e.subs[:0]
	for _, s := range e.subs {
		if s.id != sub {
			kept = append(kept, s)
		}
	}
	e.subs = kept
}

// Cancel removes every subscription whose pattern string matches events
// the given pattern matches. It compiles the pattern the same way On
// does and drops subscriptions with an equal matcher, plus exact
// subscriptions the pattern covers.
func (e *Emitter) Cancel(pattern string) {
	var re *regexp.Regexp
	if strings.Contains(pattern, "*") {
		quoted := regexp.QuoteMeta(pattern)
		re = regexp.MustCompile("^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$")
	}
	kept := e.subs[:0]
	for _, s := range e.subs {
		drop := false
		if re == nil {
			drop = s.exact == pattern
		} else if s.exact != "" {
			drop = re.MatchString(s.exact)
		} else {
			drop = re.String() == s.pattern.String()
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	e.subs = kept
}

// Mute drops all subsequent events. Calls nest; each Mute needs a
// matching Unmute. Muted events are dropped, never queued.
func (e *Emitter) Mute() { e.muted++ }

// Unmute re-enables event delivery.
func (e *Emitter) Unmute() {
	if e.muted > 0 {
		e.muted--
	}
}

// Muted reports whether events are currently dropped.
func (e *Emitter) Muted() bool { return e.muted > 0 }

// Emit delivers the event to all matching subscribers synchronously:
// normal-priority ones in registration order, then last-flagged ones.
func (e *Emitter) Emit(event string, payload Payload) {
	if e.muted > 0 {
		return
	}
	if payload == nil {
		payload = Payload{}
	}
	for _, s := range e.subs {
		if !s.last && s.matches(event) {
			s.cb(event, payload)
		}
	}
	for _, s := range e.subs {
		if s.last && s.matches(event) {
			s.cb(event, payload)
		}
	}
}

// EmitForce delivers the event even while muted. Connection state
// changes use it; the UI must see those during bulk replay.
func (e *Emitter) EmitForce(event string, payload Payload) {
	saved := e.muted
	e.muted = 0
	e.Emit(event, payload)
	e.muted = saved
}
