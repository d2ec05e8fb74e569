// Package ratelimit decides whether an agent action fits within its fixed
// window ceiling.
//
// The limiter keeps no counters: callers supply the timestamps of the agent's
// prior actions of the same type on every call.
package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

type Action string

const (
	ActionPost    Action = "post"
	ActionComment Action = "comment"
	ActionVote    Action = "vote"
)

var ErrUnknownAction = errors.New("unknown action type")

// Limit is a ceiling of Count actions per Window.
type Limit struct {
	Count  int
	Window time.Duration
}

type Limits map[Action]Limit

func DefaultLimits() Limits {
	return Limits{
		ActionPost:    {Count: 1, Window: 30 * time.Minute},
		ActionComment: {Count: 50, Window: 24 * time.Hour},
		ActionVote:    {Count: 200, Window: 24 * time.Hour},
	}
}

type Decision struct {
	Allowed bool `json:"allowed"`
	// set only when denied
	ResetTime *time.Time `json:"resetTime,omitempty"`
}

type Limiter struct {
	limits Limits
}

// New builds a Limiter over the given table. A nil table means DefaultLimits.
func New(limits Limits) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	cp := make(Limits, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &Limiter{limits: cp}
}

func (l *Limiter) Limit(action Action) (Limit, bool) {
	lim, ok := l.limits[action]
	return lim, ok
}

// Check decides whether one more action is allowed at now, given the times of
// the caller's earlier actions of that type. recent may be in any order.
//
// When denied, ResetTime is the moment enough in-window actions have aged out
// for one more to fit.
func (l *Limiter) Check(action Action, recent []time.Time, now time.Time) (Decision, error) {
	lim, ok := l.limits[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	cutoff := now.Add(-lim.Window)
	var inWindow []time.Time
	for _, t := range recent {
		if t.After(cutoff) {
			inWindow = append(inWindow, t)
		}
	}

	if len(inWindow) < lim.Count {
		return Decision{Allowed: true}, nil
	}

	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].Before(inWindow[j]) })
	reset := inWindow[len(inWindow)-lim.Count].Add(lim.Window)
	return Decision{Allowed: false, ResetTime: &reset}, nil
}
