package bsky

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// ErrDMUnavailable means the service or the credential cannot send direct
// messages. It disables the DM phase for the rest of the run.
var ErrDMUnavailable = errors.New("direct messages unavailable")

// Class tells the engine how to react to a failed call.
type Class int

const (
	// ClassFatal aborts the account.
	ClassFatal Class = iota
	// ClassRetryable is retried once, then counted against the candidate.
	ClassRetryable
	// ClassCandidate fails the current candidate only.
	ClassCandidate
)

func (c Class) String() string {
	switch c {
	case ClassFatal:
		return "fatal"
	case ClassRetryable:
		return "retryable"
	case ClassCandidate:
		return "candidate"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// APIError is a non-2xx XRPC response, or a transport failure when Status is 0.
type APIError struct {
	Method    string
	Status    int
	Name      string
	Message   string
	Class     Class
	Ratelimit *RatelimitInfo
	Wrapped   error
}

func (e *APIError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("%s: request failed: %v", e.Method, e.Wrapped)
	case e.Status == http.StatusTooManyRequests && e.Ratelimit != nil && !e.Ratelimit.Reset.IsZero():
		return fmt.Sprintf("%s: XRPC ERROR %d: %s: %s (throttled until %s)", e.Method, e.Status, e.Name, e.Message, e.Ratelimit.Reset.UTC().Format(time.RFC3339))
	case e.Name == "":
		return fmt.Sprintf("%s: XRPC ERROR %d", e.Method, e.Status)
	}
	return fmt.Sprintf("%s: XRPC ERROR %d: %s: %s", e.Method, e.Status, e.Name, e.Message)
}

func (e *APIError) Unwrap() error { return e.Wrapped }

func (e *APIError) Retryable() bool { return e.Class == ClassRetryable }

// RatelimitInfo mirrors the ratelimit-* response headers.
type RatelimitInfo struct {
	Limit     int
	Remaining int
	Policy    string
	Reset     time.Time
}

// AuthError is a failed login or session refresh. It is fatal for the account.
type AuthError struct {
	Identifier string
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Identifier, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ClassOf returns the class of err, treating anything that is not an
// *APIError as fatal.
func ClassOf(err error) Class {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassFatal
}

// Classifier maps XRPC failures onto a Class. Error names are consulted
// before statuses; anything unmatched is fatal.
type Classifier struct {
	RetryableStatuses []int
	RetryableNames    []string
	FatalStatuses     []int
	FatalNames        []string
	CandidateStatuses []int
	CandidateNames    []string

	DMUnavailableStatuses []int
	DMUnavailableNames    []string
	// ChatCandidateStatuses are chat failures that concern one recipient,
	// such as a recipient who does not accept messages.
	ChatCandidateStatuses []int
}

func DefaultClassifier() Classifier {
	return Classifier{
		RetryableStatuses: []int{408, 425, 429, 500, 502, 503, 504},
		RetryableNames:    []string{"RateLimitExceeded", "UpstreamFailure", "UpstreamTimeout"},
		FatalStatuses:     []int{401, 403},
		FatalNames: []string{
			"AuthenticationRequired", "ExpiredToken", "InvalidToken",
			"AccountTakedown", "AccountSuspended", "AccountDeactivated",
		},
		CandidateNames: []string{
			"NotFound", "RecordNotFound", "ProfileNotFound",
			"BlockedActor", "BlockedByActor", "InvalidSubject",
		},
		DMUnavailableStatuses: []int{404, 501},
		DMUnavailableNames:    []string{"MethodNotImplemented", "XRPCNotSupported", "InvalidToken"},
		ChatCandidateStatuses: []int{400},
	}
}

func (c Classifier) Classify(status int, name string) Class {
	if name != "" {
		switch {
		case slices.Contains(c.FatalNames, name):
			return ClassFatal
		case slices.Contains(c.CandidateNames, name):
			return ClassCandidate
		case slices.Contains(c.RetryableNames, name):
			return ClassRetryable
		}
	}
	switch {
	case slices.Contains(c.RetryableStatuses, status):
		return ClassRetryable
	case slices.Contains(c.FatalStatuses, status):
		return ClassFatal
	case slices.Contains(c.CandidateStatuses, status):
		return ClassCandidate
	}
	return ClassFatal
}

// DMUnavailable reports whether a chat endpoint failure means DMs cannot be
// sent at all with this service or credential.
func (c Classifier) DMUnavailable(status int, name string) bool {
	if name != "" && slices.Contains(c.DMUnavailableNames, name) {
		return true
	}
	return slices.Contains(c.DMUnavailableStatuses, status)
}

// ClassifyChat classifies a chat endpoint failure that is not DMUnavailable.
func (c Classifier) ClassifyChat(status int, name string) Class {
	class := c.Classify(status, name)
	if class == ClassFatal && !slices.Contains(c.FatalNames, name) && slices.Contains(c.ChatCandidateStatuses, status) {
		return ClassCandidate
	}
	return class
}
