package model

import "time"

// NoLimit marks a limit that was left unset in configuration.
const NoLimit = -1

// ActionKind names an action the engine performs and persists.
type ActionKind string

const (
	Followed ActionKind = "followed"
	Liked    ActionKind = "liked"
	DMSent   ActionKind = "dm_sent"
)

// Kinds lists every action kind in pipeline order.
var Kinds = []ActionKind{Followed, Liked, DMSent}

func (k ActionKind) Valid() bool {
	switch k {
	case Followed, Liked, DMSent:
		return true
	}
	return false
}

// ActionRecord is the durable evidence that an action was performed.
// There is at most one record per (Account, DID, Kind).
type ActionRecord struct {
	Account string
	DID     string
	Kind    ActionKind
	At      time.Time
}

// CandidateUser is an account discovered through a follower listing.
type CandidateUser struct {
	DID         string
	Handle      string
	DisplayName string
}

// Label returns the handle when known, falling back to the DID.
func (u CandidateUser) Label() string {
	if u.Handle != "" {
		return u.Handle
	}
	return u.DID
}

// PostRef is a strong reference to a post record.
type PostRef struct {
	URI string
	CID string
}

// FollowTarget is an account whose followers should be engaged.
type FollowTarget struct {
	Handle         string
	FollowLimit    int
	LikeLatestPost bool
	LikeLimit      int
}

// DMSpec configures the welcome message sent to new followers.
type DMSpec struct {
	Enabled       bool
	Message       string
	LimitPerRun   int
	CooldownHours float64
}

// Account is one operator identity, fully resolved from configuration.
// It is read-only for the duration of a run.
type Account struct {
	Handle               string
	AppPassword          string
	Service              string
	Proxy                string
	FollowDelay          time.Duration
	LikeDelay            time.Duration
	DMDelay              time.Duration
	NewFollowersPageSize int
	QuietHours           []int
	Targets              []FollowTarget
	DM                   DMSpec
}
