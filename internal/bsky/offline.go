package bsky

import (
	"context"
	"iter"

	"skyward/internal/model"
)

// Offline is a Client that never touches the network. Listings are empty and
// every mutation succeeds, which lets a dry run check configuration and state
// without credentials being used.
type Offline struct {
	Handle string
}

var _ Client = Offline{}

func (o Offline) Login(ctx context.Context) (*Session, error) {
	return &Session{DID: "did:offline:" + o.Handle, Handle: o.Handle}, nil
}

func (Offline) Followers(ctx context.Context, s *Session, actor string) iter.Seq2[model.CandidateUser, error] {
	return func(func(model.CandidateUser, error) bool) {}
}

func (Offline) Follow(ctx context.Context, s *Session, did string) error { return nil }

func (Offline) LatestPost(ctx context.Context, s *Session, did string) (*model.PostRef, error) {
	return nil, nil
}

func (Offline) Like(ctx context.Context, s *Session, post model.PostRef) error { return nil }

func (Offline) NewFollowers(ctx context.Context, s *Session) iter.Seq2[model.CandidateUser, error] {
	return func(func(model.CandidateUser, error) bool) {}
}

func (Offline) SendDM(ctx context.Context, s *Session, did, text string) error { return nil }
