package engine

import (
	"context"
	"iter"
	"sync"

	"skyward/internal/bsky"
	"skyward/internal/model"
)

// fakeClient is an in-memory bsky.Client. Error hooks receive the DID and the
// 1-based call number for that DID.
type fakeClient struct {
	mu sync.Mutex

	self      string
	loginErr  error
	followers map[string][]model.CandidateUser
	listErr   map[string]error
	own       []model.CandidateUser
	posts     map[string]*model.PostRef

	followErr func(did string, call int) error
	likeErr   func(did string, call int) error
	dmErr     func(did string, call int) error

	followCalls map[string]int
	likeCalls   map[string]int
	dmCalls     map[string]int
	followed    []string
	liked       []string
	sent        map[string]string
}

var _ bsky.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		self:        "did:plc:me",
		followers:   make(map[string][]model.CandidateUser),
		listErr:     make(map[string]error),
		posts:       make(map[string]*model.PostRef),
		followCalls: make(map[string]int),
		likeCalls:   make(map[string]int),
		dmCalls:     make(map[string]int),
		sent:        make(map[string]string),
	}
}

func (f *fakeClient) Login(ctx context.Context) (*bsky.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &bsky.Session{DID: f.self, Handle: "me.bsky.social"}, nil
}

func seq(users []model.CandidateUser, err error) iter.Seq2[model.CandidateUser, error] {
	return func(yield func(model.CandidateUser, error) bool) {
		for _, u := range users {
			if !yield(u, nil) {
				return
			}
		}
		if err != nil {
			yield(model.CandidateUser{}, err)
		}
	}
}

func (f *fakeClient) Followers(ctx context.Context, s *bsky.Session, actor string) iter.Seq2[model.CandidateUser, error] {
	return seq(f.followers[actor], f.listErr[actor])
}

func (f *fakeClient) NewFollowers(ctx context.Context, s *bsky.Session) iter.Seq2[model.CandidateUser, error] {
	return seq(f.own, nil)
}

func (f *fakeClient) Follow(ctx context.Context, s *bsky.Session, did string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followCalls[did]++
	if f.followErr != nil {
		if err := f.followErr(did, f.followCalls[did]); err != nil {
			return err
		}
	}
	f.followed = append(f.followed, did)
	return nil
}

func (f *fakeClient) LatestPost(ctx context.Context, s *bsky.Session, did string) (*model.PostRef, error) {
	return f.posts[did], nil
}

func (f *fakeClient) Like(ctx context.Context, s *bsky.Session, post model.PostRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likeCalls[post.URI]++
	if f.likeErr != nil {
		if err := f.likeErr(post.URI, f.likeCalls[post.URI]); err != nil {
			return err
		}
	}
	f.liked = append(f.liked, post.URI)
	return nil
}

func (f *fakeClient) SendDM(ctx context.Context, s *bsky.Session, did, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls[did]++
	if f.dmErr != nil {
		if err := f.dmErr(did, f.dmCalls[did]); err != nil {
			return err
		}
	}
	f.sent[did] = text
	return nil
}

func (f *fakeClient) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.followCalls {
		n += c
	}
	for _, c := range f.likeCalls {
		n += c
	}
	for _, c := range f.dmCalls {
		n += c
	}
	return n
}

func users(dids ...string) []model.CandidateUser {
	out := make([]model.CandidateUser, 0, len(dids))
	for _, d := range dids {
		out = append(out, model.CandidateUser{DID: d, Handle: d[len("did:plc:"):] + ".bsky.social"})
	}
	return out
}

func postFor(did string) *model.PostRef {
	return &model.PostRef{URI: "at://" + did + "/app.bsky.feed.post/1", CID: "cid-" + did}
}
