package bsky

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"time"

	"skyward/internal/model"
)

const (
	followersPageSize = 100
	authorFeedLimit   = 5
)

type profileView struct {
	Did         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type getFollowersOutput struct {
	Cursor    string        `json:"cursor"`
	Followers []profileView `json:"followers"`
}

// Followers lists the followers of actor, fetching pages as the sequence is
// consumed. Each call starts from the first page.
func (c *HTTPClient) Followers(ctx context.Context, s *Session, actor string) iter.Seq2[model.CandidateUser, error] {
	return c.followers(ctx, s, actor, followersPageSize)
}

// NewFollowers lists the operator's own followers, newest first.
func (c *HTTPClient) NewFollowers(ctx context.Context, s *Session) iter.Seq2[model.CandidateUser, error] {
	return c.followers(ctx, s, s.DID, c.pageSize)
}

func (c *HTTPClient) followers(ctx context.Context, s *Session, actor string, pageSize int) iter.Seq2[model.CandidateUser, error] {
	return func(yield func(model.CandidateUser, error) bool) {
		cursor := ""
		for {
			params := url.Values{
				"actor": {actor},
				"limit": {strconv.Itoa(pageSize)},
			}
			if cursor != "" {
				params.Set("cursor", cursor)
			}
			var out getFollowersOutput
			if err := c.call(ctx, s, request{method: "app.bsky.graph.getFollowers", query: true, params: params}, &out); err != nil {
				yield(model.CandidateUser{}, err)
				return
			}
			for _, f := range out.Followers {
				if !yield(model.CandidateUser{DID: f.Did, Handle: f.Handle, DisplayName: f.DisplayName}, nil) {
					return
				}
			}
			if out.Cursor == "" || out.Cursor == cursor || len(out.Followers) == 0 {
				return
			}
			cursor = out.Cursor
		}
	}
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type createRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type followRecord struct {
	Type      string `json:"$type"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

type likeRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (c *HTTPClient) Follow(ctx context.Context, s *Session, did string) error {
	return c.createRecord(ctx, s, "app.bsky.graph.follow", followRecord{
		Type:      "app.bsky.graph.follow",
		Subject:   did,
		CreatedAt: now(),
	})
}

func (c *HTTPClient) Like(ctx context.Context, s *Session, post model.PostRef) error {
	return c.createRecord(ctx, s, "app.bsky.feed.like", likeRecord{
		Type:      "app.bsky.feed.like",
		Subject:   strongRef{URI: post.URI, CID: post.CID},
		CreatedAt: now(),
	})
}

func (c *HTTPClient) createRecord(ctx context.Context, s *Session, collection string, record any) error {
	return c.call(ctx, s, request{
		method: "com.atproto.repo.createRecord",
		body:   createRecordInput{Repo: s.DID, Collection: collection, Record: record},
	}, nil)
}

type feedViewPost struct {
	Post struct {
		URI    string `json:"uri"`
		CID    string `json:"cid"`
		Author struct {
			Did string `json:"did"`
		} `json:"author"`
	} `json:"post"`
	Reason *struct {
		Type string `json:"$type"`
	} `json:"reason"`
}

type getAuthorFeedOutput struct {
	Feed []feedViewPost `json:"feed"`
}

// LatestPost returns the newest post authored by did, skipping reposts.
// A nil PostRef means the author has nothing to like.
func (c *HTTPClient) LatestPost(ctx context.Context, s *Session, did string) (*model.PostRef, error) {
	var out getAuthorFeedOutput
	err := c.call(ctx, s, request{
		method: "app.bsky.feed.getAuthorFeed",
		query:  true,
		params: url.Values{
			"actor":  {did},
			"limit":  {strconv.Itoa(authorFeedLimit)},
			"filter": {"posts_no_replies"},
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	for _, item := range out.Feed {
		if item.Reason != nil {
			continue
		}
		if item.Post.Author.Did != "" && item.Post.Author.Did != did {
			continue
		}
		if item.Post.URI == "" || item.Post.CID == "" {
			continue
		}
		return &model.PostRef{URI: item.Post.URI, CID: item.Post.CID}, nil
	}
	return nil, nil
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
