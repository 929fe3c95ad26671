package bsky

import (
	"context"
	"errors"
	"net/url"
)

var chatHeaders = map[string]string{"atproto-proxy": chatProxy}

type getConvoForMembersOutput struct {
	Convo struct {
		ID string `json:"id"`
	} `json:"convo"`
}

type sendMessageInput struct {
	ConvoID string `json:"convoId"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// SendDM opens (or reuses) the one-to-one conversation with did and posts text.
func (c *HTTPClient) SendDM(ctx context.Context, s *Session, did, text string) error {
	var convo getConvoForMembersOutput
	err := c.call(ctx, s, request{
		method:  "chat.bsky.convo.getConvoForMembers",
		query:   true,
		params:  url.Values{"members": {did}},
		headers: chatHeaders,
		chat:    true,
	}, &convo)
	if err != nil {
		return err
	}
	if convo.Convo.ID == "" {
		return &APIError{Method: "chat.bsky.convo.getConvoForMembers", Status: 200, Class: ClassFatal, Wrapped: errors.Join(ErrDMUnavailable, errors.New("no conversation id in response"))}
	}

	in := sendMessageInput{ConvoID: convo.Convo.ID}
	in.Message.Text = text
	return c.call(ctx, s, request{
		method:  "chat.bsky.convo.sendMessage",
		body:    in,
		headers: chatHeaders,
		chat:    true,
	}, nil)
}
