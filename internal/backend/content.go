package backend

import (
	"context"
	"fmt"
)

// ContentKind selects one of the static content endpoints.
type ContentKind string

const (
	ContentTerms   ContentKind = "terms"
	ContentPrivacy ContentKind = "privacy"
	ContentFAQ     ContentKind = "faq"
)

// Content is a static page body written in markdown. FAQ pages fill Entries instead.
type Content struct {
	Title   string     `json:"title"`
	Body    string     `json:"content"`
	Entries []FAQEntry `json:"-"`
}

// FAQEntry is one question and answer.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// GetContent fetches a static content page.
func (c *Client) GetContent(ctx context.Context, kind ContentKind) (Content, error) {
	var path string
	switch kind {
	case ContentTerms:
		path = EndpointTerms
	case ContentPrivacy:
		path = EndpointPrivacy
	case ContentFAQ:
		path = EndpointFAQ
	default:
		return Content{}, &Error{Kind: KindRequest, Endpoint: string(kind), Message: fmt.Sprintf("unknown content %q", kind)}
	}
	env, err := c.get(ctx, path, nil)
	if err != nil {
		return Content{}, err
	}
	if kind == ContentFAQ {
		page, err := decodePage[FAQEntry](env)
		if err != nil {
			return Content{}, &Error{Kind: KindDecode, Endpoint: path, Message: "The store sent an unexpected response.", Err: err}
		}
		return Content{Title: "Frequently asked questions", Entries: page.Results}, nil
	}
	var content Content
	// Some deployments wrap the page in a one-element list.
	var list []Content
	if err := env.Decode(&list); err == nil && len(list) > 0 {
		content = list[0]
	} else if err := decodeInto(path, env, &content); err != nil {
		return Content{}, err
	}
	return content, nil
}
