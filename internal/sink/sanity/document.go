package sanity

import (
	"encoding/json"
	"fmt"

	"wechat_sync/internal/domain"
)

// isoMillis matches the timestamp format Sanity Studio writes.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

type slug struct {
	Type    string `json:"_type"`
	Current string `json:"current"`
}

type reference struct {
	Type string `json:"_type"`
	Ref  string `json:"_ref"`
}

type span struct {
	Type  string   `json:"_type"`
	Key   string   `json:"_key"`
	Text  string   `json:"text"`
	Marks []string `json:"marks"`
}

type textBlock struct {
	Type     string            `json:"_type"`
	Key      string            `json:"_key"`
	Style    string            `json:"style"`
	Children []span            `json:"children"`
	MarkDefs []json.RawMessage `json:"markDefs"`
}

type imageBlock struct {
	Type  string    `json:"_type"`
	Key   string    `json:"_key"`
	Asset reference `json:"asset"`
	Alt   string    `json:"alt"`
}

type document struct {
	ID            string            `json:"_id"`
	Type          string            `json:"_type"`
	Title         string            `json:"title"`
	Slug          slug              `json:"slug"`
	Content       []json.RawMessage `json:"content"`
	Language      string            `json:"language"`
	PublishedAt   string            `json:"publishedAt"`
	Source        string            `json:"source"`
	WechatMediaID string            `json:"wechatMediaId"`
	WechatURL     string            `json:"wechatUrl"`
	Excerpt       string            `json:"excerpt"`
	Author        string            `json:"author"`
}

func encodePost(p *domain.Post) (*document, error) {
	doc := &document{
		ID:            p.ID,
		Type:          p.Type,
		Title:         p.Title,
		Slug:          slug{Type: "slug", Current: p.Slug},
		Content:       make([]json.RawMessage, 0, len(p.Blocks)),
		Language:      p.Language,
		PublishedAt:   p.PublishedAt.UTC().Format(isoMillis),
		Source:        p.Source,
		WechatMediaID: p.SourceMediaID,
		WechatURL:     p.SourceURL,
		Excerpt:       p.Excerpt,
		Author:        p.Author,
	}

	for _, b := range p.Blocks {
		var v any
		switch b.Kind {
		case domain.BlockImage:
			if b.Image == nil {
				return nil, fmt.Errorf("image block %s has no asset", b.Key)
			}
			v = imageBlock{
				Type:  "image",
				Key:   b.Key,
				Asset: reference{Type: "reference", Ref: b.Image.AssetID},
				Alt:   b.Alt,
			}
		default:
			children := make([]span, 0, len(b.Spans))
			for _, sp := range b.Spans {
				marks := make([]string, 0, len(sp.Marks))
				for _, m := range sp.Marks {
					marks = append(marks, string(m))
				}
				children = append(children, span{Type: "span", Key: sp.Key, Text: sp.Text, Marks: marks})
			}
			v = textBlock{
				Type:     "block",
				Key:      b.Key,
				Style:    b.Style,
				Children: children,
				MarkDefs: []json.RawMessage{},
			}
		}

		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal block %s: %w", b.Key, err)
		}
		doc.Content = append(doc.Content, raw)
	}

	return doc, nil
}
