package domain

import (
	"fmt"
	"time"
)

const (
	PostType     = "post"
	PostLanguage = "zh"
	PostSource   = "wechat"

	DefaultAuthor = "WeChat"
)

type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

const StyleNormal = "normal"

// HeadingStyle returns the style tag for heading level n (1-6).
func HeadingStyle(n int) string {
	return fmt.Sprintf("h%d", n)
}

type Mark string

const (
	MarkStrong Mark = "strong"
	MarkEm     Mark = "em"
)

type Span struct {
	Key   string `json:"key" bson:"key"`
	Text  string `json:"text" bson:"text"`
	Marks []Mark `json:"marks" bson:"marks"`
}

// Block is one structural unit of a converted document. Text blocks carry
// Style and Spans, image blocks carry Image and Alt.
type Block struct {
	Key   string      `json:"key" bson:"key"`
	Kind  BlockKind   `json:"kind" bson:"kind"`
	Style string      `json:"style,omitempty" bson:"style,omitempty"`
	Spans []Span      `json:"spans,omitempty" bson:"spans,omitempty"`
	Image *ImageAsset `json:"image,omitempty" bson:"image,omitempty"`
	Alt   string      `json:"alt,omitempty" bson:"alt,omitempty"`
}

// ImageAsset is a remote image re-hosted in the asset store.
type ImageAsset struct {
	SourceURL   string `json:"sourceUrl" bson:"source_url"`
	AssetID     string `json:"assetId" bson:"asset_id"`
	URL         string `json:"url" bson:"url"`
	ContentType string `json:"contentType" bson:"content_type"`
}

// Post is the document written to the content store.
type Post struct {
	ID            string
	Type          string
	Title         string
	Slug          string
	Blocks        []Block
	Language      string
	PublishedAt   time.Time
	Source        string
	SourceMediaID string
	SourceURL     string
	Excerpt       string
	Author        string
}

// PostID derives the document id for a source media id.
func PostID(mediaID string) string {
	return "wx-" + mediaID
}
