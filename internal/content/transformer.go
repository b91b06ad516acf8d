// Package content converts article HTML into a sequence of typed blocks,
// re-hosting eligible images along the way.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"wechat_sync/internal/domain"
)

//go:generate mockgen -source=transformer.go -destination=mocks/mocks.go -package=mocks

// ImageResolver re-hosts a remote image. A nil asset or an error means the
// image stays an external reference.
type ImageResolver interface {
	Resolve(ctx context.Context, url string) (*domain.ImageAsset, error)
}

// AssetIDAttr marks an image element that was replaced by an image block.
const AssetIDAttr = "data-asset-id"

var tagPattern = regexp.MustCompile(`<[^>]*>`)

type Transformer struct {
	resolver  ImageResolver
	imageHost *regexp.Regexp
	newKey    func() string
	logger    *slog.Logger
}

// NewTransformer builds a Transformer. Only images whose source matches
// imageHostPattern are handed to resolver; resolver may be nil, in which case
// no image is re-hosted.
func NewTransformer(resolver ImageResolver, imageHostPattern string, logger *slog.Logger) (*Transformer, error) {
	re, err := regexp.Compile(imageHostPattern)
	if err != nil {
		return nil, fmt.Errorf("compile image host pattern: %w", err)
	}
	return &Transformer{
		resolver:  resolver,
		imageHost: re,
		newKey:    newKey,
		logger:    logger.With("component", "transformer"),
	}, nil
}

func newKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Transform converts one article body. Image blocks come first in extraction
// order, followed by text blocks in document order; the original interleaving
// of images and text is not kept. Markup that yields no block at all falls
// back to one plain block per non-empty line of text.
func (t *Transformer) Transform(ctx context.Context, src string) []domain.Block {
	tr, err := parseTree(src)
	if err != nil {
		t.logger.Warn("parse html failed, using plain text", "error", err)
		return t.fallback(tagPattern.ReplaceAllString(src, ""))
	}

	blocks := t.extractImages(ctx, tr)

	for _, c := range tr.children(bodyIndex) {
		n := tr.nodes[c]
		if n.kind != elementNode {
			continue
		}
		style, ok := blockStyle(n.tag)
		if !ok {
			continue
		}
		if strings.TrimSpace(tr.textContent(c)) == "" {
			continue
		}
		blocks = append(blocks, domain.Block{
			Key:   t.newKey(),
			Kind:  domain.BlockText,
			Style: style,
			Spans: t.spans(tr, c),
		})
	}

	if len(blocks) == 0 {
		t.logger.Debug("no structural blocks found, using plain text")
		return t.fallback(tr.textContent(bodyIndex))
	}
	return blocks
}

func blockStyle(tag string) (string, bool) {
	switch tag {
	case "p", "div", "section":
		return domain.StyleNormal, true
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return domain.HeadingStyle(int(tag[1] - '0')), true
	}
	return "", false
}

// extractImages resolves every eligible image once per distinct source URL
// and removes resolved images from the tree.
func (t *Transformer) extractImages(ctx context.Context, tr *tree) []domain.Block {
	if t.resolver == nil {
		return nil
	}

	var blocks []domain.Block
	resolved := make(map[string]*domain.ImageAsset)

	for _, img := range tr.elements(bodyIndex, "img") {
		src := tr.attr(img, "data-src")
		if src == "" {
			src = tr.attr(img, "src")
		}
		if src == "" || !t.imageHost.MatchString(src) {
			continue
		}

		asset, seen := resolved[src]
		if !seen {
			var err error
			asset, err = t.resolver.Resolve(ctx, src)
			if err != nil {
				t.logger.Warn("image upload failed, keeping external url", "url", src, "error", err)
				asset = nil
			}
			resolved[src] = asset
		}
		if asset == nil {
			continue
		}

		tr.setAttr(img, AssetIDAttr, asset.AssetID)
		tr.remove(img)

		blocks = append(blocks, domain.Block{
			Key:   t.newKey(),
			Kind:  domain.BlockImage,
			Image: asset,
			Alt:   tr.attr(img, "alt"),
		})
	}

	return blocks
}

func (t *Transformer) spans(tr *tree, el int) []domain.Span {
	var spans []domain.Span

	for _, c := range tr.children(el) {
		n := tr.nodes[c]
		switch n.kind {
		case textNode:
			if strings.TrimSpace(n.text) == "" {
				continue
			}
			spans = append(spans, domain.Span{Key: t.newKey(), Text: n.text, Marks: []domain.Mark{}})
		case elementNode:
			text := tr.textContent(c)
			if strings.TrimSpace(text) == "" {
				continue
			}
			spans = append(spans, domain.Span{Key: t.newKey(), Text: text, Marks: inlineMarks(n.tag)})
		}
	}

	if len(spans) == 0 {
		if text := strings.TrimSpace(tr.textContent(el)); text != "" {
			spans = append(spans, domain.Span{Key: t.newKey(), Text: text, Marks: []domain.Mark{}})
		}
	}
	return spans
}

func inlineMarks(tag string) []domain.Mark {
	switch tag {
	case "strong", "b":
		return []domain.Mark{domain.MarkStrong}
	case "em", "i":
		return []domain.Mark{domain.MarkEm}
	}
	return []domain.Mark{}
}

func (t *Transformer) fallback(text string) []domain.Block {
	var blocks []domain.Block
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		blocks = append(blocks, domain.Block{
			Key:   t.newKey(),
			Kind:  domain.BlockText,
			Style: domain.StyleNormal,
			Spans: []domain.Span{{Key: t.newKey(), Text: line, Marks: []domain.Mark{}}},
		})
	}
	return blocks
}
