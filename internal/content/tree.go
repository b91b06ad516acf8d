package content

import (
	"strings"

	"golang.org/x/net/html"
)

type nodeKind uint8

const (
	textNode nodeKind = iota
	elementNode
)

// node is one entry of a tree. Relations are indices into tree.nodes, so the
// structure holds no pointers back to parents.
type node struct {
	kind     nodeKind
	tag      string
	text     string
	attrs    map[string]string
	parent   int
	children []int
	removed  bool
}

// tree is a flattened copy of a parsed HTML document restricted to its body.
// Index 0 is the body element.
type tree struct {
	nodes []node
}

const bodyIndex = 0

// parseTree parses src as an HTML fragment placed in a body element.
func parseTree(src string) (*tree, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}

	body := findBody(doc)
	t := &tree{}
	t.nodes = append(t.nodes, node{kind: elementNode, tag: "body", parent: -1})
	if body != nil {
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			t.copyNode(c, bodyIndex)
		}
	}
	return t, nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func (t *tree) copyNode(n *html.Node, parent int) {
	var nd node
	switch n.Type {
	case html.TextNode:
		nd = node{kind: textNode, text: n.Data, parent: parent}
	case html.ElementNode:
		nd = node{kind: elementNode, tag: strings.ToLower(n.Data), parent: parent}
		if len(n.Attr) > 0 {
			nd.attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				nd.attrs[strings.ToLower(a.Key)] = a.Val
			}
		}
	default:
		return
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, nd)
	t.nodes[parent].children = append(t.nodes[parent].children, idx)

	if n.Type == html.ElementNode {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			t.copyNode(c, idx)
		}
	}
}

func (t *tree) attr(i int, key string) string {
	return t.nodes[i].attrs[key]
}

func (t *tree) setAttr(i int, key, val string) {
	if t.nodes[i].attrs == nil {
		t.nodes[i].attrs = make(map[string]string)
	}
	t.nodes[i].attrs[key] = val
}

// remove detaches node i; it is skipped by every later traversal.
func (t *tree) remove(i int) {
	t.nodes[i].removed = true
}

// children returns the live children of node i in document order.
func (t *tree) children(i int) []int {
	var out []int
	for _, c := range t.nodes[i].children {
		if !t.nodes[c].removed {
			out = append(out, c)
		}
	}
	return out
}

// elements returns the live descendants of root with the given tag, in
// document order.
func (t *tree) elements(root int, tag string) []int {
	var out []int
	var walk func(int)
	walk = func(i int) {
		for _, c := range t.children(i) {
			if t.nodes[c].kind == elementNode {
				if t.nodes[c].tag == tag {
					out = append(out, c)
				}
				walk(c)
			}
		}
	}
	walk(root)
	return out
}

// textContent concatenates the text of all live descendants of node i.
func (t *tree) textContent(i int) string {
	if t.nodes[i].kind == textNode {
		return t.nodes[i].text
	}
	var sb strings.Builder
	var walk func(int)
	walk = func(j int) {
		for _, c := range t.children(j) {
			if t.nodes[c].kind == textNode {
				sb.WriteString(t.nodes[c].text)
			} else {
				walk(c)
			}
		}
	}
	walk(i)
	return sb.String()
}
