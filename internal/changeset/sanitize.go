package changeset

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	mdParser = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
	strictPolicy = bluemonday.StrictPolicy()
)

var safeLinkSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"mailto": true,
	"ipfs":   true,
}

// StripMarkup removes every HTML tag from s while keeping plain text, so
// "Tom & Jerry" survives unchanged. Unescaping can expose new tags
// ("&lt;b&gt;"), so it repeats until the text stops changing; the result is
// a fixed point and stripping it again is a no-op.
func StripMarkup(s string) string {
	s = strings.TrimSpace(s)
	for {
		out := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
		if out == s || len(out) >= len(s) {
			return out
		}
		s = out
	}
}

// CheckWebURL accepts absolute http(s) URLs only.
func CheckWebURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// CheckMarkdown parses source and rejects links or images whose destination
// uses a scheme a browser would execute.
func CheckMarkdown(source string) error {
	src := []byte(source)
	doc := mdParser.Parser().Parse(text.NewReader(src))

	var bad string
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		var dest string
		switch node := n.(type) {
		case *ast.Link:
			dest = string(node.Destination)
		case *ast.Image:
			dest = string(node.Destination)
		case *ast.AutoLink:
			dest = string(node.URL(src))
		default:
			return ast.WalkContinue, nil
		}
		if !safeDestination(dest) {
			bad = dest
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return fmt.Errorf("unreadable markdown: %v", err)
	}
	if bad != "" {
		return fmt.Errorf("link %q uses a disallowed scheme", bad)
	}
	return nil
}

func safeDestination(dest string) bool {
	dest = strings.TrimSpace(dest)
	if dest == "" || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/") {
		return true
	}
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		// relative reference; reject anything that still looks like a scheme
		return !strings.Contains(strings.SplitN(dest, "/", 2)[0], ":")
	}
	return safeLinkSchemes[strings.ToLower(u.Scheme)]
}
