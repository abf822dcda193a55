// Package fetch implements the two-stage fetch pipeline: stage-one
// protocol-level HTTP fetch (requests.go) and stage-two headless-browser
// render (selenium.go), sharing per-host preflight (robots.go) and
// content-type-dispatched link extraction (this file).
package fetch

import (
	"encoding/xml"
	"strings"

	"golang.org/x/net/html"
)

// contentFamily is the tagged-variant discriminator link extraction
// dispatches on: a new MIME family is added by extending this type and
// the switch in extractLinks, not by growing a single do-everything
// parser.
type contentFamily int

const (
	familyHTML contentFamily = iota
	familyXML
	familyText
	familyBinary
)

func classifyContentType(ct string) contentFamily {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "html"):
		return familyHTML
	case strings.Contains(ct, "xml"):
		return familyXML
	case strings.HasPrefix(ct, "text/"):
		return familyText
	default:
		return familyBinary
	}
}

// extractLinks returns raw (un-normalized) href/src/action strings found
// in body, interpreted according to contentType.
func extractLinks(contentType string, body []byte) []string {
	switch classifyContentType(contentType) {
	case familyHTML:
		return extractHTMLLinks(body)
	case familyXML:
		return extractXMLLinks(body)
	case familyText:
		return extractTextLinks(body)
	default:
		return nil
	}
}

var linkAttrsByTag = map[string]string{
	"a":      "href",
	"area":   "href",
	"link":   "href",
	"script": "src",
	"img":    "src",
	"iframe": "src",
	"frame":  "src",
	"form":   "action",
}

func extractHTMLLinks(body []byte) []string {
	tok := html.NewTokenizer(strings.NewReader(string(body)))
	var out []string
	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tok.TagName()
			attrName, ok := linkAttrsByTag[string(name)]
			if !ok || !hasAttr {
				continue
			}
			for {
				key, val, more := tok.TagAttr()
				if string(key) == attrName {
					out = append(out, string(val))
				}
				if !more {
					break
				}
			}
		}
	}
}

// sitemapXML mirrors the handful of fields the sitemap protocol defines;
// a bespoke struct is the honest idiomatic choice for a schema this small
// and this fully specified.
type sitemapXML struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
	// sitemap index form
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

func extractXMLLinks(body []byte) []string {
	var sm sitemapXML
	if err := xml.Unmarshal(body, &sm); err != nil {
		return nil
	}
	out := make([]string, 0, len(sm.URLs)+len(sm.Sitemaps))
	for _, u := range sm.URLs {
		out = append(out, u.Loc)
	}
	for _, s := range sm.Sitemaps {
		out = append(out, s.Loc)
	}
	return out
}

func extractTextLinks(body []byte) []string {
	var out []string
	for _, word := range strings.Fields(string(body)) {
		if strings.HasPrefix(word, "http://") || strings.HasPrefix(word, "https://") {
			out = append(out, word)
		}
	}
	return out
}
