package core

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// SEOStrategy inspects page markup for the basic search-engine tags
type SEOStrategy struct{}

func (SEOStrategy) Kind() CheckKind { return CheckKindSEO }

func (SEOStrategy) BodyLimit(cfg CheckConfig) int64 {
	sc, _ := cfg.(SEOConfig)
	return sc.bodyLimit()
}

func (SEOStrategy) Evaluate(probe *ProbeResponse, cfg CheckConfig) (CheckStatus, map[string]interface{}, error) {
	status := httpOutcome(probe, nil)
	m := inspectMarkup(probe.Body)
	details := map[string]interface{}{
		"title":                m.title,
		"has_title":            m.title != "",
		"meta_description":     m.description,
		"has_meta_description": m.description != "",
		"h1":                   m.h1,
		"has_h1":               m.h1 != "",
		"robots":               m.robots,
		"has_robots":           m.hasRobots,
	}
	return status, details, nil
}

type markupSummary struct {
	title       string
	description string
	h1          string
	robots      string
	hasRobots   bool
}

// inspectMarkup walks the token stream once. Truncated documents are fine:
// whatever was seen before the cut is reported.
func inspectMarkup(body []byte) markupSummary {
	var (
		m       markupSummary
		inTitle bool
		inH1    bool
		h1Done  bool
		h1Text  strings.Builder
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if inH1 && !h1Done {
				m.h1 = strings.TrimSpace(h1Text.String())
			}
			return m
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = m.title == ""
			case "h1":
				inH1 = !h1Done
			case "meta":
				name, content := metaAttrs(tok)
				switch name {
				case "description":
					if m.description == "" {
						m.description = content
					}
				case "robots":
					m.robots = content
					m.hasRobots = true
				}
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = false
			case "h1":
				if inH1 {
					m.h1 = strings.TrimSpace(h1Text.String())
					h1Done = true
					inH1 = false
				}
			}
		case html.TextToken:
			if inTitle {
				m.title += strings.TrimSpace(string(z.Text()))
			} else if inH1 {
				h1Text.Write(z.Text())
			}
		}
	}
}

func metaAttrs(tok html.Token) (name, content string) {
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "name":
			name = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	return name, content
}
