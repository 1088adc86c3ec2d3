// Package detector recognizes anti-automation challenge pages.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Defaults cover the interstitials a search engine serves to suspected bots.
var (
	DefaultSignatures = []string{
		"captcha",
		"unusual traffic",
		"not a robot",
		"/sorry/index",
	}
	DefaultSelectors = []string{
		"#captcha-form",
		`form[action*="sorry"]`,
		"#recaptcha",
		".g-recaptcha",
	}
)

// Config lists the markers of a challenge page.
type Config struct {
	// Signatures are matched case-insensitively against the raw page.
	Signatures []string `mapstructure:"signatures" yaml:"signatures"`
	// Selectors are CSS selectors; any match marks the page as a challenge.
	Selectors []string `mapstructure:"selectors" yaml:"selectors"`
}

// Heuristic implements crawler.BlockDetector using simple HTML signals.
type Heuristic struct {
	signatures [][]byte
	selectors  []string
}

// NewHeuristic builds a detector. Nil lists fall back to the defaults; empty
// non-nil lists disable that check.
func NewHeuristic(cfg Config) *Heuristic {
	signatures := cfg.Signatures
	if signatures == nil {
		signatures = DefaultSignatures
	}
	selectors := cfg.Selectors
	if selectors == nil {
		selectors = DefaultSelectors
	}

	h := &Heuristic{}
	for _, sig := range signatures {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		h.signatures = append(h.signatures, bytes.ToLower([]byte(sig)))
	}
	for _, sel := range selectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			h.selectors = append(h.selectors, sel)
		}
	}
	return h
}

// Blocked reports whether body looks like a challenge page.
func (h *Heuristic) Blocked(body []byte) bool {
	if h == nil || len(body) == 0 {
		return false
	}
	return h.containsSignature(body) || h.matchesSelector(body)
}

func (h *Heuristic) containsSignature(body []byte) bool {
	if len(h.signatures) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, sig := range h.signatures {
		if bytes.Contains(lowerBody, sig) {
			return true
		}
	}
	return false
}

func (h *Heuristic) matchesSelector(body []byte) bool {
	if len(h.selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range h.selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
