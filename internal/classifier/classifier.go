// Package classifier separates genuine research content from look-alike
// noise: job postings, link-aggregator pages, and marketing copy.
//
// Every detector is precision-biased. A false negative costs one noisy record
// downstream; a false positive silently discards a real paper, which is much
// worse. The word-count gates encode that bias: short text cannot supply
// enough research-indicator evidence to earn protection, while long text with
// a reference section is expected to contain URLs.
package classifier

import (
	"regexp"
	"strings"
)

// Thresholds centralizes the numeric constants behind the noise heuristics so
// each can be unit-tested in isolation from the control flow.
type Thresholds struct {
	// DensityWordCeiling gates the URL-density check: only abstracts
	// shorter than this many words are eligible for density flagging.
	DensityWordCeiling int
	// URLDensityLimit flags short text whose URL-count/word-count ratio
	// exceeds this fraction.
	URLDensityLimit float64
	// ListURLMinimum and ListWordCeiling gate the list-format check: at
	// least this many URLs in fewer than this many words.
	ListURLMinimum  int
	ListWordCeiling int
	// ListMarkerMinimum is the number of line-leading bullet or numeral
	// markers that confirms aggregator formatting.
	ListMarkerMinimum int
	// MarketingPhraseMinimum is how many distinct marketing phrases flag
	// the text as advertising.
	MarketingPhraseMinimum int
	// ProtectIndicatorMinimum and ProtectWordMinimum define the research
	// protection override: text with at least this many research
	// indicators and at least this many words is never flagged as
	// aggregator or marketing.
	ProtectIndicatorMinimum int
	ProtectWordMinimum      int
}

// DefaultThresholds returns the tuned production values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DensityWordCeiling:      300,
		URLDensityLimit:         0.4,
		ListURLMinimum:          10,
		ListWordCeiling:         500,
		ListMarkerMinimum:       5,
		MarketingPhraseMinimum:  2,
		ProtectIndicatorMinimum: 3,
		ProtectWordMinimum:      150,
	}
}

// staticExclusions catch job postings, roundup pages, and overt advertising
// by phrase alone, regardless of length or structure.
var staticExclusions = []string{
	// Job postings and career pages.
	"job opening", "job opportunity", "career opportunity", "now hiring",
	"join our team", "we are hiring", "apply now", "position available",
	"careers at", "job posting", "employment opportunity", "vacancy",
	"job application", "submit resume", "submit cv",

	// Link aggregator phrasing.
	"weekly roundup", "daily roundup", "news roundup", "link roundup",
	"this week in", "latest links", "curated links", "recommended reading",

	// Marketing and advertising language.
	"buy now", "subscribe now", "sign up today", "free trial",
	"limited time offer", "special offer", "pricing plans",
	"request a demo", "schedule a demo", "contact sales",
	"product features", "why choose us", "our solutions",
}

// marketingPhrases are counted individually; several of them together mark
// advertising even when no static exclusion fires.
var marketingPhrases = []string{
	"free trial", "buy now", "sign up", "subscribe",
	"request demo", "contact sales", "pricing", "plans",
	"why choose", "our solution", "best-in-class",
	"industry-leading", "cutting-edge solution",
}

// researchIndicators are vocabulary that marks substantive research writing.
var researchIndicators = []string{
	"method", "experiment", "result", "conclusion", "analysis",
	"dataset", "model", "algorithm", "evaluation", "approach",
	"propose", "demonstrate", "show that", "find that", "performance",
	"accuracy", "training", "tested", "measured", "compared",
}

var (
	urlPattern        = regexp.MustCompile(`https?://|www\.|\[[^\]]*\]\([^)]*\)`)
	listMarkerPattern = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s`)
)

// Classifier is a stateless noise predicate. The zero value is not usable;
// construct with New.
type Classifier struct {
	thresholds Thresholds
}

// New builds a Classifier with the given thresholds.
func New(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Verdict explains a classification for diagnostics.
type Verdict struct {
	Noise  bool
	Reason string
}

// IsNoise reports whether the title/abstract pair is non-research content.
func (c *Classifier) IsNoise(title, abstract string) bool {
	return c.Classify(title, abstract).Noise
}

// Classify runs the three detectors in order: static exclusions, the
// link-aggregator heuristic, and the marketing heuristic. The research
// protection override is computed first, so protected text skips the two
// structural detectors entirely.
func (c *Classifier) Classify(title, abstract string) Verdict {
	content := strings.ToLower(title + " " + abstract)

	for _, term := range staticExclusions {
		if strings.Contains(content, term) {
			return Verdict{Noise: true, Reason: "exclusion phrase: " + term}
		}
	}

	if c.isProtected(content, abstract) {
		return Verdict{}
	}
	if reason := c.aggregatorReason(abstract); reason != "" {
		return Verdict{Noise: true, Reason: reason}
	}
	if c.isMarketing(content) {
		return Verdict{Noise: true, Reason: "marketing phrasing"}
	}
	return Verdict{}
}

// isProtected reports whether the text shows enough research substance to
// override the surface heuristics.
func (c *Classifier) isProtected(content, abstract string) bool {
	words := wordCount(abstract)
	if words < c.thresholds.ProtectWordMinimum {
		return false
	}
	indicators := 0
	for _, term := range researchIndicators {
		if strings.Contains(content, term) {
			indicators++
			if indicators >= c.thresholds.ProtectIndicatorMinimum {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) aggregatorReason(abstract string) string {
	if abstract == "" {
		return ""
	}
	urls := len(urlPattern.FindAllStringIndex(abstract, -1))
	if urls == 0 {
		return ""
	}
	words := wordCount(abstract)
	if words == 0 {
		return ""
	}

	if words < c.thresholds.DensityWordCeiling {
		if density := float64(urls) / float64(words); density > c.thresholds.URLDensityLimit {
			return "link aggregator: high url density"
		}
	}

	if urls >= c.thresholds.ListURLMinimum && words < c.thresholds.ListWordCeiling {
		markers := len(listMarkerPattern.FindAllStringIndex(abstract, -1))
		if markers >= c.thresholds.ListMarkerMinimum {
			return "link aggregator: list formatting"
		}
	}
	return ""
}

func (c *Classifier) isMarketing(content string) bool {
	count := 0
	for _, phrase := range marketingPhrases {
		if strings.Contains(content, phrase) {
			count++
			if count >= c.thresholds.MarketingPhraseMinimum {
				return true
			}
		}
	}
	return false
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
