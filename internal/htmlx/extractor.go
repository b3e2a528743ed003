// Package htmlx recovers analysable text from HTML payloads. Beyond the
// visible text it surfaces what an attacker hides from the human reader:
// invisible elements, suspicious scripts, base64 blobs and alt-text, all
// folded into the detector's input.
package htmlx

import (
	"encoding/base64"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// hiddenStylePatterns match inline styles that remove an element from
// human view while keeping its text in the document.
var hiddenStylePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"display_none", regexp.MustCompile(`(?i)display\s*:\s*none`)},
	{"visibility_hidden", regexp.MustCompile(`(?i)visibility\s*:\s*hidden`)},
	{"zero_opacity", regexp.MustCompile(`(?i)opacity\s*:\s*0(?:\s|;|$)`)},
	{"zero_height", regexp.MustCompile(`(?i)height\s*:\s*0`)},
	{"zero_width", regexp.MustCompile(`(?i)width\s*:\s*0`)},
	{"zero_font", regexp.MustCompile(`(?i)font-size\s*:\s*0`)},
	{"transparent_color", regexp.MustCompile(`(?i)color\s*:\s*(?:transparent|rgba\([^)]*?,\s*0\s*\))`)},
	{"offscreen_position", regexp.MustCompile(`(?i)position\s*:\s*absolute.*?(?:left|top)\s*:\s*-\d+`)},
}

var hiddenClassRe = regexp.MustCompile(`(?i)hidden|invisible|sr-only`)

var suspiciousScriptPatterns = []string{
	`eval\s*\(`,
	`document\.write`,
	`innerHTML\s*=`,
	`outerHTML\s*=`,
	`\.src\s*=`,
	`atob\s*\(`,
	`btoa\s*\(`,
	`fromCharCode`,
	`\\x[0-9a-fA-F]{2}`,
	`\\u[0-9a-fA-F]{4}`,
}

var suspiciousScriptRes = compileAll(suspiciousScriptPatterns)

// injectionIndicators is the high-severity scan shared with the payload
// detector: patterns whose presence in page text or alt text is itself an
// injection signal.
var injectionIndicators = []struct {
	id       string
	re       *regexp.Regexp
	severity string
}{
	{"ignore_previous", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?previous`), "medium"},
	{"disregard_above", regexp.MustCompile(`(?i)disregard\s+(?:the\s+)?above`), "medium"},
	{"new_instructions", regexp.MustCompile(`(?i)new\s+instructions?`), "medium"},
	{"system_role", regexp.MustCompile(`(?i)system\s*:\s*`), "medium"},
	{"assistant_role", regexp.MustCompile(`(?i)assistant\s*:\s*`), "medium"},
	{"user_role", regexp.MustCompile(`(?i)user\s*:\s*`), "medium"},
	{"override_safety", regexp.MustCompile(`(?i)override\s+(?:safety|security)`), "high"},
	{"jailbreak", regexp.MustCompile(`(?i)jailbreak`), "high"},
	{"dan_mode", regexp.MustCompile(`(?i)DAN\s+mode`), "high"},
}

var base64Re = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)

func compileAll(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(`(?i)` + p)
	}
	return res
}

// HiddenContent records one element hidden from human view.
type HiddenContent struct {
	Tag          string `json:"tag"`
	Text         string `json:"text"` // first 100 chars
	HidingMethod string `json:"hiding_method"`
}

// SuspiciousScript records a script containing a dangerous construct.
type SuspiciousScript struct {
	Snippet       string   `json:"snippet"` // first 200 chars
	PatternsFound []string `json:"patterns_found"`
}

// Base64Payload records one harvested base64 blob.
type Base64Payload struct {
	Preview        string `json:"preview"`
	Length         int    `json:"length"`
	DecodedPreview string `json:"decoded_preview"`
}

// InjectionIndicator is one injection-pattern hit in page or alt text.
type InjectionIndicator struct {
	PatternID   string `json:"pattern_id"`
	MatchedText string `json:"matched_text"`
	Position    int    `json:"position"`
	Severity    string `json:"severity"` // "medium" or "high"
}

// Extraction is the HTML extraction report. VisibleText includes hidden
// element text so downstream scoring always sees it.
type Extraction struct {
	VisibleText          string               `json:"visible_text"`
	Title                string               `json:"title,omitempty"`
	AltTexts             []string             `json:"alt_texts"`
	HasHiddenElements    bool                 `json:"has_hidden_elements"`
	HiddenContent        []HiddenContent      `json:"hidden_content"`
	HasSuspiciousScripts bool                 `json:"has_suspicious_scripts"`
	SuspiciousScripts    []SuspiciousScript   `json:"suspicious_scripts"`
	Base64Payloads       []Base64Payload      `json:"base64_payloads"`
	InjectionIndicators  []InjectionIndicator `json:"injection_indicators"`
}

// Extractor is the HTML content extraction engine. Stateless and safe for
// concurrent use.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses the HTML and produces an Extraction. Malformed input
// never fails: the parser recovers what it can.
func (e *Extractor) Extract(htmlContent string) Extraction {
	var ext Extraction

	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		// html.Parse only errors on reader failure; fall back to a crude
		// tag strip so something is always analysable.
		ext.VisibleText = stripTags(htmlContent)
	} else {
		e.walk(root, &ext, false)
		ext.VisibleText = collapseSpaces(ext.VisibleText)
	}

	// Fold hidden element text into the body so the detector sees it.
	for _, h := range ext.HiddenContent {
		if h.Text != "" && !strings.Contains(ext.VisibleText, h.Text) {
			ext.VisibleText = strings.TrimSpace(ext.VisibleText + " " + h.Text)
		}
	}

	ext.Base64Payloads = harvestBase64(htmlContent)

	scanTarget := ext.VisibleText + " " + strings.Join(ext.AltTexts, " ")
	ext.InjectionIndicators = ScanIndicators(scanTarget)

	return ext
}

// walk recurses the node tree accumulating visible text, alt texts,
// hidden elements and script analysis.
func (e *Extractor) walk(n *html.Node, ext *Extraction, inHidden bool) {
	switch n.Type {
	case html.ElementNode:
		switch n.Data {
		case "script":
			e.inspectScript(n, ext)
			return
		case "style", "noscript":
			return
		case "title":
			if t := nodeText(n); ext.Title == "" {
				ext.Title = t
			}
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				ext.AltTexts = append(ext.AltTexts, alt)
			}
		}

		if method, hidden := hiddenBy(n); hidden && !inHidden {
			text := nodeText(n)
			if text != "" {
				ext.HasHiddenElements = true
				ext.HiddenContent = append(ext.HiddenContent, HiddenContent{
					Tag:          n.Data,
					Text:         firstN(text, 100),
					HidingMethod: method,
				})
			}
			inHidden = true
		}

	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			ext.VisibleText += t + " "
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c, ext, inHidden)
	}
}

func (e *Extractor) inspectScript(n *html.Node, ext *Extraction) {
	script := nodeText(n)
	var found []string
	for i, re := range suspiciousScriptRes {
		if re.MatchString(script) {
			found = append(found, suspiciousScriptPatterns[i])
		}
	}
	if len(found) > 0 {
		ext.HasSuspiciousScripts = true
		ext.SuspiciousScripts = append(ext.SuspiciousScripts, SuspiciousScript{
			Snippet:       firstN(script, 200),
			PatternsFound: found,
		})
	}
}

// hiddenBy reports whether an element is hidden and by which method.
func hiddenBy(n *html.Node) (string, bool) {
	if style := attr(n, "style"); style != "" {
		for _, hp := range hiddenStylePatterns {
			if hp.re.MatchString(style) {
				return hp.name, true
			}
		}
	}
	if class := attr(n, "class"); class != "" && hiddenClassRe.MatchString(class) {
		return "class_based", true
	}
	return "", false
}

// ScanIndicators runs the injection-indicator corpus over text. Shared
// with the payload detector's high-severity list.
func ScanIndicators(text string) []InjectionIndicator {
	var found []InjectionIndicator
	for _, ind := range injectionIndicators {
		for _, loc := range ind.re.FindAllStringIndex(text, -1) {
			found = append(found, InjectionIndicator{
				PatternID:   ind.id,
				MatchedText: text[loc[0]:loc[1]],
				Position:    loc[0],
				Severity:    ind.severity,
			})
		}
	}
	return found
}

// harvestBase64 collects up to five distinct base64 blobs with decoded
// previews.
func harvestBase64(content string) []Base64Payload {
	var payloads []Base64Payload
	seen := make(map[string]bool)

	for _, match := range base64Re.FindAllString(content, -1) {
		if seen[match] {
			continue
		}
		seen[match] = true

		payloads = append(payloads, Base64Payload{
			Preview:        firstN(match, 50),
			Length:         len(match),
			DecodedPreview: safeDecodeBase64(match),
		})
		if len(payloads) == 5 {
			break
		}
	}
	return payloads
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func safeDecodeBase64(encoded string) string {
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "[unable to decode]"
	}
	return firstN(strings.ToValidUTF8(string(decoded), "�"), 100)
}

// StripDangerousElements removes scripts, inline event handlers and
// javascript: links from HTML. Used when sanitised HTML must be returned
// to a caller rather than analysed.
func StripDangerousElements(htmlContent string) string {
	cleaned := scriptTagRe.ReplaceAllString(htmlContent, "")
	cleaned = eventHandlerRe.ReplaceAllString(cleaned, "")
	cleaned = jsHrefRe.ReplaceAllString(cleaned, `href="#"`)
	return cleaned
}

var (
	scriptTagRe    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	eventHandlerRe = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*["'][^"']*["']`)
	jsHrefRe       = regexp.MustCompile(`(?i)href\s*=\s*["']javascript:[^"']*["']`)
)

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(m *html.Node) {
		if m.Type == html.TextNode {
			sb.WriteString(m.Data)
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.TrimSpace(collapseSpaces(sb.String()))
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

var spacesRe = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return collapseSpaces(tagRe.ReplaceAllString(s, " "))
}
