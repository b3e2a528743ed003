// Package sanitizer rewrites hostile spans out of content before it
// reaches a downstream model. Replacement aggressiveness is selected by
// mode; every change is recorded against the pre-sanitisation body.
package sanitizer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ipishield/ipishield/internal/detector"
)

// Mode selects replacement aggressiveness.
type Mode string

const (
	ModeStrict     Mode = "STRICT"
	ModeBalanced   Mode = "BALANCED"
	ModePermissive Mode = "PERMISSIVE"
)

// ParseMode resolves a case-insensitive mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRICT":
		return ModeStrict, nil
	case "BALANCED", "":
		return ModeBalanced, nil
	case "PERMISSIVE":
		return ModePermissive, nil
	}
	return "", fmt.Errorf("unknown sanitization mode %q", s)
}

// Modification actions.
const (
	ActionFiltered     = "filtered"
	ActionRemoved      = "removed"
	ActionBlocked      = "blocked"
	ActionCustomFilter = "custom_filter"
)

// ModificationRecord captures one replacement. Offsets index the
// pre-sanitisation body; applying records in descending start order
// reproduces the sanitised body.
type ModificationRecord struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Action      string `json:"action"`
	Reason      string `json:"reason"`
}

// Result is the sanitisation outcome.
type Result struct {
	SanitizedBody string               `json:"sanitized_body"`
	Modifications []ModificationRecord `json:"modifications"`
	Warnings      []string             `json:"warnings"`
}

// rule is one built-in replacement. Tag is the BALANCED replacement;
// STRICT always substitutes "[BLOCKED]".
type rule struct {
	id     string
	re     *regexp.Regexp
	tag    string
	reason string
}

// rules covers the full attack corpus so a strict pass leaves no
// recognisable pattern behind. The first eight carry descriptive tags;
// the rest are the detector's own regexes, so anything the detector can
// flag the sanitiser can rewrite.
var rules = buildRules()

var familyReasons = map[detector.Family]string{
	detector.FamilyJailbreak:           "jailbreak attempt",
	detector.FamilyRoleOverride:        "role change attempt",
	detector.FamilyInstructionHijack:   "instruction override attempt",
	detector.FamilySystemPromptLeak:    "system prompt leak attempt",
	detector.FamilyEncodedPayload:      "encoded payload",
	detector.FamilyContextManipulation: "context manipulation",
}

func buildRules() []rule {
	rs := []rule{
		{"ignore_previous", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?previous\s+instructions?`), "[FILTERED: instruction override attempt]", "instruction override attempt"},
		{"disregard", regexp.MustCompile(`(?i)disregard\s+(?:the\s+)?(?:above|safety|rules?)`), "[FILTERED: safety bypass attempt]", "safety bypass attempt"},
		{"jailbreak", regexp.MustCompile(`(?i)\bjailbreak\b`), "[FILTERED]", "jailbreak attempt"},
		{"dan_mode", regexp.MustCompile(`(?i)\bDAN\s?mode\b`), "[FILTERED]", "jailbreak attempt"},
		{"forget_everything", regexp.MustCompile(`(?i)forget\s+everything`), "[FILTERED: memory manipulation]", "memory manipulation"},
		{"you_are_now", regexp.MustCompile(`(?i)you\s+are\s+now`), "[FILTERED: role change attempt]", "role change attempt"},
		{"system_override", regexp.MustCompile(`(?i)system\s?:\s?override`), "[FILTERED: system override]", "system override"},
		{"admin_prefix", regexp.MustCompile(`(?i)admin\s?:\s?`), "[FILTERED: admin impersonation]", "admin impersonation"},
	}
	for _, p := range detector.Corpus() {
		rs = append(rs, rule{p.ID, p.Regex, "[FILTERED]", familyReasons[p.Family]})
	}
	return rs
}

// protectedRe marks replacement tags already present in the body. Matches
// inside a tag are skipped, which is what makes sanitisation idempotent.
var protectedRe = regexp.MustCompile(`\[(?:FILTERED(?::[^\]]*)?|BLOCKED|REMOVED|CUSTOM_FILTER)\]`)

// Sanitizer applies the replacement rules. Stateless and safe for
// concurrent use; the rule set is immutable after startup.
type Sanitizer struct{}

// New creates a Sanitizer.
func New() *Sanitizer {
	return &Sanitizer{}
}

type span struct {
	start, end int
	repl       string
	action     string
	reason     string
}

// Sanitize rewrites the body according to mode. Custom patterns apply
// after the built-in set with the fixed tag "[CUSTOM_FILTER]"; invalid
// custom regexes produce a warning, never an error.
func (s *Sanitizer) Sanitize(body string, mode Mode, customPatterns []string, preserveSemantics bool) Result {
	res := Result{
		SanitizedBody: body,
		Modifications: []ModificationRecord{},
		Warnings:      []string{},
	}

	if mode == ModePermissive {
		res.Warnings = append(res.Warnings,
			"permissive mode: content passed through without modification")
		return res
	}

	protected := protectedRe.FindAllStringIndex(body, -1)
	var spans []span

	for _, r := range rules {
		repl := r.tag
		action := ActionFiltered
		switch {
		case mode == ModeStrict:
			repl = "[BLOCKED]"
			action = ActionBlocked
		case !preserveSemantics:
			repl = "[REMOVED]"
			action = ActionRemoved
		}
		for _, loc := range r.re.FindAllStringIndex(body, -1) {
			if overlapsAny(loc[0], loc[1], protected) {
				continue
			}
			spans = append(spans, span{loc[0], loc[1], repl, action, r.reason})
		}
	}

	for _, p := range customPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("invalid custom pattern skipped: %s", p))
			continue
		}
		for _, loc := range re.FindAllStringIndex(body, -1) {
			if loc[0] == loc[1] || overlapsAny(loc[0], loc[1], protected) {
				continue
			}
			spans = append(spans, span{loc[0], loc[1], "[CUSTOM_FILTER]", ActionCustomFilter, "matched custom pattern"})
		}
	}

	if len(spans) == 0 {
		return res
	}

	// Resolve overlaps ascending (built-in rules win ties by collection
	// order), then substitute descending so earlier offsets stay valid.
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	accepted := spans[:0]
	lastEnd := -1
	for _, sp := range spans {
		if sp.start < lastEnd {
			continue
		}
		accepted = append(accepted, sp)
		lastEnd = sp.end
	}

	sanitized := body
	for i := len(accepted) - 1; i >= 0; i-- {
		sp := accepted[i]
		sanitized = sanitized[:sp.start] + sp.repl + sanitized[sp.end:]
	}

	for _, sp := range accepted {
		res.Modifications = append(res.Modifications, ModificationRecord{
			Original:    body[sp.start:sp.end],
			Replacement: sp.repl,
			Start:       sp.start,
			End:         sp.end,
			Action:      sp.action,
			Reason:      sp.reason,
		})
	}
	res.SanitizedBody = sanitized
	return res
}

func overlapsAny(start, end int, ranges [][]int) bool {
	for _, r := range ranges {
		if start < r[1] && end > r[0] {
			return true
		}
	}
	return false
}

// escapeReplacer neutralises structural tokens that commonly delimit
// prompts in LLM templates.
var escapeReplacer = strings.NewReplacer(
	"\n", "\\n",
	"\r", "\\r",
	"```", "'''",
	"<|", "< |",
	"|>", "| >",
)

// EscapeLLMTriggers replaces newline, carriage-return, code-fence and
// special-token delimiters with inert look-alikes. Not applied
// automatically; callers opt in per field.
func EscapeLLMTriggers(t string) string {
	return escapeReplacer.Replace(t)
}
