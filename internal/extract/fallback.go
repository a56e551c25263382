package extract

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/rashidq/alpaca-signals/internal/signal"
	"github.com/rashidq/alpaca-signals/internal/textutil"
)

// num matches a price token; digit normalization runs first, but the
// Arabic ranges stay in so a stray unnormalized digit still matches.
const num = `([0-9\x{0660}-\x{0669}\x{06F0}-\x{06F9}.,\x{060C}]+)`

// Entry and stop vocabulary, English and Arabic. RE2's \b only understands
// ASCII word runes, so the Arabic alternatives sit outside the \b groups.
var (
	trigPrimary = regexp.MustCompile(`(?i)(?:بتجاوز|عند\s*تجاوز|تجاوز|دخول|شراء(?:\s*فوق|\s*عند)?|buy|entry|trigger|above|break(?:out)?|cross(?:es|ing)?)\s*[:=-]*\s*` + num)
	trigAbove   = regexp.MustCompile(`(?:>=|>|فوق)\s*` + num)
	trigBare    = regexp.MustCompile(`(?i)(?:شراء|buy|entry)\s*` + num)

	stopPrimary = regexp.MustCompile(`(?i)(?:وقف(?:\s*خسارة)?|إ?يقاف|ستوب|stop(?:\s*loss)?)\s*[:=-]*\s*` + num)
	stopSL      = regexp.MustCompile(`(?i)\bsl\b\s*[:=]?\s*` + num)

	targetHeading = regexp.MustCompile(`(?i)^(?:أهداف|اهداف|الاهداف)(?:\s|:|$)|^(?:targets|tps?)\b`)
	targetInline  = regexp.MustCompile(`(?i)(?:\b(?:tp\d*|t\d+)|هدف)\s*[:=]*\s*` + num)
	anyNumber     = regexp.MustCompile(num)
)

// FallbackStrategy is the deterministic regex/heuristic parser. It is the
// guarantee behind the AI path: pure, offline, and always available.
type FallbackStrategy struct{}

func (FallbackStrategy) Name() string { return "fallback" }

func (FallbackStrategy) TryExtract(_ context.Context, text string) (*Draft, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	norm := textutil.NormalizeDigits(text)

	ticker, tickerOK := textutil.DetectTicker(norm)

	trigger, trigOK := findNumber(norm, trigPrimary, trigAbove, trigBare)
	stop, stopOK := findNumber(norm, stopPrimary, stopSL)

	// Two bare numbers and a missing label: the bigger number is the
	// entry, the smaller the stop. Directionally right for long setups
	// only; a short setup with stop above trigger will be mis-assigned.
	if !trigOK || !stopOK {
		if nums := textutil.AllNumbers(norm); len(nums) >= 2 {
			hi := math.Max(nums[0], nums[1])
			lo := math.Min(nums[0], nums[1])
			if !trigOK {
				trigger, trigOK = hi, true
			}
			if !stopOK {
				stop, stopOK = lo, true
			}
		}
	}

	if !tickerOK || !trigOK || !stopOK {
		return nil, false
	}

	return &Draft{
		Ticker:        ticker,
		Trigger:       trigger,
		Stop:          stop,
		Side:          signal.SideBuy,
		ExtendedHours: true,
		Targets:       extractTargets(norm),
	}, true
}

func findNumber(text string, patterns ...*regexp.Regexp) (float64, bool) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(text); m != nil {
			if v, ok := textutil.ParseNumber(m[len(m)-1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// extractTargets merges a labeled block (heading line, then one number per
// line until a non-numeric line) with inline tp1:/t2=/هدف matches.
// Values equal after 4-decimal rounding are deduplicated; first-seen order
// is kept and the list caps at 5.
func extractTargets(text string) []float64 {
	var out []float64
	seen := map[float64]bool{}
	add := func(v float64) {
		key := math.Round(v*10000) / 10000
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}

	inBlock := false
	for _, line := range strings.Split(text, "\n") {
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}

		if !inBlock {
			if targetHeading.MatchString(l) {
				inBlock = true
				for _, tok := range anyNumber.FindAllString(l, -1) {
					if v, ok := textutil.ParseNumber(tok); ok {
						add(v)
					}
				}
				continue
			}
		} else {
			if v, ok := textutil.ParseNumber(l); ok {
				add(v)
				continue
			}
			break // first non-numeric line ends the block
		}

		for _, m := range targetInline.FindAllStringSubmatch(l, -1) {
			if v, ok := textutil.ParseNumber(m[len(m)-1]); ok {
				add(v)
			}
		}
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
