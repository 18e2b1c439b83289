// Package render turns extracted question sets into deliverable HTML and TXT files.
package render

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

var (
	reMathSpan = regexp.MustCompile(`(?is)<span[^>]*class\s*=\s*["']?math-tex["']?[^>]*>(.*?)</span>`)
	reFrac     = regexp.MustCompile(`\\[dt]?frac\s*\{([^{}]*)\}\s*\{([^{}]*)\}`)
	reSqrt     = regexp.MustCompile(`\\sqrt\s*\{([^{}]*)\}`)
	reText     = regexp.MustCompile(`\\(?:text|mathrm|mathbf)\s*\{([^{}]*)\}`)
	reSubGroup = regexp.MustCompile(`_\{([^{}]*)\}`)
	reSupGroup = regexp.MustCompile(`\^\{([^{}]*)\}`)
	reSup      = regexp.MustCompile(`(?i)<sup[^>]*>\s*([0-9+\-−=()]+)\s*</sup>`)
	reSub      = regexp.MustCompile(`(?i)<sub[^>]*>\s*([0-9+\-−=()]+)\s*</sub>`)
	reTag      = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9]*(?:\s[^<>]*)?/?>`)
	reSpace    = regexp.MustCompile(`\s+`)
)

// latexSymbols maps control sequences to plain equivalents. Longer names are
// applied first so that \geq is not consumed as \ge.
var latexSymbols = sortedByLength(map[string]string{
	`\times`: "x", `\div`: "÷", `\cdot`: "·", `\pm`: "±", `\mp`: "∓",
	`\geq`: ">=", `\ge`: ">=", `\leq`: "<=", `\le`: "<=", `\neq`: "!=", `\ne`: "!=",
	`\approx`: "≈", `\equiv`: "≡", `\infty`: "∞", `\degree`: "°", `^\circ`: "°", `\circ`: "°",
	`\angle`: "∠", `\triangle`: "△", `\therefore`: "∴", `\because`: "∵",
	`\rightarrow`: "→", `\Rightarrow`: "⇒", `\leftarrow`: "←", `\to`: "→",
	`\alpha`: "α", `\beta`: "β", `\gamma`: "γ", `\delta`: "δ", `\Delta`: "Δ",
	`\theta`: "θ", `\lambda`: "λ", `\mu`: "μ", `\pi`: "π", `\sigma`: "σ",
	`\Sigma`: "Σ", `\phi`: "φ", `\omega`: "ω", `\Omega`: "Ω", `\epsilon`: "ε",
	`\rho`: "ρ", `\tau`: "τ", `\sum`: "Σ", `\sqrt`: "√", `\%`: "%",
	`\left`: "", `\right`: "", `\,`: " ", `\;`: " ", `\quad`: " ", `\ `: " ",
})

type symbol struct{ from, to string }

func sortedByLength(m map[string]string) []symbol {
	out := make([]symbol, 0, len(m))
	for k, v := range m {
		out = append(out, symbol{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].from) != len(out[j].from) {
			return len(out[i].from) > len(out[j].from)
		}
		return out[i].from < out[j].from
	})
	return out
}

var (
	superscripts = strings.NewReplacer(
		"0", "⁰", "1", "¹", "2", "²", "3", "³", "4", "⁴", "5", "⁵", "6", "⁶", "7", "⁷", "8", "⁸", "9", "⁹",
		"+", "⁺", "-", "⁻", "−", "⁻", "=", "⁼", "(", "⁽", ")", "⁾",
	)
	subscripts = strings.NewReplacer(
		"0", "₀", "1", "₁", "2", "₂", "3", "₃", "4", "₄", "5", "₅", "6", "₆", "7", "₇", "8", "₈", "9", "₉",
		"+", "₊", "-", "₋", "−", "₋", "=", "₌", "(", "₍", ")", "₎",
	)
	nbsp = strings.NewReplacer("\u00a0", " ", "&nbsp;", " ", "&#160;", " ", `\u00a0`, " ", `\xa0`, " ")
)

// Text converts a rich-text fragment to a single line of plain text.
func Text(fragment string) string {
	if fragment == "" {
		return ""
	}
	// Twice, for payloads such as "&amp;sum;".
	s := html.UnescapeString(html.UnescapeString(fragment))
	s = reMathSpan.ReplaceAllStringFunc(s, func(m string) string {
		return Math(reMathSpan.FindStringSubmatch(m)[1])
	})
	s = reSup.ReplaceAllStringFunc(s, func(m string) string {
		return superscripts.Replace(reSup.FindStringSubmatch(m)[1])
	})
	s = reSub.ReplaceAllStringFunc(s, func(m string) string {
		return subscripts.Replace(reSub.FindStringSubmatch(m)[1])
	})
	s = reTag.ReplaceAllString(s, " ")
	s = nbsp.Replace(s)
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

// Math rewrites the inline LaTeX dialect found inside math-tex spans.
func Math(expr string) string {
	s := strings.NewReplacer(`\(`, "", `\)`, "", `\[`, "", `\]`, "").Replace(expr)
	s = reText.ReplaceAllString(s, "$1")
	// Innermost first; bounded for malformed input.
	for i := 0; i < 8; i++ {
		next := reFrac.ReplaceAllString(s, "($1 / $2)")
		next = reSqrt.ReplaceAllString(next, "√($1)")
		if next == s {
			break
		}
		s = next
	}
	s = reSubGroup.ReplaceAllString(s, "_$1")
	s = reSupGroup.ReplaceAllString(s, "^$1")
	for _, sym := range latexSymbols {
		s = strings.ReplaceAll(s, sym.from, sym.to)
	}
	return strings.NewReplacer("{", "", "}", "", `\`, "").Replace(s)
}
