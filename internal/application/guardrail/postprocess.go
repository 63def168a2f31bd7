package guardrail

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	chainStartPattern   = regexp.MustCompile(`(?i)^[•\-*]?\s*(?:Chain\s+[A-Z]\s*\(|Synergy:)`)
	chainBoundary       = regexp.MustCompile(`(?i)^(?:Step\s+\d|[•\-*]?\s*Chain\s+[A-Z]\s*\()`)
	fullChainPattern    = regexp.MustCompile(`→[^→]*→`)
	chainPayoffPattern  = regexp.MustCompile(`(?i)together\s+produce|advances\s+win|wins?\s+the\s+game|results?\s+in`)
	stepPattern         = regexp.MustCompile(`(?i)^Step\s+\d`)
	sentenceEnd         = regexp.MustCompile(`[.!?]["')\]]*\s*$`)
	shortListItem       = regexp.MustCompile(`^\d+\s+\w+$`)
	recommendationLine  = regexp.MustCompile(listPrefix + `(?:ADD|CUT)\b`)
	outroPattern        = regexp.MustCompile(`(?i)^\s*(?:let me know\b|i hope this helps|hope this helps|feel free to\b|happy brewing|good luck\b)`)
	bareAddCutPattern   = regexp.MustCompile(`(?im)(ADD)\s+([^/\n\[\]]+?)\s*/\s*(CUT)\s+([^\n\[\],]+?)\s*$`)
	innerBracketPattern = regexp.MustCompile(`\[\[\s*([^\[\]]*?)\s*\]\]`)
	multiBlankPattern   = regexp.MustCompile(`\n{3,}`)
)

// PostProcess 依次执行所有确定性后处理
func PostProcess(text string) string {
	out := StripIncompleteSynergyChains(text)
	out = TrimIncompleteTail(out)
	out = StripOutro(out)
	out = NormalizeBrackets(out)
	return strings.TrimSpace(out)
}

// StripIncompleteSynergyChains 删除被截断或缺少收束的协同链
func StripIncompleteSynergyChains(text string) string {
	lines := strings.Split(text, "\n")
	drop := make([]bool, len(lines))

	for i := 0; i < len(lines); {
		trimmed := strings.TrimSpace(lines[i])
		if !chainStartPattern.MatchString(trimmed) {
			i++
			continue
		}
		end := i + 1
		for end < len(lines) && !chainBoundary.MatchString(strings.TrimSpace(lines[end])) {
			end++
		}
		block := strings.Join(lines[i:end], "\n")
		complete := fullChainPattern.MatchString(block) && chainPayoffPattern.MatchString(block)
		tail := strings.TrimRight(block, " \t\n")
		truncated := strings.HasSuffix(tail, `"[`) || strings.HasSuffix(tail, "→") || strings.HasSuffix(tail, "[[")
		if !complete || truncated {
			for j := i; j < end; j++ {
				drop[j] = true
			}
		}
		i = end
	}
	return collapseBlankLines(joinKept(lines, drop))
}

// TrimIncompleteTail 去掉末尾未写完的句子；若末尾在某个 Step 内，整段去掉
func TrimIncompleteTail(text string) string {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return text
	}
	lines := strings.Split(trimmed, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if sentenceEnd.MatchString(last) ||
		shortListItem.MatchString(last) ||
		utf8.RuneCountInString(last) < 25 ||
		recommendationLine.MatchString(last) ||
		strings.HasSuffix(last, "]]") {
		return text
	}

	for i := len(lines) - 2; i >= 0; i-- {
		if stepPattern.MatchString(strings.TrimSpace(lines[i])) {
			if out := strings.TrimSpace(collapseBlankLines(strings.Join(lines[:i], "\n"))); out != "" {
				return out
			}
			return trimmed
		}
	}
	if out := strings.TrimSpace(collapseBlankLines(strings.Join(lines[:len(lines)-1], "\n"))); out != "" {
		return out
	}
	return trimmed
}

// StripOutro 去掉客套结尾
func StripOutro(text string) string {
	lines := strings.Split(text, "\n")
	drop := make([]bool, len(lines))
	for i, l := range lines {
		if outroPattern.MatchString(l) {
			drop[i] = true
		}
	}
	return collapseBlankLines(joinKept(lines, drop))
}

// NormalizeBrackets 统一卡名定界符
// "ADD X / CUT Y" → "ADD [[X]] / CUT [[Y]]"，"[[ x ]]" → "[[x]]"，不成对的 [[ 补全或删除
func NormalizeBrackets(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if !strings.Contains(l, "[[") {
			l = bareAddCutPattern.ReplaceAllStringFunc(l, func(m string) string {
				sm := bareAddCutPattern.FindStringSubmatch(m)
				return sm[1] + " [[" + strings.TrimSpace(sm[2]) + "]] / " + sm[3] + " [[" + strings.TrimSpace(sm[4]) + "]]"
			})
		}
		l = balanceBrackets(l)
		lines[i] = innerBracketPattern.ReplaceAllString(l, "[[$1]]")
	}
	return strings.Join(lines, "\n")
}

func balanceBrackets(line string) string {
	var b strings.Builder
	for line != "" {
		open := strings.Index(line, "[[")
		closing := strings.Index(line, "]]")
		if open < 0 && closing < 0 {
			b.WriteString(line)
			break
		}
		if closing >= 0 && (open < 0 || closing < open) {
			b.WriteString(line[:closing])
			line = line[closing+2:]
			continue
		}

		rest := line[open+2:]
		nextClose := strings.Index(rest, "]]")
		nextOpen := strings.Index(rest, "[[")
		if nextClose >= 0 && (nextOpen < 0 || nextClose < nextOpen) {
			b.WriteString(line[:open+2+nextClose+2])
			line = rest[nextClose+2:]
			continue
		}

		b.WriteString(line[:open])
		if nextOpen < 0 && nameLike(rest) {
			b.WriteString("[[" + strings.TrimSpace(rest) + "]]")
			break
		}
		line = rest
	}
	return b.String()
}

func nameLike(s string) bool {
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= 40 && !strings.ContainsAny(s, ".!?:")
}

func joinKept(lines []string, drop []bool) string {
	out := make([]string, 0, len(lines))
	for i, l := range lines {
		if !drop[i] {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func collapseBlankLines(s string) string {
	return multiBlankPattern.ReplaceAllString(s, "\n\n")
}
