package guardrail

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	setSuffixPattern = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	stripPunct       = strings.NewReplacer(
		".", "", ",", "", ";", "", ":", "", "'", "", "\"", "", "!", "", "?", "",
		"(", "", ")", "", "[", "", "]", "", "{", "", "}", "", "’", "",
	)
)

// NormalizeName 卡名比较键：小写、去变音符号、去标点与空白
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}
	folded = stripPunct.Replace(folded)
	return strings.Join(strings.Fields(folded), "")
}

// BaseCardName 去掉结尾的 " (set)" 之类标注
func BaseCardName(name string) string {
	return strings.TrimSpace(setSuffixPattern.ReplaceAllString(name, ""))
}

var basicLands = map[string]bool{
	"plains": true, "island": true, "swamp": true, "mountain": true, "forest": true, "wastes": true,
	"snow-coveredplains": true, "snow-coveredisland": true, "snow-coveredswamp": true,
	"snow-coveredmountain": true, "snow-coveredforest": true, "snow-coveredwastes": true,
}

// IsBasicLand 基本地不受张数上限约束
func IsBasicLand(name string) bool {
	return basicLands[NormalizeName(name)]
}
