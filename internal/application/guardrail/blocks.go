package guardrail

import (
	"regexp"
	"strconv"
	"strings"
)

// Block 一条推荐：从 ADD 行起到下一条 ADD 之前
type Block struct {
	Start  int
	End    int
	Add    string
	Cut    string
	Copies int
}

const listPrefix = `^\s*(?:\d+[.)]\s*|[-•*]\s*)?`

var (
	addBracketPattern = regexp.MustCompile(`(?i)` + listPrefix + `ADD\s*(?:\+(\d+)\s*)?\[\[([^\]]+)\]\]`)
	addBarePattern    = regexp.MustCompile(`(?i)` + listPrefix + `ADD\s+([^/\n\[\]]+?)\s*/\s*CUT\s+([^\n\[\],]+?)\s*(?:,.*)?$`)
	cutBracketPattern = regexp.MustCompile(`(?i)CUT\s*\[\[([^\]]+)\]\]`)
)

// ParseBlocks 解析文本中的推荐块
func ParseBlocks(text string) []Block {
	lines := strings.Split(text, "\n")
	var blocks []Block

	for i := 0; i < len(lines); {
		line := lines[i]
		if m := addBracketPattern.FindStringSubmatch(line); m != nil {
			b := Block{Start: i, Add: BaseCardName(m[2]), Copies: 1}
			if m[1] != "" {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
					b.Copies = n
				}
			}
			if c := cutBracketPattern.FindStringSubmatch(line); c != nil {
				b.Cut = BaseCardName(c[1])
			}
			end := i + 1
			for end < len(lines) && !isAddLine(lines[end]) {
				if b.Cut == "" {
					if c := cutBracketPattern.FindStringSubmatch(lines[end]); c != nil {
						b.Cut = BaseCardName(c[1])
					}
				}
				end++
			}
			b.End = end
			blocks = append(blocks, b)
			i = end
			continue
		}
		if m := addBarePattern.FindStringSubmatch(line); m != nil {
			blocks = append(blocks, Block{
				Start:  i,
				End:    i + 1,
				Add:    BaseCardName(strings.TrimSpace(m[1])),
				Cut:    BaseCardName(strings.TrimSpace(m[2])),
				Copies: 1,
			})
		}
		i++
	}
	return blocks
}

func isAddLine(line string) bool {
	return addBracketPattern.MatchString(line) || addBarePattern.MatchString(line)
}
