// Package chunker 文本切分器
//
// 把抽取出的原始文本切成有界、带位置元数据的片段：
// 先按空行切段落，段落超长再按句子边界打包，
// 同一段落内相邻片段之间携带重叠字符以保留跨界上下文。
package chunker

import (
	"strings"
	"unicode"
)

// 默认切分参数
const (
	DefaultMaxLength = 1000
	DefaultOverlap   = 200
)

// Options 切分配置
type Options struct {
	MaxLength int // 单片段最大字符数
	Overlap   int // 相邻片段重叠字符数
}

// Piece 切分产出的文本片段
//
// Overlap 是片段开头从上一片段携带过来的字符数，
// 拼接时去掉该前缀即可无损还原段落文本。
type Piece struct {
	Text    string
	Index   int // 0 起始，摄取顺序
	Total   int
	Start   int // 在归一化文本中的起始位置
	End     int
	Overlap int
}

// Size 片段字符数
func (p Piece) Size() int {
	return len(p.Text)
}

// Split 切分文本。空白输入返回 nil。
func Split(text string, opts Options) []Piece {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.MaxLength {
		opts.Overlap = DefaultOverlap
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var pieces []Piece
	pos := 0
	for _, para := range splitParagraphs(trimmed) {
		if len(para) <= opts.MaxLength {
			pieces = append(pieces, Piece{Text: para, Start: pos, End: pos + len(para)})
			pos += len(para) + 2 // 段落间的空行
			continue
		}
		paraPieces, next := packSentences(para, pos, opts)
		pieces = append(pieces, paraPieces...)
		pos = next + 2
	}

	for i := range pieces {
		pieces[i].Index = i
		pieces[i].Total = len(pieces)
	}
	return pieces
}

// packSentences 把超长段落按句子打包成片段，片段间携带重叠
func packSentences(para string, pos int, opts Options) ([]Piece, int) {
	sentences := splitSentences(para)

	var pieces []Piece
	var cur strings.Builder
	curStart := pos
	curOverlap := 0

	flush := func() {
		text := cur.String()
		pieces = append(pieces, Piece{
			Text:    text,
			Start:   curStart,
			End:     curStart + len(text),
			Overlap: curOverlap,
		})
		tail := overlapTail(text, opts.Overlap)
		curStart = curStart + len(text) - len(tail)
		curOverlap = len(tail)
		cur.Reset()
		cur.WriteString(tail)
	}

	for _, s := range sentences {
		if cur.Len() > curOverlap && cur.Len()+1+len(s) > opts.MaxLength {
			flush()
			// 重叠前缀挤占空间导致放不下时丢弃前缀，保证片段能继续推进
			if cur.Len()+1+len(s) > opts.MaxLength {
				curStart += cur.Len()
				curOverlap = 0
				cur.Reset()
			}
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
	}
	if cur.Len() > curOverlap {
		flush()
	}

	end := pos
	if len(pieces) > 0 {
		end = pieces[len(pieces)-1].End
	}
	return pieces, end
}

// splitParagraphs 按空行切分段落，去除首尾空白并丢弃空段
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var paragraphs []string
	for _, p := range strings.Split(normalized, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitSentences 按终结符（.?!）后跟空白的位置切分句子。
// 无法再切的超长句子整句保留，不做截断。
func splitSentences(para string) []string {
	var sentences []string
	runes := []rune(para)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '.' || r == '?' || r == '!') &&
			(i == len(runes)-1 || unicode.IsSpace(runes[i+1])) {
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// overlapTail 返回文本末尾最多 n 个字符，对齐到 UTF-8 边界
func overlapTail(text string, n int) string {
	if n <= 0 || len(text) <= n {
		if n <= 0 {
			return ""
		}
		return text
	}
	cut := len(text) - n
	for cut < len(text) && !utf8Start(text[cut]) {
		cut++
	}
	return text[cut:]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
