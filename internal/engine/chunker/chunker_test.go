package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplit_Empty(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		if got := Split(input, Options{}); got != nil {
			t.Errorf("Split(%q) = %d pieces, want nil", input, len(got))
		}
	}
}

func TestSplit_ShortParagraphVerbatim(t *testing.T) {
	text := "  A short paragraph that fits in one chunk.  "
	pieces := Split(text, Options{MaxLength: 1000, Overlap: 200})

	if len(pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(pieces))
	}
	p := pieces[0]
	if p.Text != "A short paragraph that fits in one chunk." {
		t.Errorf("piece text = %q", p.Text)
	}
	if p.Index != 0 || p.Total != 1 {
		t.Errorf("index/total = %d/%d, want 0/1", p.Index, p.Total)
	}
}

func TestSplit_ParagraphBoundaries(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\n\nThird paragraph."
	pieces := Split(text, Options{})

	if len(pieces) != 3 {
		t.Fatalf("got %d pieces, want 3", len(pieces))
	}
	for i, want := range []string{"First paragraph.", "Second paragraph.", "Third paragraph."} {
		if pieces[i].Text != want {
			t.Errorf("piece[%d] = %q, want %q", i, pieces[i].Text, want)
		}
		if pieces[i].Index != i || pieces[i].Total != 3 {
			t.Errorf("piece[%d] index/total = %d/%d", i, pieces[i].Index, pieces[i].Total)
		}
	}
}

// TestSplit_LongParagraphReconstruction 去掉重叠前缀后拼接应无损还原段落
func TestSplit_LongParagraphReconstruction(t *testing.T) {
	var sentences []string
	for i := 0; i < 40; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %d carries some retrievable payload.", i))
	}
	para := strings.Join(sentences, " ")

	opts := Options{MaxLength: 300, Overlap: 60}
	pieces := Split(para, opts)

	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}

	var rebuilt strings.Builder
	for i, p := range pieces {
		if i == 0 {
			rebuilt.WriteString(p.Text)
			continue
		}
		if p.Overlap == 0 {
			t.Errorf("piece[%d] missing overlap carry-over", i)
		}
		// 重叠前缀必须与上一片段尾部一致
		prev := pieces[i-1].Text
		if !strings.HasSuffix(prev, p.Text[:p.Overlap]) {
			t.Errorf("piece[%d] overlap prefix does not match previous tail", i)
		}
		rebuilt.WriteString(p.Text[p.Overlap:])
	}
	if rebuilt.String() != para {
		t.Errorf("reconstruction mismatch:\n got %q\nwant %q", rebuilt.String(), para)
	}
}

// TestSplit_MaxLengthBound 除不可再切的超长句外，片段不超过 MaxLength
func TestSplit_MaxLengthBound(t *testing.T) {
	var sentences []string
	for i := 0; i < 30; i++ {
		sentences = append(sentences, fmt.Sprintf("Short sentence %d ends here.", i))
	}
	para := strings.Join(sentences, " ")

	opts := Options{MaxLength: 200, Overlap: 40}
	for _, p := range Split(para, opts) {
		if len(p.Text) > opts.MaxLength {
			t.Errorf("piece[%d] length %d exceeds max %d", p.Index, len(p.Text), opts.MaxLength)
		}
	}
}

// TestSplit_OversizedSentenceEmittedWhole 超长单句整句保留
func TestSplit_OversizedSentenceEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 100) + "end."           // 无句内终结符
	para := "Lead sentence. " + long + " Trailing sentence."

	pieces := Split(para, Options{MaxLength: 100, Overlap: 20})

	found := false
	for _, p := range pieces {
		if strings.Contains(p.Text, strings.TrimSpace(long)) {
			found = true
		}
	}
	if !found {
		t.Fatalf("oversized sentence was split or truncated")
	}
}

func TestSplit_PositionMetadata(t *testing.T) {
	para := strings.Repeat("One sentence here. ", 50)
	pieces := Split(para, Options{MaxLength: 200, Overlap: 30})

	for i, p := range pieces {
		if p.End-p.Start != len(p.Text) {
			t.Errorf("piece[%d] span %d != text length %d", i, p.End-p.Start, len(p.Text))
		}
		if i > 0 && p.Start > pieces[i-1].End {
			t.Errorf("piece[%d] start %d leaves a gap after previous end %d", i, p.Start, pieces[i-1].End)
		}
	}
}

func TestSplit_DefaultsApplied(t *testing.T) {
	text := strings.Repeat("Filler sentence for default options. ", 60)
	pieces := Split(text, Options{})
	for _, p := range pieces {
		if len(p.Text) > DefaultMaxLength {
			t.Errorf("piece exceeds default max length: %d", len(p.Text))
		}
	}
}
