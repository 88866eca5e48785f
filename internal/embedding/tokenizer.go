package embedding

import (
	"bufio"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// CLIP special tokens and default context length.
const (
	StartOfText          = 49406
	EndOfText            = 49407
	DefaultContextLength = 77
)

// Tokenizer produces CLIP text-model inputs padded to contextLength.
type Tokenizer interface {
	Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64)
}

var clipPattern = regexp.MustCompile(`(?i)<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|\p{L}+|\p{N}|[^\s\p{L}\p{N}]+`)

// BPETokenizer is the CLIP byte-level BPE tokenizer.
type BPETokenizer struct {
	encoder     map[string]int64
	ranks       map[[2]string]int
	byteEncoder [256]string

	mu    sync.Mutex
	cache map[string][]string
}

// LoadBPETokenizer reads a vocab.json (token -> id) and merges.txt pair.
func LoadBPETokenizer(vocabPath, mergesPath string) (*BPETokenizer, error) {
	vocabData, err := os.ReadFile(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	var encoder map[string]int64
	if err := json.Unmarshal(vocabData, &encoder); err != nil {
		return nil, fmt.Errorf("failed to parse vocab: %w", err)
	}

	f, err := os.Open(mergesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open merges: %w", err)
	}
	defer f.Close()
	ranks := make(map[[2]string]int)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		ranks[[2]string{parts[0], parts[1]}] = len(ranks)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read merges: %w", err)
	}
	return NewBPETokenizer(encoder, ranks), nil
}

// NewBPETokenizer builds a tokenizer from an in-memory vocabulary and merge ranks.
func NewBPETokenizer(encoder map[string]int64, ranks map[[2]string]int) *BPETokenizer {
	return &BPETokenizer{
		encoder:     encoder,
		ranks:       ranks,
		byteEncoder: bytesToUnicode(),
		cache:       make(map[string][]string),
	}
}

// Tokenize returns [SOT, tokens..., EOT] truncated and zero-padded to contextLength.
func (t *BPETokenizer) Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64) {
	var ids []int64
	for _, word := range clipPattern.FindAllString(cleanText(text), -1) {
		var encoded strings.Builder
		for i := 0; i < len(word); i++ {
			encoded.WriteString(t.byteEncoder[word[i]])
		}
		for _, tok := range t.bpe(encoded.String()) {
			if id, ok := t.encoder[tok]; ok {
				ids = append(ids, id)
			}
		}
	}
	return frame(ids, contextLength)
}

func (t *BPETokenizer) bpe(token string) []string {
	t.mu.Lock()
	if cached, ok := t.cache[token]; ok {
		t.mu.Unlock()
		return cached
	}
	t.mu.Unlock()

	var word []string
	for _, r := range token {
		word = append(word, string(r))
	}
	if len(word) == 0 {
		return nil
	}
	word[len(word)-1] += "</w>"

	for len(word) > 1 {
		best, bestRank := -1, int(^uint(0)>>1)
		for i := 0; i < len(word)-1; i++ {
			if r, ok := t.ranks[[2]string{word[i], word[i+1]}]; ok && r < bestRank {
				best, bestRank = i, r
			}
		}
		if best < 0 {
			break
		}
		first, second := word[best], word[best+1]
		merged := make([]string, 0, len(word))
		for i := 0; i < len(word); i++ {
			if i < len(word)-1 && word[i] == first && word[i+1] == second {
				merged = append(merged, first+second)
				i++
				continue
			}
			merged = append(merged, word[i])
		}
		word = merged
	}

	t.mu.Lock()
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

// HashTokenizer is a whitespace tokenizer with hash-based token IDs, used when no
// vocabulary is configured. It keeps the CLIP framing.
type HashTokenizer struct{}

// Tokenize splits text into words and frames hash IDs like BPETokenizer.
func (t *HashTokenizer) Tokenize(text string, contextLength int) (inputIDs, attentionMask []int64) {
	words := strings.Fields(cleanText(text))
	ids := make([]int64, len(words))
	for i, w := range words {
		ids[i] = int64(HashString(w) % StartOfText)
	}
	return frame(ids, contextLength)
}

func frame(ids []int64, contextLength int) (inputIDs, attentionMask []int64) {
	if contextLength < 2 {
		contextLength = DefaultContextLength
	}
	if len(ids) > contextLength-2 {
		ids = ids[:contextLength-2]
	}
	inputIDs = make([]int64, contextLength)
	attentionMask = make([]int64, contextLength)
	inputIDs[0] = StartOfText
	copy(inputIDs[1:], ids)
	inputIDs[len(ids)+1] = EndOfText
	for i := 0; i < len(ids)+2; i++ {
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask
}

func cleanText(text string) string {
	text = html.UnescapeString(html.UnescapeString(text))
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// bytesToUnicode maps every byte to a printable rune so BPE never sees whitespace or control bytes.
func bytesToUnicode() [256]string {
	var table [256]string
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	n := 0
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + n)
			n++
		}
		buf := make([]byte, utf8.RuneLen(r))
		utf8.EncodeRune(buf, r)
		table[b] = string(buf)
	}
	return table
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -(h + 1)
	}
	return h
}
