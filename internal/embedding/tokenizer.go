package embedding

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	subwordPrefix = "##"
	maxWordRunes  = 100
)

// WordPieceTokenizer is the uncased BERT tokenizer MiniLM-style sentence
// encoders expect.
type WordPieceTokenizer struct {
	vocab map[string]int64

	cls, sep, pad, unk int64
}

// LoadWordPieceTokenizer reads a vocab.txt with one token per line; the line
// number is the token id.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if tok := strings.TrimSpace(sc.Text()); tok != "" {
			vocab[tok] = int64(len(vocab))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}

	return &WordPieceTokenizer{
		vocab: vocab,
		cls:   vocab["[CLS]"],
		sep:   vocab["[SEP]"],
		pad:   vocab["[PAD]"],
		unk:   vocab["[UNK]"],
	}, nil
}

// LoadTokenizerFromDir finds vocab.txt in dir or dir/tokenizer.
func LoadTokenizerFromDir(dir string) (*WordPieceTokenizer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("model dir is empty")
	}
	candidates := []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return LoadWordPieceTokenizer(p)
		}
	}
	return nil, fmt.Errorf("no vocab.txt under %s", dir)
}

// Encode returns input ids and attention mask, each exactly seqLen long:
// [CLS] pieces... [SEP] followed by padding. Overlong input is cut before [SEP].
func (t *WordPieceTokenizer) Encode(text string, seqLen int) (ids, mask []int64) {
	if seqLen <= 0 {
		return nil, nil
	}
	budget := seqLen - 2

	ids = make([]int64, 0, seqLen)
	ids = append(ids, t.cls)
	for _, word := range basicSplit(strings.ToLower(text)) {
		if len(ids)-1 >= budget {
			break
		}
		ids = append(ids, t.pieces(word)...)
	}
	if len(ids)-1 > budget {
		ids = ids[:max(budget, 0)+1]
	}
	ids = append(ids, t.sep)
	if len(ids) > seqLen {
		ids = ids[:seqLen]
	}

	mask = make([]int64, seqLen)
	for i := range ids {
		mask[i] = 1
	}
	for len(ids) < seqLen {
		ids = append(ids, t.pad)
	}
	return ids, mask
}

// pieces applies greedy longest-match-first over runes. A word with any
// unmatched remainder becomes a single [UNK].
func (t *WordPieceTokenizer) pieces(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []int64{t.unk}
	}

	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		var id int64 = -1
		for ; end > start; end-- {
			cand := string(runes[start:end])
			if start > 0 {
				cand = subwordPrefix + cand
			}
			if v, ok := t.vocab[cand]; ok {
				id = v
				break
			}
		}
		if id < 0 {
			return []int64{t.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// basicSplit breaks on whitespace and emits every punctuation or symbol rune
// as its own word.
func basicSplit(text string) []string {
	var words []string
	begin := -1
	for i, r := range text {
		isSpace := unicode.IsSpace(r)
		isPunct := unicode.IsPunct(r) || unicode.IsSymbol(r)
		if isSpace || isPunct {
			if begin >= 0 {
				words = append(words, text[begin:i])
				begin = -1
			}
			if isPunct {
				words = append(words, string(r))
			}
			continue
		}
		if begin < 0 {
			begin = i
		}
	}
	if begin >= 0 {
		words = append(words, text[begin:])
	}
	return words
}
