package process

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

// DefaultTokenizerEncoding is used when no encoding is configured
const DefaultTokenizerEncoding = "cl100k_base"

var encodings = map[string]tokenizer.Encoding{
	"cl100k_base": tokenizer.Cl100kBase,
	"o200k_base":  tokenizer.O200kBase,
	"p50k_base":   tokenizer.P50kBase,
	"p50k_edit":   tokenizer.P50kEdit,
	"r50k_base":   tokenizer.R50kBase,
}

var (
	codecMu       sync.RWMutex
	defaultCodec  tokenizer.Codec
	codecEncoding string
)

// InitTokenizer loads the process-wide codec used by CountTokens.
// Unknown encodings are a configuration error.
func InitTokenizer(encoding string) error {
	if encoding == "" {
		encoding = DefaultTokenizerEncoding
	}
	enc, ok := encodings[strings.ToLower(encoding)]
	if !ok {
		return fmt.Errorf("%w: unknown tokenizer encoding %q (known: %s)",
			utils.ErrConfigValidation, encoding, strings.Join(KnownEncodings(), ", "))
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return fmt.Errorf("loading tokenizer %s: %w", encoding, err)
	}

	codecMu.Lock()
	defer codecMu.Unlock()
	defaultCodec = codec
	codecEncoding = strings.ToLower(encoding)
	return nil
}

// KnownEncodings lists the accepted encoding names
func KnownEncodings() []string {
	names := make([]string, 0, len(encodings))
	for name := range encodings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CountTokens returns the token count of text, or -1 when no tokenizer is loaded
// or encoding fails, so a real zero is distinguishable from "not counted".
func CountTokens(text string) int {
	codecMu.RLock()
	defer codecMu.RUnlock()

	if defaultCodec == nil {
		return -1
	}
	ids, _, err := defaultCodec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}

// TokenizerEncoding returns the loaded encoding name, "" if none
func TokenizerEncoding() string {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return codecEncoding
}
