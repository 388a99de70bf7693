package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/program-crawler/pkg/utils"
)

func resetTokenizer() {
	codecMu.Lock()
	defaultCodec = nil
	codecEncoding = ""
	codecMu.Unlock()
}

func TestInitTokenizer(t *testing.T) {
	resetTokenizer()
	defer resetTokenizer()

	require.NoError(t, InitTokenizer("cl100k_base"))
	assert.Equal(t, "cl100k_base", TokenizerEncoding())
}

func TestInitTokenizer_DefaultEncoding(t *testing.T) {
	resetTokenizer()
	defer resetTokenizer()

	require.NoError(t, InitTokenizer(""))
	assert.Equal(t, DefaultTokenizerEncoding, TokenizerEncoding())
}

func TestInitTokenizer_UnknownEncoding(t *testing.T) {
	resetTokenizer()

	err := InitTokenizer("gpt9_base")
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Equal(t, "", TokenizerEncoding())
}

func TestCountTokens(t *testing.T) {
	resetTokenizer()
	defer resetTokenizer()
	require.NoError(t, InitTokenizer("cl100k_base"))

	count := CountTokens("Tuition fees for international students")
	assert.Positive(t, count)
	assert.LessOrEqual(t, count, 12)
	assert.Equal(t, 0, CountTokens(""))
}

func TestCountTokens_Uninitialized(t *testing.T) {
	resetTokenizer()
	assert.Equal(t, -1, CountTokens("anything"))
}

func TestKnownEncodings(t *testing.T) {
	names := KnownEncodings()
	assert.Contains(t, names, "cl100k_base")
	assert.Contains(t, names, "o200k_base")
	assert.IsIncreasing(t, names)
}
