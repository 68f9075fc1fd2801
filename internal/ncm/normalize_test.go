package ncm

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "dotted", input: "8471.30.19", want: "84713019"},
		{name: "spaces and dashes", input: " 84 71-30 19 ", want: "84713019"},
		{name: "letters dropped", input: "NCM: 0101.21.00", want: "01012100"},
		{name: "short code kept", input: "01.01", want: "0101"},
		{name: "no digits", input: "abc", want: ""},
		{name: "empty", input: "", want: ""},
		{name: "non-ascii digits dropped", input: "٣84713019", want: "84713019"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.input))
		})
	}
}

func TestNormalizeIdempotentAndDigitsOnly(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("0123456789.-/ abcXYZçã\t\n")
	for i := 0; i < 500; i++ {
		n := rng.Intn(30)
		buf := make([]rune, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		s := string(buf)

		once := Normalize(s)
		require.Equal(t, once, Normalize(once), "input %q", s)
		for _, r := range once {
			require.True(t, r >= '0' && r <= '9', "input %q produced %q", s, once)
		}
	}
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "8471.30.19", FormatCode("84713019"))
	assert.Equal(t, "0101", FormatCode("0101"))
	assert.Equal(t, "123456789", FormatCode("123456789"))
	assert.Equal(t, "8471.30.19", FormatCode("8471.30.19"))
}

func TestFormatCodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		d := fmt.Sprintf("%08d", rng.Intn(100000000))
		require.Equal(t, d, Normalize(FormatCode(d)))
	}
}
