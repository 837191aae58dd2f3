package keyenc

import (
	"bytes"
	"math/big"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTypeOrdering(t *testing.T) {
	bytesVal := Encode([]Value{Bytes([]byte("x"))})
	stringVal := Encode([]Value{String("x")})
	numberVal := Encode([]Value{Number(1)})
	bigIntVal := Encode([]Value{BigIntValue(big.NewInt(1))})
	boolVal := Encode([]Value{Bool(false)})

	assert.True(t, bytes.Compare(bytesVal, stringVal) < 0, "bytes must sort before string")
	assert.True(t, bytes.Compare(stringVal, numberVal) < 0, "string must sort before number")
	assert.True(t, bytes.Compare(numberVal, bigIntVal) < 0, "number must sort before bigint")
	assert.True(t, bytes.Compare(bigIntVal, boolVal) < 0, "bigint must sort before bool")
}

func TestEncodeBigIntOrdering(t *testing.T) {
	cases := []*big.Int{
		big.NewInt(-(1 << 40)),
		big.NewInt(-100),
		big.NewInt(-1),
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(100),
		big.NewInt(1 << 40),
	}
	for i := 0; i < len(cases)-1; i++ {
		a := Encode([]Value{BigIntValue(cases[i])})
		b := Encode([]Value{BigIntValue(cases[i+1])})
		assert.True(t, bytes.Compare(a, b) < 0, "%v should sort before %v", cases[i], cases[i+1])
	}
}

func TestEncodeStringOrdering(t *testing.T) {
	require.True(t, Compare([]Value{String("a")}, []Value{String("b")}) < 0)
	require.True(t, Compare([]Value{String("ab")}, []Value{String("b")}) < 0)
	require.Equal(t, 0, Compare([]Value{String("same")}, []Value{String("same")}))
}

func TestEncodeNumberOrdering(t *testing.T) {
	cases := []float64{-100, -1.5, -0.001, 0, 0.001, 1.5, 100}
	for i := 0; i < len(cases)-1; i++ {
		a := Encode([]Value{Number(cases[i])})
		b := Encode([]Value{Number(cases[i+1])})
		assert.True(t, bytes.Compare(a, b) < 0, "%v should sort before %v", cases[i], cases[i+1])
	}
}

func TestEncodeBoolOrdering(t *testing.T) {
	assert.True(t, Compare([]Value{Bool(false)}, []Value{Bool(true)}) < 0)
}

func TestEncodeCompositePrefixDisambiguation(t *testing.T) {
	// ["ab", "c"] must not collide with ["abc"] despite sharing a byte prefix.
	a := Encode([]Value{String("ab"), String("c")})
	b := Encode([]Value{String("abc")})
	assert.NotEqual(t, a, b)
}

func TestEncodeIsTotalAndStable(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	nums := make([]float64, 200)
	for i := range nums {
		nums[i] = r.Float64()*2000 - 1000
	}
	sortedNums := append([]float64(nil), nums...)
	sort.Float64s(sortedNums)

	encoded := make([][]byte, len(nums))
	for i, n := range nums {
		encoded[i] = Encode([]Value{Number(n)})
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })

	sortedEncoded := make([][]byte, len(sortedNums))
	for i, n := range sortedNums {
		sortedEncoded[i] = Encode([]Value{Number(n)})
	}
	for i := range encoded {
		assert.Equal(t, sortedEncoded[i], encoded[i])
	}
}
