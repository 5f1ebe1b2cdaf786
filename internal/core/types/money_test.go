package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2_HalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.005", "10.01"},
		{"10.004", "10"},
		{"0.125", "0.13"},
		{"22.4", "22.4"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, MustMoney(tt.want).Equal(Round2(MustMoney(tt.in))), "got %s", Round2(MustMoney(tt.in)))
		})
	}
}

func TestPercent(t *testing.T) {
	got := Percent(MustMoney("1000"), MustMoney("2"))
	assert.True(t, MustMoney("20").Equal(got))
}

func TestMinMaxNonNegative(t *testing.T) {
	a, b := MustMoney("600"), MustMoney("400")

	assert.True(t, b.Equal(Min(a, b)))
	assert.True(t, a.Equal(Max(a, b)))
	assert.True(t, Zero().Equal(NonNegative(MustMoney("-1"))))
}

func TestNewMoneyFromString(t *testing.T) {
	m, err := NewMoneyFromString("")
	require.NoError(t, err)
	assert.True(t, m.IsZero())

	_, err = NewMoneyFromString("abc")
	assert.Error(t, err)
}
