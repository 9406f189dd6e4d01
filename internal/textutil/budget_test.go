package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBudget(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"562,937元", 562937, true},
		{"約 562,937 元", 562937, true},
		{"$562,937", 562937, true},
		{"562937", 562937, true},
		{"約1,500,000元", 1500000, true},
		{"NT$ 300,000", 300000, true},
		{"0元", 0, true},
		{"", 0, false},
		{"未公告", 0, false},
		{"約 元", 0, false},
		{"$,,,", 0, false},
	}

	for _, c := range cases {
		got, ok := ParseBudget(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		if c.ok {
			assert.Equal(t, c.want, got, "input %q", c.in)
		}
	}
}

func TestParseBudgetNeverPanics(t *testing.T) {
	for _, in := range []string{"\x00\xff", "一二三", "元元元$$$", "  ~^約  "} {
		assert.NotPanics(t, func() { ParseBudget(in) }, "input %q", in)
	}
}
