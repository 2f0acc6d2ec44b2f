package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeOfLane(t *testing.T) {
	tests := []struct {
		lane string
		want string
	}{
		{"E1_0", "E1"},
		{"-E1_2", "-E1"},
		{"gneE3_1_0", "gneE3_1"},
		{":J1_0_0", ":J1_0"},
		{"E1", "E1"},
		{"E1_x", "E1_x"},
		{"_0", "_0"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.lane, func(t *testing.T) {
			assert.Equal(t, tt.want, EdgeOfLane(tt.lane))
		})
	}
}

func TestLaneOfEdge(t *testing.T) {
	assert.Equal(t, "E1_0", LaneOfEdge("E1", 0))
	assert.Equal(t, "gneE3_1_2", LaneOfEdge("gneE3_1", 2))
}

func TestIsInternalEdge(t *testing.T) {
	assert.True(t, IsInternalEdge(":J1_0"))
	assert.False(t, IsInternalEdge("E1"))
	assert.False(t, IsInternalEdge(""))
}

func TestRound1AndFormat(t *testing.T) {
	assert.Equal(t, 12.3, Round1(12.34))
	assert.Equal(t, 12.4, Round1(12.35001))
	assert.Equal(t, "12.3", FormatDecimal1(12.34))
	assert.Equal(t, "0.0", FormatDecimal1(0))
	assert.Equal(t, "-3.5", FormatDecimal1(-3.46))
}

func TestLast(t *testing.T) {
	assert.Equal(t, "E3", Last([]string{"E1", "E2", "E3"}))
	assert.Equal(t, "", Last[string](nil))
}
