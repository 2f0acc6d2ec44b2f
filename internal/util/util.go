// Package util provides small helpers shared by the controller packages.
package util

import (
	"math"
	"strconv"
	"strings"
)

// EdgeOfLane returns the edge a lane belongs to by cutting the trailing
// "_<index>" from the lane id. Edge ids may contain underscores themselves.
func EdgeOfLane(laneID string) string {
	i := strings.LastIndexByte(laneID, '_')
	if i <= 0 {
		return laneID
	}
	if _, err := strconv.Atoi(laneID[i+1:]); err != nil {
		return laneID
	}
	return laneID[:i]
}

// LaneOfEdge returns the id of lane index on edge.
func LaneOfEdge(edgeID string, index int) string {
	return edgeID + "_" + strconv.Itoa(index)
}

// IsInternalEdge reports whether the edge is a junction-internal edge.
func IsInternalEdge(edgeID string) bool {
	return strings.HasPrefix(edgeID, ":")
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatDecimal1 formats v with exactly one decimal place.
func FormatDecimal1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Last returns the last element of s, or the zero value when s is empty.
func Last[T any](s []T) T {
	if len(s) == 0 {
		var zero T
		return zero
	}
	return s[len(s)-1]
}
