package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresExactlyOneTopLevel(t *testing.T) {
	s := &Session{Threads: []*Thread{{ID: 0, IsTopLevel: true}, {ID: 1}}}
	require.NoError(t, s.Validate())

	s2 := &Session{Threads: []*Thread{{ID: 0}, {ID: 1}}}
	require.Error(t, s2.Validate())

	s3 := &Session{Threads: []*Thread{{ID: 0, IsTopLevel: true}, {ID: 1, IsTopLevel: true}}}
	require.Error(t, s3.Validate())
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	s := &Session{Threads: []*Thread{{ID: 0, IsTopLevel: true}, {ID: 0}}}
	require.Error(t, s.Validate())

	s2 := &Session{
		Threads: []*Thread{{ID: 0, IsTopLevel: true}},
		Futures: []*Future{{ID: 0, Chain: NoChain}, {ID: 0, Chain: NoChain}},
	}
	require.Error(t, s2.Validate())
}

func TestWouldCycle(t *testing.T) {
	futures := map[int]*Future{
		0: {ID: 0, Chain: 1},
		1: {ID: 1, Chain: 2},
		2: {ID: 2, Chain: NoChain},
	}

	// 2 -> 0 would close the cycle 0 -> 1 -> 2 -> 0.
	require.True(t, WouldCycle(futures, 2, 0))
	// 2 -> 3 (a fresh, unrelated future) does not cycle.
	futures[3] = &Future{ID: 3, Chain: NoChain}
	require.False(t, WouldCycle(futures, 2, 3))
}
