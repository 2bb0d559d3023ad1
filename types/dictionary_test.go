package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDictionaryItemsDeduplicate(t *testing.T) {
	require.Equal(
		t,
		DictionaryItems{
			{Key: "b", Value: "0"},
			{Key: "a", Value: "1"},
		},
		DictionaryItems{
			{Key: "a", Value: "0"},
			{Key: "b", Value: "0"},
			{Key: "a", Value: "1"},
		}.Deduplicate(),
	)
}

func TestDictionaryItemsGet(t *testing.T) {
	items := DictionaryItems{
		{Key: "probesize", Value: "32"},
		{Key: "probesize", Value: "64"},
	}
	v, ok := items.Get("probesize")
	require.True(t, ok)
	require.Equal(t, "64", v)

	_, ok = items.Get("analyzeduration")
	require.False(t, ok)
}
