package skim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemIsPlaceholder(t *testing.T) {
	tests := []struct {
		name string
		tags Tags
		want bool
	}{
		{name: "no tags", tags: nil, want: false},
		{name: "error tag only", tags: Tags{TagError}, want: true},
		{name: "error tag among others", tags: Tags{"go", TagError}, want: false},
		{name: "regular tags", tags: Tags{"go"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Item{Tags: tt.tags}.IsPlaceholder())
		})
	}
}

func TestTagsScan(t *testing.T) {
	var tags Tags
	require.NoError(t, tags.Scan(`["a","b"]`))
	assert.Equal(t, Tags{"a", "b"}, tags)

	require.NoError(t, tags.Scan([]byte(`[]`)))
	assert.Empty(t, tags)

	require.NoError(t, tags.Scan(nil))
	assert.Nil(t, tags)

	assert.Error(t, tags.Scan(42))
	assert.Error(t, tags.Scan("not json"))
}

func TestTagsValueOfNil(t *testing.T) {
	v, err := Tags(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}
