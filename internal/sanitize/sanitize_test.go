package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "keeps allowed structure",
			input: `<p>Hello <strong>world</strong></p>`,
			want:  `<p>Hello <strong>world</strong></p>`,
		},
		{
			name:  "drops scripts with their content",
			input: `<p>safe</p><script>alert(1)</script>`,
			want:  `<p>safe</p>`,
		},
		{
			name:  "drops event handlers and classes",
			input: `<p onclick="steal()" class="x" style="color:red">hi</p>`,
			want:  `<p>hi</p>`,
		},
		{
			name:  "keeps allowed attributes",
			input: `<img src="https://example.com/a.png" alt="a cat" width="10" height="20">`,
			want:  `<img src="https://example.com/a.png" alt="a cat" width="10" height="20">`,
		},
		{
			name:  "unwraps disallowed elements",
			input: `<form><p>inside</p></form>`,
			want:  `<p>inside</p>`,
		},
		{
			name:  "keeps relative links",
			input: `<a href="/post/1">post</a>`,
			want:  `<a href="/post/1">post</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTML(tt.input))
		})
	}
}

func TestHTMLDropsScriptURLs(t *testing.T) {
	for _, input := range []string{
		`<a href="javascript:alert(1)">x</a>`,
		`<a href="  JavaScript:alert(1)">x</a>`,
		`<img src="javascript:alert(1)" alt="javascript:alert(2)">`,
		`<video width=" javascript:1"></video>`,
	} {
		got := HTML(input)
		assert.NotContains(t, got, "javascript", input)
		assert.NotContains(t, got, "JavaScript", input)
	}
}

func TestNotPrefixed(t *testing.T) {
	re := notPrefixed("javascript:")

	for _, ok := range []string{"", "a cat", "Figure 1: java", "java", "javascript", "image/png", "100"} {
		assert.True(t, re.MatchString(ok), ok)
	}
	for _, bad := range []string{"javascript:", "JAVASCRIPT:x", "  javascript:alert(1)", "\njavascript:void(0)"} {
		assert.False(t, re.MatchString(bad), bad)
	}
}

func TestHTMLIsTotal(t *testing.T) {
	for _, input := range []string{"", "<", "<p", "</div></div>", "<<>>&&;", "\x00\xff"} {
		assert.NotPanics(t, func() { HTML(input) })
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "Hello", want: "Hello"},
		{name: "markup", input: "<b>Hello</b> <i>there</i>", want: "Hello there"},
		{name: "entities", input: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{name: "unclosed", input: "<p>half", want: "half"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.input))
		})
	}
}
