package render

import "testing"

func TestEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHTML string
		wantAttr string
	}{
		{name: "empty", input: "", wantHTML: "", wantAttr: ""},
		{name: "plain", input: "Hello, World!", wantHTML: "Hello, World!", wantAttr: "Hello, World!"},
		{name: "ampersand", input: "Tom & Jerry", wantHTML: "Tom &amp; Jerry", wantAttr: "Tom &amp; Jerry"},
		{
			name:     "script tag",
			input:    "<script>alert('xss')</script>",
			wantHTML: "&lt;script&gt;alert(&#39;xss&#39;)&lt;/script&gt;",
			wantAttr: "&lt;script&gt;alert(&#39;xss&#39;)&lt;/script&gt;",
		},
		{
			name:     "whitespace kept in text, escaped in attributes",
			input:    "a\n\r\tb",
			wantHTML: "a\n\r\tb",
			wantAttr: "a&#10;&#13;&#9;b",
		},
		{name: "quotes", input: `say "hi"`, wantHTML: "say &quot;hi&quot;", wantAttr: "say &quot;hi&quot;"},
		{name: "unicode", input: "Hello 世界", wantHTML: "Hello 世界", wantAttr: "Hello 世界"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EscapeHTML(tt.input); got != tt.wantHTML {
				t.Errorf("EscapeHTML(%q) = %q, want %q", tt.input, got, tt.wantHTML)
			}
			if got := EscapeAttr(tt.input); got != tt.wantAttr {
				t.Errorf("EscapeAttr(%q) = %q, want %q", tt.input, got, tt.wantAttr)
			}
		})
	}
}

func BenchmarkEscapeHTML(b *testing.B) {
	s := `<script>alert("xss")</script> & more content here`
	for i := 0; i < b.N; i++ {
		EscapeHTML(s)
	}
}
