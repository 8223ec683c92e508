package htmltext

import "testing"

func TestExtract(t *testing.T) {
	raw := `<html><head><title> Release notes </title><style>p{}</style></head>
<body><nav>Home | About</nav><h1>v2.0</h1><p>Faster   sync.</p>
<ul><li>One</li><li>Two</li></ul><script>alert(1)</script></body></html>`

	title, text := Extract(raw)
	if title != "Release notes" {
		t.Errorf("title = %q", title)
	}
	want := "v2.0\n\nFaster sync.\n\nOne\nTwo"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  hello   world ", "hello world"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"inline markup", "The <strong>Go</strong> language", "The Go language"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo world", 5); got != "héllo..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Errorf("Truncate with n=0 = %q", got)
	}
}
