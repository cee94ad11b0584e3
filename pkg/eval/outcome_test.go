package eval

import (
	"reflect"
	"testing"
)

func TestExtractContentPlain(t *testing.T) {
	plain, blocks := extractContent("hello\nworld\n")
	if plain != "hello\nworld\n" || blocks != nil {
		t.Errorf("plain = %q, blocks = %+v", plain, blocks)
	}
}

func TestExtractContentBlock(t *testing.T) {
	stdout := "before\n" +
		"GOEVAL_BEGIN_CONTENT text/html\n" +
		"<b>bold</b>\n" +
		"<i>italic</i>\n" +
		"GOEVAL_END_CONTENT\n" +
		"after\n"
	plain, blocks := extractContent(stdout)
	if plain != "before\nafter\n" {
		t.Errorf("plain = %q", plain)
	}
	want := []ContentBlock{{Mime: "text/html", Data: "<b>bold</b>\n<i>italic</i>"}}
	if !reflect.DeepEqual(blocks, want) {
		t.Errorf("blocks = %+v, want %+v", blocks, want)
	}
}

func TestExtractContentMultipleBlocks(t *testing.T) {
	stdout := "GOEVAL_BEGIN_CONTENT text/plain\none\nGOEVAL_END_CONTENT\n" +
		"GOEVAL_BEGIN_CONTENT image/svg+xml\n<svg/>\nGOEVAL_END_CONTENT\n"
	plain, blocks := extractContent(stdout)
	if plain != "\n" && plain != "" {
		t.Errorf("plain = %q", plain)
	}
	if len(blocks) != 2 || blocks[0].Mime != "text/plain" || blocks[1].Mime != "image/svg+xml" {
		t.Errorf("blocks = %+v", blocks)
	}
}

func TestExtractContentUnterminated(t *testing.T) {
	stdout := "GOEVAL_BEGIN_CONTENT text/html\n<b>never closed\n"
	plain, blocks := extractContent(stdout)
	if len(blocks) != 0 {
		t.Errorf("unterminated block extracted: %+v", blocks)
	}
	if plain != stdout {
		t.Errorf("plain = %q, want original text", plain)
	}
}

func TestContentMime(t *testing.T) {
	cases := []struct {
		line string
		mime string
		ok   bool
	}{
		{"GOEVAL_BEGIN_CONTENT text/html", "text/html", true},
		{"  GOEVAL_BEGIN_CONTENT application/json  ", "application/json", true},
		{"GOEVAL_BEGIN_CONTENT", "", false},
		{"GOEVAL_BEGIN_CONTENT two words", "", false},
		{"unrelated line", "", false},
	}
	for _, tc := range cases {
		mime, ok := contentMime(tc.line)
		if mime != tc.mime || ok != tc.ok {
			t.Errorf("contentMime(%q) = %q, %v; want %q, %v", tc.line, mime, ok, tc.mime, tc.ok)
		}
	}
}

func TestRenderValue(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{nil, "<nil>"},
		{5, "5"},
		{"5", `"5"`},
		{3.5, "3.5"},
		{[]int{1, 2}, "[1 2]"},
		{true, "true"},
	}
	for _, tc := range cases {
		if got := renderValue(tc.value); got != tc.want {
			t.Errorf("renderValue(%#v) = %q, want %q", tc.value, got, tc.want)
		}
	}
}
