package bpath

import "testing"

func TestFormatPathAbsoluteIgnoresCwd(t *testing.T) {
	out, n := FormatPath("/a/b", "/x/y", 256)
	if out != "/a/b" || n != len("/a/b") {
		t.Fatalf("FormatPath = %q,%d, want /a/b", out, n)
	}
}

func TestFormatPathRelativeJoinsCwd(t *testing.T) {
	out, _ := FormatPath("b", "/a", 256)
	if out != "/a/b" {
		t.Fatalf("FormatPath = %q, want /a/b", out)
	}
}

func TestFormatPathRelativeToRoot(t *testing.T) {
	out, _ := FormatPath("a", "/", 256)
	if out != "/a" {
		t.Fatalf("FormatPath = %q, want /a", out)
	}
}

func TestFormatPathElidesDotComponents(t *testing.T) {
	out, _ := FormatPath("/a/./b/./c", "/", 256)
	if out != "/a/b/c" {
		t.Fatalf("FormatPath = %q, want /a/b/c", out)
	}
}

func TestFormatPathDotDotPopsComponent(t *testing.T) {
	out, _ := FormatPath("/a/b/../c", "/", 256)
	if out != "/a/c" {
		t.Fatalf("FormatPath = %q, want /a/c", out)
	}
}

func TestFormatPathDotDotStopsAtRoot(t *testing.T) {
	out, _ := FormatPath("/../../a", "/", 256)
	if out != "/a" {
		t.Fatalf("FormatPath = %q, want /a", out)
	}
}

func TestFormatPathCollapsesMultipleSeparators(t *testing.T) {
	out, _ := FormatPath("/a///b", "/", 256)
	if out != "/a/b" {
		t.Fatalf("FormatPath = %q, want /a/b", out)
	}
}

func TestFormatPathRootHasNoTrailingSeparator(t *testing.T) {
	out, _ := FormatPath("/", "/", 256)
	if out != "/" {
		t.Fatalf("FormatPath = %q, want /", out)
	}
}

func TestFormatPathOverflowFailsWithZeroLength(t *testing.T) {
	_, n := FormatPath("/abcdefgh", "/", 4)
	if n != 0 {
		t.Fatalf("expected overflow to report length 0, got %d", n)
	}
}

func TestIsValidFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		forbidden string
		max       int
		want      bool
	}{
		{"empty rejected", "", "", 255, false},
		{"dot rejected", ".", "", 255, false},
		{"dotdot rejected", "..", "", 255, false},
		{"too long rejected", "abcdef", "", 4, false},
		{"forbidden char rejected", "a/b", "/", 255, false},
		{"ordinary name accepted", "hello.txt", "/", 255, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidFilename(tt.filename, tt.forbidden, tt.max); got != tt.want {
				t.Fatalf("IsValidFilename(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestIsValidPathAllowsSeparatorEvenIfForbidden(t *testing.T) {
	if !IsValidPath("/a/b/c", "/", 255) {
		t.Fatalf("separator must always be allowed even if listed in forbidden")
	}
}

func TestIsValidPathRejectsBadComponent(t *testing.T) {
	if IsValidPath("/a/../b", "", 255) {
		t.Fatalf("a '..' component should fail validation")
	}
}

func TestIsValidPathRejectsEmptyPath(t *testing.T) {
	if IsValidPath("", "", 255) {
		t.Fatalf("empty path should be invalid")
	}
}
