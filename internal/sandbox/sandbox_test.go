package sandbox

import (
	"errors"
	"path/filepath"
	"testing"
)

func testRoot(t *testing.T) Root {
	t.Helper()
	r, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	return r
}

func TestResolveContainment(t *testing.T) {
	r := testRoot(t)
	base := r.Path()

	cases := []struct {
		name      string
		requested string
		want      string
		violation bool
	}{
		{name: "empty means root", requested: "", want: base},
		{name: "dot means root", requested: ".", want: base},
		{name: "simple relative", requested: "src/main.go", want: filepath.Join(base, "src", "main.go")},
		{name: "internal parent collapses", requested: "a/../b", want: filepath.Join(base, "b")},
		{name: "deep parents collapse", requested: "a/b/../../c", want: filepath.Join(base, "c")},
		{name: "parent escape", requested: "../etc/passwd", violation: true},
		{name: "nested then escape", requested: "a/../../etc", violation: true},
		{name: "many parents clamp then escape", requested: "../../../../etc/passwd", violation: true},
		{name: "absolute outside", requested: "/etc/passwd", violation: true},
		{name: "repeated separators outside", requested: "///etc/passwd", violation: true},
		{name: "bare slash", requested: "/", violation: true},
		{name: "absolute inside root", requested: filepath.Join(base, "ok.txt"), want: filepath.Join(base, "ok.txt")},
		{name: "triple dot is a filename", requested: "...", want: filepath.Join(base, "...")},
		{name: "hidden triple dot dir", requested: ".../x", want: filepath.Join(base, "...", "x")},
		{name: "dot segments dropped", requested: "./a/./b", want: filepath.Join(base, "a", "b")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(tc.requested)
			if tc.violation {
				if err == nil {
					t.Fatalf("Resolve(%q) = %q, want violation", tc.requested, got)
				}
				var ve *ViolationError
				if !errors.As(err, &ve) {
					t.Fatalf("Resolve(%q) error = %v, want *ViolationError", tc.requested, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.requested, err)
			}
			if got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.requested, got, tc.want)
			}
		})
	}
}

func TestResolveSiblingPrefixRejected(t *testing.T) {
	r := testRoot(t)
	// A sibling directory sharing the root as a string prefix must not
	// pass the containment check.
	sibling := r.Path() + "2/file.txt"
	if got, err := r.Resolve(sibling); err == nil {
		t.Fatalf("Resolve(%q) = %q, want violation", sibling, got)
	}
}

func TestResolveFilesystemRoot(t *testing.T) {
	r, err := NewRoot("/")
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}

	cases := []struct {
		requested string
		want      string
	}{
		{requested: "etc/hosts", want: "/etc/hosts"},
		{requested: "/etc/hosts", want: "/etc/hosts"},
		{requested: "", want: "/"},
		{requested: "../a", want: "/a"},
	}
	for _, tc := range cases {
		got, err := r.Resolve(tc.requested)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.requested, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.requested, got, tc.want)
		}
	}
}

func TestRel(t *testing.T) {
	r := testRoot(t)
	abs := filepath.Join(r.Path(), "a", "b.txt")
	if got := r.Rel(abs); got != filepath.Join("a", "b.txt") {
		t.Fatalf("Rel(%q) = %q", abs, got)
	}
}
