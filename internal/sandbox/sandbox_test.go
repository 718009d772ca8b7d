package sandbox

import (
	"reflect"
	"testing"
)

func testConfig(enabled bool) *Config {
	return NewConfig(enabled, Policy{
		Root:            "/home/student",
		AllowedCommands: []string{"ls", "CD", " pwd ", "ls"},
		BlockedPaths:    []string{"/home/student/.ssh", "/etc"},
	}, "stu-1", "sess-1")
}

func TestIsCommandAllowed(t *testing.T) {
	cfg := testConfig(true)

	for _, name := range []string{"ls", "cd", "pwd"} {
		if !cfg.IsCommandAllowed(name) {
			t.Errorf("expected %q to be allowed", name)
		}
	}
	for _, name := range []string{"cat", "rm", ""} {
		if cfg.IsCommandAllowed(name) {
			t.Errorf("expected %q to be denied", name)
		}
	}

	if got, want := cfg.AllowedCommands(), []string{"ls", "cd", "pwd"}; !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedCommands() = %v, want %v", got, want)
	}

	if !testConfig(false).IsCommandAllowed("rm") {
		t.Error("expected every command to be allowed outside sandbox mode")
	}
}

func TestIsPathAllowed(t *testing.T) {
	cfg := testConfig(true)

	tests := []struct {
		path string
		want bool
	}{
		{"/home/student", true},
		{"/home/student/examples", true},
		{"/home/student/.ssh", false},
		{"/home/student/.ssh/id_rsa", false},
		{"/etc", false},
		{"/home", false},
		{"/", false},
		{"/HOME/student", false},
		// Exact string-prefix semantics: a sibling sharing the prefix passes.
		{"/home/studentX", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := cfg.IsPathAllowed(tt.path); got != tt.want {
				t.Errorf("IsPathAllowed(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if !testConfig(false).IsPathAllowed("/etc") {
		t.Error("expected every path to be allowed outside sandbox mode")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig(true, Policy{Root: "/home/student/"}, "", "")
	if cfg.Root() != "/home/student" {
		t.Errorf("Root() = %q", cfg.Root())
	}

	cfg = NewConfig(true, Policy{}, "", "")
	if cfg.Root() != DefaultRoot {
		t.Errorf("Root() = %q, want %q", cfg.Root(), DefaultRoot)
	}
}

func TestResolve(t *testing.T) {
	const root = "/home/student"

	tests := []struct {
		name  string
		token string
		cwd   string
		want  string
	}{
		{"empty", "", root + "/examples", root + "/examples"},
		{"dot", ".", root, root},
		{"same as cwd", root + "/examples", root + "/examples", root + "/examples"},
		{"parent at root", "..", root, root},
		{"parent below root", "..", root + "/examples", root},
		{"parent of root parent", "..", "/home", "/"},
		{"home", "~", root + "/examples", root},
		{"absolute", "/etc", root, "/etc"},
		{"relative", "examples", root, root + "/examples"},
		{"relative multi segment not collapsed", "examples/../x", root, root + "/examples/../x"},
		{"cwd at filesystem root", "tmp", "/", "/tmp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.token, tt.cwd, root); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.token, tt.cwd, got, tt.want)
			}
		})
	}
}
