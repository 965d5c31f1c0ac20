package gate

import "sort"

// Wildcard marks a module whose every attribute is denied.
const Wildcard = "*"

// Denylist names operationally dangerous modules and attributes.
type Denylist struct {
	// Modules maps a module path to denied attributes. A Wildcard entry
	// denies the module as a whole, including importing it.
	Modules map[string][]string
	// Builtins are bare callables that are denied, e.g. eval.
	Builtins []string
}

// DefaultDenylist covers process control, filesystem deletion, arbitrary
// code execution and raw process spawning.
func DefaultDenylist() Denylist {
	return Denylist{
		Modules: map[string][]string{
			"os": {
				"remove", "unlink", "rmdir", "removedirs", "system", "popen",
				"kill", "killpg", "fork", "forkpty", "execv", "execve", "execl",
				"execle", "execlp", "execvp", "execvpe", "spawnl", "spawnv",
				"spawnve", "posix_spawn", "_exit", "abort", "chmod", "chown",
				"truncate",
			},
			"shutil":     {"rmtree", "move", "chown"},
			"subprocess": {Wildcard},
			"pty":        {Wildcard},
			"ctypes":     {Wildcard},
			"signal":     {"pthread_kill"},
			"sys":        {"exit"},
		},
		Builtins: []string{"eval", "exec", "__import__", "compile"},
	}
}

// Whole reports whether mod is denied in its entirety.
func (d Denylist) Whole(mod string) bool {
	for _, a := range d.Modules[mod] {
		if a == Wildcard {
			return true
		}
	}
	return false
}

// Denied reports whether mod.attr is denied.
func (d Denylist) Denied(mod, attr string) bool {
	for _, a := range d.Modules[mod] {
		if a == Wildcard || a == attr {
			return true
		}
	}
	return false
}

// Listed reports whether mod has any denylist entry.
func (d Denylist) Listed(mod string) bool {
	return len(d.Modules[mod]) > 0
}

func (d Denylist) builtin(name string) bool {
	for _, b := range d.Builtins {
		if b == name {
			return true
		}
	}
	return false
}

// ModuleNames returns the listed module paths in sorted order.
func (d Denylist) ModuleNames() []string {
	names := make([]string, 0, len(d.Modules))
	for m := range d.Modules {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}
