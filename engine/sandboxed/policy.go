package sandboxed

import (
	"regexp"

	"github.com/isdmx/codearena/sandbox"
)

type forbidden struct {
	pattern *regexp.Regexp
	what    string
}

type required struct {
	pattern *regexp.Regexp
	message string
}

// Policy describes one sandboxed language: its identity and the static checks
// run before anything reaches the sandbox.
type Policy struct {
	Language   string
	Version    string
	Extensions []string
	forbidden  []forbidden
	required   []required
}

func deny(expr, what string) forbidden {
	return forbidden{pattern: regexp.MustCompile(expr), what: what}
}

// PythonPolicy forbids process, filesystem, network and dynamic-code modules.
func PythonPolicy() Policy {
	return Policy{
		Language:   sandbox.LanguagePython,
		Version:    "CPython 3.12",
		Extensions: []string{".py"},
		forbidden: []forbidden{
			deny(`(?m)^\s*(import|from)\s+(os|sys|subprocess|socket|shutil|ctypes|multiprocessing|threading|pathlib|importlib|urllib|http|requests|asyncio|signal|pty|resource)\b`, "import of a restricted module"),
			deny(`\b(eval|exec|compile|__import__|globals|locals|vars|getattr|setattr|delattr|breakpoint)\s*\(`, "dynamic code or reflection builtin"),
			deny(`\bopen\s*\(`, "file access"),
			deny(`__(subclasses|bases|mro|globals|builtins|code|class)__`, "interpreter internals"),
		},
	}
}

// GoPolicy forbids unsafe, os/exec, networking, cgo and reflection packages and
// requires an executable main package.
func GoPolicy() Policy {
	return Policy{
		Language:   sandbox.LanguageGo,
		Version:    "Go 1.25",
		Extensions: []string{".go"},
		forbidden: []forbidden{
			deny(`"(unsafe|os|os/exec|os/signal|os/user|syscall|net|net/[\w/]+|plugin|reflect|runtime/debug|io/ioutil|path/filepath|embed)"`, "import of a restricted package"),
			deny(`(?m)^\s*import\s+"C"`, "cgo"),
			deny(`//\s*go:(linkname|cgo_\w+|embed)`, "compiler directive"),
		},
		required: []required{
			{regexp.MustCompile(`(?m)^\s*package\s+main\b`), "program must declare package main"},
			{regexp.MustCompile(`\bfunc\s+main\s*\(\s*\)`), "program must define func main()"},
		},
	}
}

// CPPPolicy forbids process creation, raw syscalls, sockets, file streams and
// inline assembly, and requires a main function.
func CPPPolicy() Policy {
	return Policy{
		Language:   sandbox.LanguageCPP,
		Version:    "g++ 14 (C++17)",
		Extensions: []string{".cpp", ".cc", ".cxx"},
		forbidden: []forbidden{
			deny(`#\s*include\s*<(unistd\.h|sys/[\w/]+\.h|fstream|filesystem|thread|dlfcn\.h|netinet/[\w/]+\.h|arpa/[\w/]+\.h|signal\.h|csignal|spawn\.h)>`, "include of a restricted header"),
			deny(`\b(system|popen|fork|vfork|execl|execlp|execle|execv|execvp|execve|syscall|kill|ptrace|dlopen|socket|connect|fopen|freopen)\s*\(`, "restricted call"),
			deny(`\b(asm|__asm__)\b`, "inline assembly"),
		},
		required: []required{
			{regexp.MustCompile(`\bint\s+main\s*\(`), "program must define int main()"},
		},
	}
}
