package security

import "regexp"

// anyLanguage keys patterns that apply whatever the language.
const anyLanguage = "*"

type rule struct {
	name        string
	description string
	patterns    map[string][]*regexp.Regexp
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// Rule names reported in threats.
const (
	RuleProcessAccess     = "process access"
	RuleFilesystemAccess  = "filesystem access"
	RuleNetworkAccess     = "network access"
	RuleDynamicCode       = "dynamic code generation"
	RuleReflection        = "reflection into host internals"
	RuleModuleLoading     = "module loading"
	RuleStatementChaining = "multi-statement injection"
	RuleResourceAbuse     = "resource abuse"
)

var rules = []rule{
	{
		name:        RuleProcessAccess,
		description: "process and operating system control is not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageJavaScript: patterns(
				`child_process`,
				`\bprocess\s*\.\s*(exit|kill|env|binding|dlopen|mainModule|argv|cwd|chdir)\b`,
				`\bDeno\s*\.\s*(run|exit|env|Command)\b`,
			),
			LanguagePython: patterns(
				`\bsubprocess\b`,
				`\bos\s*\.\s*(system|popen|exec\w*|spawn\w*|fork|kill|environ|getenv)\b`,
				`\bsignal\s*\.`,
				`\bmultiprocessing\b`,
			),
			LanguageGo: patterns(
				`"os/exec"`,
				`"syscall"`,
				`"os/signal"`,
				`\bos\s*\.\s*(Exit|Getenv|Environ|StartProcess|Setenv|Getpid)\b`,
			),
			LanguageCPP: patterns(
				`\bsystem\s*\(`,
				`\bfork\s*\(`,
				`\bexec[lv]p?e?\s*\(`,
				`\bpopen\s*\(`,
				`\bkill\s*\(`,
				`\bgetenv\s*\(`,
			),
		},
	},
	{
		name:        RuleFilesystemAccess,
		description: "filesystem access is not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageJavaScript: patterns(
				`\brequire\s*\(\s*['"\x60](node:)?fs(/promises)?['"\x60]\s*\)`,
				`\bfs\s*\.\s*(read|write|append|unlink|rm|mkdir|open|stat|readdir|createReadStream|createWriteStream|copyFile|rename)\w*`,
				`\bDeno\s*\.\s*(readFile|writeFile|readTextFile|writeTextFile|open|remove)\w*`,
			),
			LanguagePython: patterns(
				`\bopen\s*\(`,
				`\bshutil\b`,
				`\bpathlib\b`,
				`\bos\s*\.\s*(remove|unlink|rmdir|listdir|walk|chmod|chown|rename|makedirs|mkdir|scandir)\b`,
				`\bio\s*\.\s*open\b`,
			),
			LanguageGo: patterns(
				`\bos\s*\.\s*(Open|OpenFile|Create|ReadFile|WriteFile|Remove|RemoveAll|Mkdir|MkdirAll|ReadDir|Chmod|Chown|Rename|Symlink)\b`,
				`"io/ioutil"`,
				`"io/fs"`,
			),
			LanguageCPP: patterns(
				`\bfopen\s*\(`,
				`<fstream>`,
				`\b(ifstream|ofstream|fstream)\b`,
				`\bunlink\s*\(`,
				`\bremove\s*\(`,
				`<filesystem>`,
			),
			LanguageSQL: patterns(
				`(?i)\bpg_(read_file|read_binary_file|ls_dir|stat_file)\b`,
				`(?i)\blo_(import|export)\b`,
				`(?i)\bcopy\b[\s\S]*\b(from|to)\b\s*'`,
			),
		},
	},
	{
		name:        RuleNetworkAccess,
		description: "network access is not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageJavaScript: patterns(
				`\brequire\s*\(\s*['"\x60](node:)?(net|http|https|http2|dgram|dns|tls)['"\x60]\s*\)`,
				`\bfetch\s*\(`,
				`\bXMLHttpRequest\b`,
				`\bWebSocket\b`,
			),
			LanguagePython: patterns(
				`\bsocket\b`,
				`\burllib\d?\b`,
				`\brequests\b`,
				`\bhttp\s*\.\s*client\b`,
				`\bftplib\b`,
			),
			LanguageGo: patterns(
				`"net"`,
				`"net/\w+"`,
				`\bnet\s*\.\s*(Dial|Listen)\w*`,
			),
			LanguageCPP: patterns(
				`<sys/socket\.h>`,
				`<netinet/`,
				`<arpa/inet\.h>`,
				`\bsocket\s*\(`,
			),
			LanguageSQL: patterns(
				`(?i)\bdblink\w*\b`,
				`(?i)\bprogram\b\s*'`,
			),
		},
	},
	{
		name:        RuleDynamicCode,
		description: "dynamic code generation is not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageJavaScript: patterns(
				`\beval\s*\(`,
				`\bnew\s+Function\s*\(`,
				`(^|[^.\w])Function\s*\(`,
				`\.\s*constructor\s*\(`,
				`\[\s*['"\x60]constructor['"\x60]\s*\]\s*\(`,
				`\bimport\s*\(`,
				`\bset(Timeout|Interval)\s*\(\s*['"\x60]`,
				`\brequire\s*\(\s*['"\x60](node:)?vm['"\x60]\s*\)`,
			),
			LanguagePython: patterns(
				`\beval\s*\(`,
				`\bexec\s*\(`,
				`\bcompile\s*\(`,
				`__import__`,
				`\bimportlib\b`,
			),
			LanguageGo: patterns(
				`"plugin"`,
			),
			LanguageSQL: patterns(
				`(?i)\bexecute\b\s+(format|'|\w+\s*\()`,
			),
		},
	},
	{
		name:        RuleReflection,
		description: "reflection into host internals is not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageJavaScript: patterns(
				`\bconstructor\s*\.\s*constructor\b`,
				`\bconstructor\s*\[\s*['"\x60]constructor`,
				`__proto__`,
				`\bReflect\s*\.`,
				`\bnew\s+Proxy\b`,
				`__defineGetter__|__lookupGetter__`,
			),
			LanguagePython: patterns(
				`__(subclasses|globals|builtins|code|class|bases|mro|dict|getattribute)__`,
				`\bctypes\b`,
				`\binspect\b`,
				`\bsys\s*\.\s*modules\b`,
			),
			LanguageGo: patterns(
				`"unsafe"`,
				`"reflect"`,
				`"runtime/debug"`,
			),
			LanguageCPP: patterns(
				`\b__asm__\b|\basm\s*\(`,
				`<dlfcn\.h>`,
			),
		},
	},
	{
		name:        RuleModuleLoading,
		description: "loading host modules is not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageJavaScript: patterns(
				`\brequire\s*\(`,
				`(?m)^\s*import\s+.*\bfrom\b`,
				`\bmodule\s*\.\s*(constructor|require)\b`,
			),
		},
	},
	{
		name:        RuleStatementChaining,
		description: "statement chaining and comment injection are not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageSQL: patterns(
				`;\s*\S`,
				`--`,
				`/\*`,
				`\*/`,
				`(?i)\b(xp|sp)_\w+`,
			),
		},
	},
	{
		name:        RuleResourceAbuse,
		description: "resource exhausting primitives are not allowed",
		patterns: map[string][]*regexp.Regexp{
			LanguageSQL: patterns(
				`(?i)\bpg_sleep\w*\b`,
				`(?i)\bgenerate_series\s*\([^)]*\d{7,}`,
			),
			LanguageJavaScript: patterns(
				`\bnew\s+(Shared)?ArrayBuffer\s*\(\s*\d{9,}`,
				`\bAtomics\s*\.\s*wait\b`,
			),
			LanguagePython: patterns(
				`\bresource\s*\.\s*setrlimit\b`,
			),
		},
	},
}
