package engine

import (
	"testing"
	"time"

	"github.com/isdmx/codearena/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "2", "2"},
		{"trailing newline", "2\n", "2"},
		{"crlf", "a\r\nb\r\n", "a\nb"},
		{"bare cr", "a\rb", "a\nb"},
		{"trailing spaces per line", "a  \nb\t\n", "a\nb"},
		{"leading blank lines", "\n\n  x", "x"},
		{"inner spacing kept", "a  b", "a  b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeOutput(tt.in))
		})
	}
}

func TestCompareOutputsProperties(t *testing.T) {
	outputs := []string{"", "2", "hello\nworld", "a\r\nb  \r\n", "[1,2,3]"}
	for _, out := range outputs {
		assert.True(t, CompareOutputs(out, out), "reflexive for %q", out)
	}

	assert.True(t, CompareOutputs("line1\r\nline2\r\n", "line1\nline2"))
	assert.True(t, CompareOutputs("x   \n", "x"))
	assert.False(t, CompareOutputs("x", "y"))
}

func TestCompareText(t *testing.T) {
	assert.True(t, CompareText(&Result{Success: true, Output: "2\n"}, "2"))
	assert.False(t, CompareText(&Result{Success: false, Output: "2"}, "2"))
	assert.False(t, CompareText(nil, "2"))
}

func TestCompareStructured(t *testing.T) {
	ok := func(out string) *Result { return &Result{Success: true, Output: out} }

	assert.True(t, CompareStructured(ok(`[{"id":1,"name":"a"}]`), `[ {"name": "a", "id": 1} ]`))
	assert.False(t, CompareStructured(ok(`[{"id":1},{"id":2}]`), `[{"id":2},{"id":1}]`), "order sensitive")
	assert.False(t, CompareStructured(ok(`[{"id":1}]`), `[{"id":"1"}]`))
	assert.True(t, CompareStructured(ok("not json"), "not json\r\n"), "string fallback")
	assert.False(t, CompareStructured(ok("[1]"), "not json"))
	assert.False(t, CompareStructured(&Result{Success: false, Output: "[1]"}, "[1]"))
}

func TestTimeoutResult(t *testing.T) {
	r := TimeoutResult("partial\n", 5300, 5*time.Second)
	assert.False(t, r.Success)
	assert.Equal(t, ErrExecutionTimeout, r.Error)
	assert.Equal(t, int64(5000), r.ExecutionTimeMs)
	assert.Equal(t, "partial", r.Output)
	assert.True(t, r.TimedOut())

	r = TimeoutResult("", 4990, 5*time.Second)
	assert.Equal(t, int64(4990), r.ExecutionTimeMs)
}

func TestResolveTimeout(t *testing.T) {
	meta := NewMetadata("javascript", "test", 5*time.Second, 0)

	assert.Equal(t, 5*time.Second, ResolveTimeout(meta, 0))
	assert.Equal(t, 2*time.Second, ResolveTimeout(meta, 2*time.Second))
	assert.Equal(t, 5*time.Second, ResolveTimeout(meta, time.Minute))
}

func TestCheckSize(t *testing.T) {
	err := CheckSize("   \n", 10)
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.RuleEmptyCode, ae.Rule)

	err = CheckSize("0123456789A", 10)
	ae, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.RuleCodeTooLarge, ae.Rule)

	require.NoError(t, CheckSize("x", 0))
}

func TestMetadataJSON(t *testing.T) {
	meta := NewMetadata("sql", "postgres", 3*time.Second, 1<<20, ".sql", ".psql")
	data, err := meta.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"language":"sql","version":"postgres","supportedExtensions":[".psql",".sql"],"maxExecutionTimeMs":3000,"maxMemoryBytes":1048576}`, string(data))

	var decoded Metadata
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, meta.Language, decoded.Language)
	assert.Equal(t, meta.MaxExecutionTime, decoded.MaxExecutionTime)
	assert.True(t, decoded.SupportedExtensions.Contains(".sql", ".psql"))
}
