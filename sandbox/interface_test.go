package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCodeFileName(t *testing.T) {
	tests := []struct {
		language string
		expected string
		wantErr  bool
	}{
		{LanguagePython, FilenamePython, false},
		{LanguageGo, FilenameGo, false},
		{LanguageCPP, FilenameCPP, false},
		{"javascript", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			result, err := GetCodeFileName(tt.language)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestGetRunCommand(t *testing.T) {
	tests := []struct {
		language string
		contains string
		wantErr  bool
	}{
		{LanguagePython, "python3 -I -S main.py", false},
		{LanguageGo, "go build -o /tmp/app main.go && /tmp/app", false},
		{LanguageCPP, "g++ -std=c++17 -O2 -o /tmp/app main.cpp && /tmp/app", false},
		{"rust", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			result, err := GetRunCommand(tt.language)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, result, tt.contains)
		})
	}
}

func TestGetImage(t *testing.T) {
	images := map[string]string{LanguagePython: "registry.local/python:3.13"}

	assert.Equal(t, "registry.local/python:3.13", GetImage(images, LanguagePython))
	assert.Equal(t, ImageGo, GetImage(images, LanguageGo))
	assert.Equal(t, ImageCPP, GetImage(nil, LanguageCPP))
}

func TestResolveTimeout(t *testing.T) {
	cfg := &Config{DefaultTimeout: 3 * time.Second}

	assert.Equal(t, time.Second, resolveTimeout(ExecuteRequest{Timeout: time.Second}, cfg))
	assert.Equal(t, 3*time.Second, resolveTimeout(ExecuteRequest{}, cfg))
	assert.Equal(t, 10*time.Second, resolveTimeout(ExecuteRequest{}, &Config{}))
}

func TestLimitedBuffer(t *testing.T) {
	buf := &limitedBuffer{limit: 5}

	n, err := buf.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = buf.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", buf.String())

	n, err = buf.Write([]byte("zz"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcde", buf.String())
}
