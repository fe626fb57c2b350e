package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Parallel()

	err := New(CodeInvalidConfig, "configuration is invalid")
	assert.Equal(t, CodeInvalidConfig, err.Code)
	assert.Equal(t, CategoryConfiguration, err.Category)
	assert.Equal(t, "configuration is invalid", err.Message)
	assert.False(t, err.Timestamp.IsZero())
}

func TestRetryableDefaults(t *testing.T) {
	t.Parallel()

	assert.True(t, New(CodeStoreTimeout, "timeout").Retryable)
	assert.True(t, New(CodeStoreCommandFailed, "failed").Retryable)
	assert.False(t, New(CodeInvalidConfig, "bad config").Retryable)
}

func TestCategoryFor(t *testing.T) {
	t.Parallel()

	cases := map[Code]Category{
		CodeMissingConfig:         CategoryConfiguration,
		CodeStoreCommandFailed:    CategoryStore,
		CodeClassifierDisagreement: CategoryClassifier,
		CodeMountFailed:           CategoryFilesystem,
		CodeAlreadyMounted:        CategoryState,
		CodeMergeConflict:         CategorySync,
		CodeInternal:              CategoryInternal,
	}
	for code, want := range cases {
		assert.Equal(t, want, New(code, "x").Category, "code %s", code)
	}
}

func TestErrorChaining(t *testing.T) {
	t.Parallel()

	err := New(CodeStoreCommandFailed, "add failed").
		WithComponent("objectstore").
		WithOperation("add").
		WithPath("/a.txt").
		WithContext("exit_code", "1").
		WithDetail("attempt", 2)

	assert.Equal(t, "objectstore", err.Component)
	assert.Equal(t, "add", err.Operation)
	assert.Equal(t, "/a.txt", err.Path)
	assert.Equal(t, "1", err.Context["exit_code"])
	assert.Equal(t, 2, err.Details["attempt"])
	assert.Contains(t, err.Error(), "objectstore:add")
}

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()

	cause := New(CodeInternal, "root cause")
	wrapped := Wrap(CodeStoreCommandFailed, cause, "wrapped")
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestIs(t *testing.T) {
	t.Parallel()

	a := New(CodeStoreTimeout, "a")
	b := New(CodeStoreTimeout, "b")
	c := New(CodeInternal, "c")

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
}
