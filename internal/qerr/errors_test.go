package qerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := Syntax(Pos{Offset: 4, Line: 1, Column: 5}, "unexpected %q", ")")
	assert.Equal(t, `SYNTAX_ERROR at 1:5: unexpected ")"`, err.Error())

	err = Wrap(CodeStore, errors.New("disk full"), "insert file")
	assert.Equal(t, "STORE_ERROR: insert file: disk full", err.Error())
}

func TestError_IsMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("assemble: %w", Cycle([]string{"a:q1", "a:q2", "a:q1"}))

	assert.True(t, errors.Is(err, ErrCyclicQuery))
	assert.False(t, errors.Is(err, ErrSyntax))
	assert.True(t, IsCycle(err))
	assert.Equal(t, CodeCyclicQuery, CodeOf(err))

	var qe *Error
	assert.True(t, errors.As(err, &qe))
	assert.Equal(t, []string{"a:q1", "a:q2", "a:q1"}, qe.Path)
	assert.Contains(t, qe.Message, "a:q1 → a:q2 → a:q1")
}

func TestStore_Classifies(t *testing.T) {
	assert.Nil(t, Store(nil, "op"))
	assert.True(t, IsCancelled(Store(context.Canceled, "query")))
	assert.Equal(t, CodeStore, CodeOf(Store(errors.New("boom"), "query")))

	orig := New(CodeUnknownAttribute, "file.bogus")
	assert.Same(t, orig, Store(orig, "query"))
}

func TestCodeOf_Plain(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}
