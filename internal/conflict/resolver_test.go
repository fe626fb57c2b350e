package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllLocal(t *testing.T) {
	choices, err := AllLocal{}.Resolve(context.Background(), []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, Local, choices["a.txt"])
	assert.Equal(t, Local, choices["b.txt"])
}

func TestAllRemote(t *testing.T) {
	choices, err := AllRemote{}.Resolve(context.Background(), []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, Remote, choices["a.txt"])
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "local", Local.String())
	assert.Equal(t, "remote", Remote.String())
}
