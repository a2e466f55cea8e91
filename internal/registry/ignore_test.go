package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"patchbay/internal/domain"
)

func TestIgnoreSet(t *testing.T) {
	set := NewIgnoreSet()
	announce := domain.Address{Client: 0, Port: 1}

	assert.False(t, set.Contains(announce))
	assert.True(t, set.Ignore(announce))
	assert.False(t, set.Ignore(announce), "second add reports nothing new")
	assert.True(t, set.Contains(announce))

	set.Ignore(domain.Address{Client: 130, Port: 0})
	set.Ignore(domain.Address{Client: 0, Port: 0})
	assert.Equal(t, []domain.Address{{Client: 0, Port: 0}, {Client: 0, Port: 1}, {Client: 130, Port: 0}}, set.List())

	set.Unignore(announce)
	assert.False(t, set.Contains(announce))

	set.Ignore(domain.Address{Client: 130, Port: 1})
	set.UnignoreClient(130)
	assert.Equal(t, []domain.Address{{Client: 0, Port: 0}}, set.List())

	set.Reset()
	assert.Empty(t, set.List())
}
