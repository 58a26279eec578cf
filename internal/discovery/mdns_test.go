package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalName(t *testing.T) {
	assert.Equal(t, "homeassist.local", LocalName(""))
	assert.Equal(t, "hub.local", LocalName("hub"))
	assert.Equal(t, "hub.local", LocalName(" Hub.local. "))
}

func TestCloseWithoutStart(t *testing.T) {
	r := NewResponder("hub", nil)
	assert.Equal(t, "hub.local", r.Name())
	assert.NoError(t, r.Close())
}
