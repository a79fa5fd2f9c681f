package sessionregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterSupersedesOlderHandle(t *testing.T) {
	r := New()
	key := Key("u1", "t1")

	older := NewCancelHandle()
	r.Register(key, older)
	assert.False(t, older.Canceled())

	newer := NewCancelHandle()
	r.Register(key, newer)

	assert.True(t, older.Canceled(), "registering a new handle must supersede (cancel) the older one")
	assert.False(t, newer.Canceled())
}

func TestUnregisterIsIdentityCompare(t *testing.T) {
	r := New()
	key := Key("u1", "t1")

	older := NewCancelHandle()
	r.Register(key, older)

	newer := NewCancelHandle()
	r.Register(key, newer)

	// The superseded older request finishes late and tries to unregister
	// itself; it must not clobber the newer owner.
	r.Unregister(key, older)
	assert.True(t, r.Cancel(key), "newer handle must still be registered")
}

func TestCancelReturnsFalseWhenAbsent(t *testing.T) {
	r := New()
	assert.False(t, r.Cancel(Key("nobody", "nothread")))
}

func TestUnregisterRemovesCurrentOwner(t *testing.T) {
	r := New()
	key := Key("u1", "t1")
	h := NewCancelHandle()
	r.Register(key, h)
	r.Unregister(key, h)
	assert.False(t, r.Cancel(key))
}
