package observable

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter interface {
	Hit(name string) error
}

type recorder struct {
	name string
	log  *[]string
	fail error
	boom bool
}

func (r recorder) Hit(event string) error {
	if r.boom {
		panic("boom")
	}
	*r.log = append(*r.log, r.name+":"+event)
	return r.fail
}

func TestNotifyInRegistrationOrder(t *testing.T) {
	var log []string
	registry := New[counter](nil)
	registry.Register(recorder{name: "a", log: &log})
	registry.Register(recorder{name: "b", log: &log})
	registry.Register(recorder{name: "c", log: &log})

	registry.Notify("hit", func(l counter) error { return l.Hit("x") })

	assert.Equal(t, []string{"a:x", "b:x", "c:x"}, log)
}

func TestFailingListenersAreIsolated(t *testing.T) {
	var log []string
	registry := New[counter](nil)
	registry.Register(recorder{name: "a", log: &log, fail: errors.New("nope")})
	registry.Register(recorder{name: "b", log: &log, boom: true})
	registry.Register(recorder{name: "c", log: &log})

	require.NotPanics(t, func() {
		registry.Notify("hit", func(l counter) error { return l.Hit("x") })
	})
	assert.Equal(t, []string{"a:x", "c:x"}, log)
}

func TestUnregister(t *testing.T) {
	var log []string
	registry := New[counter](nil)
	unregister := registry.Register(recorder{name: "a", log: &log})
	registry.Register(recorder{name: "b", log: &log})

	unregister()
	unregister()
	assert.Equal(t, 1, registry.Len())

	registry.Notify("hit", func(l counter) error { return l.Hit("y") })
	assert.Equal(t, []string{"b:y"}, log)
}

func TestFuncListeners(t *testing.T) {
	registry := New[func(int)](nil)
	total := 0
	registry.Register(func(n int) { total += n })
	registry.Register(func(n int) { total += n * 10 })

	registry.Notify("add", func(fn func(int)) error {
		fn(2)
		return nil
	})
	assert.Equal(t, 22, total)
}
