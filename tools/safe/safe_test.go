package safe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRecovers(t *testing.T) {
	assert.False(t, Run("boom", func() { panic("boom") }))
	assert.True(t, Run("fine", func() {}))
}

func TestGoRecovers(t *testing.T) {
	done := make(chan struct{})
	Go("boom", func() {
		defer close(done)
		panic("boom")
	})
	<-done
}

func TestMustNotNil(t *testing.T) {
	var p *int
	assert.Panics(t, func() { MustNotNil(p, "p") })
	assert.Panics(t, func() { MustNotNil(nil, "nil") })
	assert.NotPanics(t, func() { MustNotNil(1, "int") })
	assert.NotPanics(t, func() { MustNotNil(&struct{}{}, "ptr") })
}
