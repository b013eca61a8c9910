package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "面试准备", escapeLike("面试准备"))
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\path`, escapeLike(`c:\path`))
	assert.Equal(t, "", escapeLike(""))
}
