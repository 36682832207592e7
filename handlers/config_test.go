package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigAccessors(t *testing.T) {
	c := Config{
		"NAME":     "my site",
		"ENABLED":  true,
		"DISABLED": false,
		"COUNT":    42,
		"EMPTY":    "",
		"FUNC":     func() {},
	}

	assert.Equal(t, "my site", c.String("NAME"))
	assert.Empty(t, c.String("COUNT"))
	assert.Empty(t, c.String("MISSING"))

	assert.True(t, c.Bool("ENABLED"))
	assert.False(t, c.Bool("DISABLED"))
	assert.False(t, c.Bool("NAME"))
	assert.False(t, c.Bool("MISSING"))

	assert.True(t, c.Has("NAME"))
	assert.True(t, c.Has("ENABLED"))
	assert.True(t, c.Has("COUNT"))
	assert.True(t, c.Has("FUNC"))
	assert.False(t, c.Has("EMPTY"))
	assert.False(t, c.Has("DISABLED"))
	assert.False(t, c.Has("MISSING"))
}

func TestConfigSeconds(t *testing.T) {
	def := 10 * time.Minute
	c := Config{
		"INT":      90,
		"INT64":    int64(120),
		"FLOAT":    1.5,
		"DURATION": 2 * time.Minute,
		"ZERO":     0,
		"STRING":   "90",
	}

	assert.Equal(t, 90*time.Second, c.Seconds("INT", def))
	assert.Equal(t, 2*time.Minute, c.Seconds("INT64", def))
	assert.Equal(t, 1500*time.Millisecond, c.Seconds("FLOAT", def))
	assert.Equal(t, 2*time.Minute, c.Seconds("DURATION", def))
	assert.Equal(t, def, c.Seconds("ZERO", def))
	assert.Equal(t, def, c.Seconds("STRING", def))
	assert.Equal(t, def, c.Seconds("MISSING", def))
}
