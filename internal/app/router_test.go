package app_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sunil55999/autoforwardx/internal/app"
)

func TestParseOrigins(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"*"}, app.ParseOrigins(""))
	assert.Equal(t, []string{"*"}, app.ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, app.ParseOrigins(" https://a.example, https://b.example "))
	assert.Equal(t, []string{"*"}, app.ParseOrigins(" , "))
}
