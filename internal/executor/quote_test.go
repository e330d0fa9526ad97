package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	assert.Equal(t, `'hello'`, Quote("hello"))
	assert.Equal(t, `''`, Quote(""))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
	assert.Equal(t, `'a'\'''\''b'`, Quote("a''b"))
	assert.Equal(t, `'$(rm -rf /)'`, Quote("$(rm -rf /)"))
	assert.Equal(t, `'a; echo b'`, Quote("a; echo b"))
}

func TestValidateName(t *testing.T) {
	valid := []string{"myapp", "my-app", "my.app", "a", "app-2", "0abc"}
	for _, name := range valid {
		assert.NoError(t, ValidateName("app name", name), name)
	}

	invalid := []string{"", "-app", "app-", "App", "my_app", "a b", "app;rm", "ap@p", ".app"}
	for _, name := range invalid {
		assert.Error(t, ValidateName("app name", name), name)
	}
}

func TestValidateNameMentionsKind(t *testing.T) {
	err := ValidateName("namespace", "Bad Name")
	assert.ErrorContains(t, err, "namespace")
}
