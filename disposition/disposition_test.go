package disposition

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		d    Disposition
		want string
	}{
		{Redirect{URL: "https://auth.example/"}, "REDIR:https://auth.example/"},
		{Verified{Identity: "https://user.example/"}, "VERIFIED:https://user.example/"},
		{Notify{CData: "check your email"}, "NOTIFY:check your email"},
		{Error{Message: "Invalid token"}, "ERROR:Invalid token"},
		{NeedsPost{URL: "https://app.example/cb", Data: url.Values{}}, "NEEDS-POST:https://app.example/cb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.String())
	}
}

func TestErrorf(t *testing.T) {
	e := Errorf("/home", "failed after %d tries", 3)
	assert.Equal(t, "failed after 3 tries", e.Message)
	assert.Equal(t, "/home", e.Redir)
}
