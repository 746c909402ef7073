package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	assert.True(t, strings.HasPrefix(ua, "devrelay/"+Version+" "))
	assert.Contains(t, ua, runtime.GOOS+"/"+runtime.GOARCH)
}
