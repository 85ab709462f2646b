package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	orig := [3]string{Version, Commit, Date}
	t.Cleanup(func() { Version, Commit, Date = orig[0], orig[1], orig[2] })

	Version, Commit, Date = "v0.3.0", "abc1234", "2026-10-01"
	assert.Equal(t, "prodtest v0.3.0 (commit abc1234, built 2026-10-01)", Info())
}
