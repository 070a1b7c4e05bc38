package mount

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocator_AllocateDeallocate(t *testing.T) {
	a := New("/tmp/bksd-mount-test")

	dir, err := a.Allocate("device-uuid-1")

	assert.Nil(t, err)
	assert.DirExists(t, dir)
	assert.True(t, strings.HasSuffix(dir, "/device-uuid-1"))

	err = a.Deallocate(dir)

	assert.Nil(t, err)

	_, err = os.Stat(dir)
	_, ok := err.(*os.PathError)

	assert.True(t, ok)

	os.RemoveAll("/tmp/bksd-mount-test")
}

func TestAllocator_Allocate_Idempotent(t *testing.T) {
	base := "/tmp/bksd-mount-test-2"
	defer os.RemoveAll(base)

	a := New(base)

	dir1, err := a.Allocate("device-uuid-2")
	assert.Nil(t, err)

	dir2, err := a.Allocate("device-uuid-2")
	assert.Nil(t, err)
	assert.Equal(t, dir1, dir2)
}
