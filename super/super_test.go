package super

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfs-dev/go-bfsd/common"
)

func TestLayout(t *testing.T) {
	// the regions must tile the metadata prefix with no gaps
	assert.Equal(t, common.Bnum(1), BitmapBlockStart())
	assert.Equal(t, InodeMapStart(), BitmapBlockStart()+common.Bnum(NBitmapBlocks()))
	assert.Equal(t, InodeTableStart(), InodeMapStart()+1)
	assert.Equal(t, DirStart(), InodeTableStart()+common.Bnum(NInodeBlocks()))
	assert.Equal(t, DataStart(), DirStart()+common.Bnum(NDirBlocks()))
}

func TestEncodeValidate(t *testing.T) {
	sb := MkFsSuper(4096)
	got := Decode(sb.Encode())
	assert.Equal(t, sb, got)
	require.NoError(t, got.Validate(4096))
}

func TestValidateRejects(t *testing.T) {
	sb := MkFsSuper(4096)
	assert.ErrorIs(t, sb.Validate(5000), common.ErrInvalidState)

	bad := MkFsSuper(4096)
	bad.BlockSize = 512
	assert.ErrorIs(t, bad.Validate(4096), common.ErrInvalidState)

	bad = MkFsSuper(uint64(DataStart()))
	assert.ErrorIs(t, bad.Validate(uint64(DataStart())), common.ErrInvalidState)

	bad = MkFsSuper(common.NBITBLOCK + 1)
	assert.ErrorIs(t, bad.Validate(common.NBITBLOCK+1), common.ErrInvalidState)

	bad = MkFsSuper(4096)
	bad.NInode = 64
	assert.ErrorIs(t, bad.Validate(4096), common.ErrInvalidState)

	bad = MkFsSuper(4096)
	bad.DirBlock = DirStart() + 1
	assert.ErrorIs(t, bad.Validate(4096), common.ErrInvalidState)
}
