package bam

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReg2Bin(t *testing.T) {
	// Values any conformant implementation must reproduce exactly.
	assert.Equal(t, uint16(4681), Reg2Bin(0, 16384))
	assert.Equal(t, uint16(585), Reg2Bin(0, 16385))
	assert.Equal(t, uint16(0), Reg2Bin(0, 1<<29))

	assert.Equal(t, uint16(4681), Reg2Bin(99, 104))
	assert.Equal(t, uint16(4682), Reg2Bin(1<<14, 1<<14+1))
	assert.Equal(t, uint16(8), Reg2Bin(7<<26, 8<<26))
}

func TestReg2Bins(t *testing.T) {
	assert.Equal(t, []uint16{0, 1, 9, 73, 585, 4681}, Reg2Bins(0, 1))
	assert.Equal(t, []uint16{0, 1, 9, 73, 585, 4681, 4682}, Reg2Bins(0, 1<<14+1))
	assert.Nil(t, Reg2Bins(100, 100))
	assert.Nil(t, Reg2Bins(maxBinPos, maxBinPos+100))

	// The whole-reference query touches every level-1 bin.
	all := Reg2Bins(0, 1<<29)
	assert.Equal(t, uint16(0), all[0])
	assert.Contains(t, all, uint16(1))
	assert.Contains(t, all, uint16(8))
	assert.Contains(t, all, uint16(4681))
	assert.Contains(t, all, uint16(37448)) // the last leaf bin
}

func TestReg2BinMemberOfReg2Bins(t *testing.T) {
	rnd := rand.New(rand.NewSource(0))
	for i := 0; i < 1000; i++ {
		beg := rnd.Intn(maxBinPos - 1)
		end := beg + 1 + rnd.Intn(maxBinPos-beg)
		assert.Contains(t, Reg2Bins(beg, end), Reg2Bin(beg, end),
			"interval [%d,%d)", beg, end)
	}
}
