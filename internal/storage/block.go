package storage

import "fmt"

// BlockID identifies one fixed-size block of a disk file by file name and
// block number. It is a value type: two BlockIDs referring to the same block
// compare equal and hash equal, so it is usable as a map key.
type BlockID struct {
	file string
	num  int
}

// NewBlockID builds the identifier for block num of file. num must be
// non-negative.
func NewBlockID(file string, num int) BlockID {
	if num < 0 {
		panic(fmt.Sprintf("storage: negative block number %d for file %s", num, file))
	}
	return BlockID{file: file, num: num}
}

// File returns the name of the file the block belongs to.
func (b BlockID) File() string { return b.file }

// Number returns the position of the block within its file.
func (b BlockID) Number() int { return b.num }

func (b BlockID) String() string {
	return fmt.Sprintf("[file %s, block %d]", b.file, b.num)
}
