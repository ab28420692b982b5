package sofs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func inodeWithPerms(p Perm, owner, group uint32) *Inode {
	return &Inode{Mode: Mode{Type: TypeRegular, Perms: p}, Owner: owner, Group: group, Status: StatusInUse}
}

func TestAccessCheckOwnerGroupOtherTriads(t *testing.T) {
	ino := inodeWithPerms(PermOwnerR|PermOwnerW|PermGroupR|PermOtherR, 10, 20)

	assert.True(t, AccessCheck(ino, 10, 99, OpRead))
	assert.True(t, AccessCheck(ino, 10, 99, OpWrite))
	assert.False(t, AccessCheck(ino, 10, 99, OpExec))

	assert.True(t, AccessCheck(ino, 99, 20, OpRead))
	assert.False(t, AccessCheck(ino, 99, 20, OpWrite))

	assert.True(t, AccessCheck(ino, 99, 99, OpRead))
	assert.False(t, AccessCheck(ino, 99, 99, OpWrite))
}

func TestAccessCheckOwnerGidMatchStillUsesOwnerTriad(t *testing.T) {
	// A caller whose uid matches the owner but whose gid also matches
	// the group is still judged against the owner triad, not group.
	ino := inodeWithPerms(PermOwnerR|PermGroupR|PermGroupW, 10, 10)
	assert.False(t, AccessCheck(ino, 10, 10, OpWrite))
}

func TestAccessCheckRequiresAllBitsInMask(t *testing.T) {
	ino := inodeWithPerms(PermOwnerR, 5, 5)
	assert.False(t, AccessCheck(ino, 5, 5, OpRead|OpWrite))
	assert.True(t, AccessCheck(ino, 5, 5, OpRead))
}

func TestAccessCheckRootBypassesReadWriteButNotExec(t *testing.T) {
	ino := inodeWithPerms(0, 10, 10) // no bits set for anyone

	assert.True(t, AccessCheck(ino, 0, 0, OpRead))
	assert.True(t, AccessCheck(ino, 0, 0, OpWrite))
	assert.False(t, AccessCheck(ino, 0, 0, OpExec))

	exec := inodeWithPerms(PermOtherX, 10, 10)
	assert.True(t, AccessCheck(exec, 0, 0, OpExec))
}
