package sofs

import "fmt"

// Rename implements the cross-directory rename composite of §4.8 on
// top of the add/remove/attach/detach primitives, rolling back every
// completed step on a later failure.
func (v *Volume) Rename(oldDir *Inode, oldName string, newDir *Inode, newName string, uid, gid uint32) error {
	entIno, _, _, err := v.LookupByName(oldDir, oldName, uid, gid)
	if err != nil {
		return err
	}
	entInode, err := v.ReadInode(entIno, StatusInUse)
	if err != nil {
		return err
	}

	destIno, _, _, err := v.LookupByName(newDir, newName, uid, gid)
	destExists := err == nil

	if destExists {
		throwaway := fmt.Sprintf(".sofs-rename-%d", destIno)
		if err := v.RenameDirEntry(newDir, newName, throwaway, uid, gid); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = v.RenameDirEntry(newDir, throwaway, newName, uid, gid)
			}
		}()
		newName = throwaway
		defer func() {
			if err == nil {
				_ = v.RemoveDirEntry(newDir, throwaway, uid, gid)
			}
		}()
	}

	sameParent := oldDir.Num == newDir.Num
	if !sameParent && entInode.Mode.Type == TypeDirectory {
		if err = v.AttachDirectory(newDir, newName, entInode, uid, gid); err != nil {
			return err
		}
		if err = v.DetachDirEntry(oldDir, oldName, uid, gid); err != nil {
			_ = v.DetachDirEntry(newDir, newName, uid, gid)
			return err
		}
		return nil
	}

	if err = v.AddDirEntry(newDir, newName, entIno, entInode.Mode.Type, uid, gid); err != nil {
		return err
	}
	if err = v.RemoveDirEntry(oldDir, oldName, uid, gid); err != nil {
		_ = v.RemoveDirEntry(newDir, newName, uid, gid)
		return err
	}
	return nil
}
