package sofs

import "fmt"

// Category groups related error codes so callers (and fsck) can branch
// on the kind of failure without string-matching messages.
type Category int

const (
	CategoryArgument Category = iota
	CategorySpace
	CategoryName
	CategoryPermission
	CategoryConsistency
	CategoryIO
)

func (c Category) String() string {
	switch c {
	case CategoryArgument:
		return "argument"
	case CategorySpace:
		return "space"
	case CategoryName:
		return "name"
	case CategoryPermission:
		return "permission"
	case CategoryConsistency:
		return "consistency"
	case CategoryIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is a SOFS11 taxonomy error: a stable code plus the category it
// belongs to. It is comparable with errors.Is via the Code field, and
// wrapped with github.com/pkg/errors at I/O call sites for extra
// context without losing the underlying code (errors.Cause recovers
// it).
type Error struct {
	Category Category
	Code     string
	Message  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Is allows errors.Is(err, ErrNotFound) etc. to match regardless of
// wrapping by github.com/pkg/errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newErr(cat Category, code string) *Error {
	return &Error{Category: cat, Code: code}
}

// withf returns a copy of e with a formatted message attached, used at
// the call site to add context without minting a new code.
func (e *Error) withf(format string, args ...interface{}) *Error {
	return &Error{Category: e.Category, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Argument errors.
var (
	ErrInvalidInode    = newErr(CategoryArgument, "EINVAL_INODE")
	ErrInvalidCluster  = newErr(CategoryArgument, "EINVAL_CLUSTER")
	ErrInvalidStatus   = newErr(CategoryArgument, "EINVAL_STATUS")
	ErrNilBuffer       = newErr(CategoryArgument, "EINVAL_NIL_BUFFER")
	ErrNotAbsolutePath = newErr(CategoryArgument, "EINVAL_NOT_ABSOLUTE")
	ErrNameTooLong     = newErr(CategoryArgument, "ENAMETOOLONG")
	ErrWrongModeClass  = newErr(CategoryArgument, "EINVAL_MODE_CLASS")
	ErrUnknownOp       = newErr(CategoryArgument, "EINVAL_OP")
)

// Space errors.
var (
	ErrNoSpaceInodes   = newErr(CategorySpace, "ENOSPC_INODE")
	ErrNoSpaceClusters = newErr(CategorySpace, "ENOSPC_CLUSTER")
	ErrFileTooLarge    = newErr(CategorySpace, "EFBIG")
	ErrDirTooLarge     = newErr(CategorySpace, "EDIRFULL")
	ErrTooManyLinks    = newErr(CategorySpace, "EMLINK")
)

// Name errors.
var (
	ErrNotFound       = newErr(CategoryName, "ENOENT")
	ErrAlreadyExists  = newErr(CategoryName, "EEXIST")
	ErrNotEmpty       = newErr(CategoryName, "ENOTEMPTY")
	ErrNotDirectory   = newErr(CategoryName, "ENOTDIR")
	ErrIsDirectory    = newErr(CategoryName, "EISDIR")
	ErrSymlinkLoop    = newErr(CategoryName, "ELOOP")
	ErrAlreadyAlloc   = newErr(CategoryName, "EALREADY_ALLOCATED")
	ErrNameContainsSep = newErr(CategoryName, "EINVAL_NAME_SEP")
)

// Permission errors. Kept distinct per spec.md §4.6 / §7: want-of-X on a
// path component maps to EACCES by the host adaptor, want-of-R/W on the
// target maps to EPERM.
var (
	ErrAccessDeniedPathX   = newErr(CategoryPermission, "EACCES")
	ErrAccessDeniedTarget  = newErr(CategoryPermission, "EPERM")
)

// Consistency errors — each distinct so fsck and mount can report a
// specific diagnostic (spec.md §7).
var (
	ErrInvalidSuperblock           = newErr(CategoryConsistency, "EBADSB")
	ErrInconsistentInodeInUse      = newErr(CategoryConsistency, "EBADINODE_INUSE")
	ErrInconsistentFreeDirtyInode  = newErr(CategoryConsistency, "EBADINODE_FREEDIRTY")
	ErrInconsistentFreeCleanInode  = newErr(CategoryConsistency, "EBADINODE_FREECLEAN")
	ErrInconsistentRefList         = newErr(CategoryConsistency, "EBADREFLIST")
	ErrInconsistentClusterHeader   = newErr(CategoryConsistency, "EBADCLUSTER")
	ErrInconsistentDirContents     = newErr(CategoryConsistency, "EBADDIR")
	ErrWrongInodeStamp             = newErr(CategoryConsistency, "EBADSTAMP")
	ErrAlreadyOnList               = newErr(CategoryConsistency, "EBADLIST_DUP")
	ErrNotOnList                   = newErr(CategoryConsistency, "EBADLIST_MISSING")
	ErrRefsOutstanding             = newErr(CategoryConsistency, "EBUSY_REFS")
	ErrNotAllocated                = newErr(CategoryConsistency, "EBADSTATE_NOT_ALLOCATED")
)

// I/O errors.
var (
	ErrDeviceNotOpen = newErr(CategoryIO, "ENODEV")
	ErrIO            = newErr(CategoryIO, "EIO")
)
