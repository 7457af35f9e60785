package types

// Program version served by the NFS handlers.
const NFSVersion3 = 3

// NFSv3 Procedure Numbers (RFC 1813 Section 3.3)
const (
	NFSProcNull        = 0
	NFSProcGetAttr     = 1
	NFSProcSetAttr     = 2
	NFSProcLookup      = 3
	NFSProcAccess      = 4
	NFSProcReadLink    = 5
	NFSProcRead        = 6
	NFSProcWrite       = 7
	NFSProcCreate      = 8
	NFSProcMkdir       = 9
	NFSProcSymlink     = 10
	NFSProcMknod       = 11
	NFSProcRemove      = 12
	NFSProcRmdir       = 13
	NFSProcRename      = 14
	NFSProcLink        = 15
	NFSProcReadDir     = 16
	NFSProcReadDirPlus = 17
	NFSProcFsStat      = 18
	NFSProcFsInfo      = 19
	NFSProcPathConf    = 20
	NFSProcCommit      = 21
)

// NFSv3 Status Codes (nfsstat3, RFC 1813 Section 2.6)
const (
	NFS3OK             = 0
	NFS3ErrPerm        = 1
	NFS3ErrNoEnt       = 2
	NFS3ErrIO          = 5
	NFS3ErrNXIO        = 6
	NFS3ErrAcces       = 13
	NFS3ErrExist       = 17
	NFS3ErrXDev        = 18
	NFS3ErrNoDev       = 19
	NFS3ErrNotDir      = 20
	NFS3ErrIsDir       = 21
	NFS3ErrInval       = 22
	NFS3ErrFBig        = 27
	NFS3ErrNoSpc       = 28
	NFS3ErrRofs        = 30
	NFS3ErrMlink       = 31
	NFS3ErrNameTooLong = 63
	NFS3ErrNotEmpty    = 66
	NFS3ErrDQuot       = 69
	NFS3ErrStale       = 70
	NFS3ErrRemote      = 71

	// Server-private codes; clients never see them outside NFSv3.
	NFS3ErrBadHandle   = 10001
	NFS3ErrNotSync     = 10002
	NFS3ErrBadCookie   = 10003
	NFS3ErrNotSupp     = 10004
	NFS3ErrTooSmall    = 10005
	NFS3ErrServerFault = 10006
	NFS3ErrBadType     = 10007
	NFS3ErrJukebox     = 10008
)

// FSInfo property flags (RFC 1813 Section 3.3.19)
const (
	FSFLink        = 0x0001 // Hard links supported
	FSFSymlink     = 0x0002 // Symbolic links supported
	FSFHomogeneous = 0x0008 // PATHCONF valid for all files
	FSFCanSetTime  = 0x0010 // Server can set times
)

// File types (ftype3, RFC 1813 Section 2.5.5)
const (
	NF3REG  = 1
	NF3DIR  = 2
	NF3BLK  = 3
	NF3CHR  = 4
	NF3LNK  = 5
	NF3SOCK = 6
	NF3FIFO = 7
)

// ============================================================================
// Access Rights
// ============================================================================

// Access rights bits used in ACCESS procedure (RFC 1813 Section 3.3.4).
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020

	AccessAll      = AccessRead | AccessLookup | AccessModify | AccessExtend | AccessDelete | AccessExecute
	AccessReadOnly = AccessRead | AccessLookup | AccessExecute
)

// ============================================================================
// Write Stability
// ============================================================================

const (
	WriteUnstable = 0
	WriteDataSync = 1
	WriteFileSync = 2
)

// ============================================================================
// Create Modes
// ============================================================================

const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)

// ============================================================================
// Server Limits
// ============================================================================

// Values reported by FSINFO and PATHCONF and enforced by READ, WRITE and
// the directory listings.
const (
	// MaxReadSize bounds READ counts and is reported as rtmax/rtpref.
	MaxReadSize = 0xFFFF
	// MaxWriteSize is reported as wtmax/wtpref.
	MaxWriteSize = 0xFFFF
	// MaxRequestSize bounds a READDIR reply.
	MaxRequestSize = 0xFFFF
	// SizeMultiple is reported as rtmult/wtmult.
	SizeMultiple = 4096
	// DirPreferred is reported as dtpref.
	DirPreferred = 8192
	// MaxFileSize is reported as maxfilesize.
	MaxFileSize = 0x01FFFFFFF000

	LinkMax = 32767
	NameMax = 255

	// FileHandleMaxSize is the largest handle accepted on the wire.
	FileHandleMaxSize = 64
)

// Default modes reported when a driver has none.
const (
	DefaultDirMode  = 040777
	DefaultFileMode = 0100777
	DefaultLinkMode = 0120777

	// DirectorySize and DirectoryUsed are the nominal sizes of a directory.
	DirectorySize = 512
	DirectoryUsed = 1024
)

// FileIDOffset is added to driver file ids on the wire so that ids 0 and 1
// never reach clients.
const FileIDOffset = 2
