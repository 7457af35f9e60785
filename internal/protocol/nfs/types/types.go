package types

// TimeVal represents an NFS timestamp (nfstime3 in RFC 1813 Section 2.5.2).
// NFS uses seconds and nanoseconds since the UNIX epoch.
type TimeVal struct {
	Seconds  uint32
	Nseconds uint32
}

// ============================================================================
// NFS Protocol Types - RFC 1813 Wire Format Structures
// ============================================================================
//
// These types represent the exact wire format for NFSv3 as defined in
// RFC 1813. They are separate from the driver types in pkg/disk.

// NFSFileAttr represents the NFS fattr3 structure per RFC 1813 Section 2.3.1.
type NFSFileAttr struct {
	Type   uint32   // File type (NF3REG, NF3DIR, etc.)
	Mode   uint32   // Unix mode including the file type bits
	Nlink  uint32   // Number of hard links
	UID    uint32   // Owner user ID
	GID    uint32   // Owner group ID
	Size   uint64   // File size in bytes
	Used   uint64   // Disk space used in bytes
	Rdev   SpecData // Device number for special files
	Fsid   uint64   // Filesystem identifier (the share id)
	Fileid uint64   // File identifier
	Atime  TimeVal  // Last access time
	Mtime  TimeVal  // Last modification time
	Ctime  TimeVal  // Last metadata change time
}

// SpecData is the specdata3 device number pair.
type SpecData struct {
	Major uint32
	Minor uint32
}

// WccAttr is the wcc_attr pre-operation snapshot (RFC 1813 Section 2.6).
// It holds just enough to let a client detect a concurrent modification.
type WccAttr struct {
	Size  uint64
	Mtime TimeVal
	Ctime TimeVal
}

// DirEntry is one entry3 of a READDIR reply.
type DirEntry struct {
	Fileid uint64
	Name   string
	Cookie uint64
}

// DirEntryPlus is one entryplus3 of a READDIRPLUS reply. Attr and Handle
// are optional on the wire.
type DirEntryPlus struct {
	Fileid uint64
	Name   string
	Cookie uint64
	Attr   *NFSFileAttr
	Handle []byte
}

// SetAttrs is the decoded sattr3. Nil fields are left unchanged.
type SetAttrs struct {
	Mode *uint32
	UID  *uint32
	GID  *uint32
	Size *uint64

	// Atime and Mtime carry the client time for SET_TO_CLIENT_TIME.
	// SetAtimeServer and SetMtimeServer request the server's clock.
	Atime          *TimeVal
	Mtime          *TimeVal
	SetAtimeServer bool
	SetMtimeServer bool
}

// TimeGuard is the sattrguard3 of SETATTR: when Check is set the change
// applies only if the object's ctime equals Time.
type TimeGuard struct {
	Check bool
	Time  TimeVal
}
