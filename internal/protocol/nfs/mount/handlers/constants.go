package handlers

// Mount procedure numbers (RFC 1813 Appendix I).
const (
	MountProcNull    = 0
	MountProcMnt     = 1
	MountProcDump    = 2
	MountProcUmnt    = 3
	MountProcUmntAll = 4
	MountProcExport  = 5
)

// Mount status codes (mountstat3).
const (
	MountOK             = 0
	MountErrPerm        = 1
	MountErrNoEnt       = 2
	MountErrIO          = 5
	MountErrAccess      = 13
	MountErrNotDir      = 20
	MountErrInval       = 22
	MountErrNameTooLong = 63
	MountErrNotSupp     = 10004
	MountErrServerFault = 10006
)

// MaxPathLen is MNTPATHLEN.
const MaxPathLen = 1024
