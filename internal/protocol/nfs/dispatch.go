// Package nfs routes ONC-RPC calls for the NFS v3 and MOUNT v3 programs to
// their procedure handlers.
//
// A call is checked for program and version, throttled, authenticated into
// a session, and run under the session lock inside one transaction. Every
// call gets a well-formed reply: decode failures become GARBAGE_ARGS and a
// panicking handler is answered with SERVERFAULT.
package nfs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	mount "github.com/marmos91/nfsd/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
	"github.com/marmos91/nfsd/internal/ratelimiter"
	"github.com/marmos91/nfsd/pkg/metrics"
	"github.com/marmos91/nfsd/pkg/session"
)

// ProgramVersion is the only version served for both NFS and MOUNT.
const ProgramVersion = 3

// Client identifies the transport endpoint a call arrived on.
type Client struct {
	// Protocol is "tcp" or "udp".
	Protocol string
	Addr     string
}

// Config wires a Dispatcher. Limiter may be nil; a nil Metrics records
// nothing.
type Config struct {
	Handler  handlers.NFSHandler
	Mount    *mount.Handler
	Sessions *session.Manager
	Limiter  *ratelimiter.RateLimiter
	Metrics  metrics.NFSMetrics
}

// Dispatcher is safe for concurrent use. Calls of one session are
// serialized by the session lock.
type Dispatcher struct {
	sessions *session.Manager
	limiter  *ratelimiter.RateLimiter
	metrics  metrics.NFSMetrics

	nfs   map[uint32]*procedure[handlers.NFSHandlerContext]
	mount map[uint32]*procedure[mount.MountHandlerContext]
}

func NewDispatcher(cfg Config) *Dispatcher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoopNFSMetrics{}
	}
	return &Dispatcher{
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		metrics:  m,
		nfs:      nfsProcedures(cfg.Handler),
		mount:    mountProcedures(cfg.Mount),
	}
}

// HandleCall runs one call and returns the complete reply message, without
// record marking. The error is non-nil only when no reply could be built.
func (d *Dispatcher) HandleCall(ctx context.Context, call *rpc.RPCCallMessage, data []byte, client Client) ([]byte, error) {
	if call.Program != rpc.ProgramNFS && call.Program != rpc.ProgramMount {
		logger.Debug("Unknown program: prog=%d xid=0x%x client=%s", call.Program, call.XID, client.Addr)
		d.metrics.RecordRejected("prog_unavail")
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}
	if call.Version != ProgramVersion {
		logger.Debug("Version mismatch: prog=%d vers=%d client=%s", call.Program, call.Version, client.Addr)
		d.metrics.RecordRejected("prog_mismatch")
		return rpc.MakeProgMismatchReply(call.XID, ProgramVersion, ProgramVersion)
	}

	if d.limiter != nil && !d.limiter.Allow(xdr.ExtractClientIP(client.Addr)) {
		logger.Debug("Rate limited: xid=0x%x client=%s", call.XID, client.Addr)
		d.metrics.RecordRejected("rate_limited")
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}

	if call.Program == rpc.ProgramMount {
		proc, ok := d.mount[call.Procedure]
		if !ok {
			return d.procUnavail(call, client)
		}
		sess, reply, err := d.session(ctx, call, client)
		if sess == nil {
			return reply, err
		}
		newCtx := func(c context.Context) *mount.MountHandlerContext {
			return &mount.MountHandlerContext{
				Context:    c,
				ClientAddr: client.Addr,
				AuthFlavor: call.GetAuthFlavor(),
				Client:     sess.Client(),
			}
		}
		return dispatch(ctx, d, call, data, sess, "mount", proc, newCtx, MountStatusToString)
	}

	proc, ok := d.nfs[call.Procedure]
	if !ok {
		return d.procUnavail(call, client)
	}
	sess, reply, err := d.session(ctx, call, client)
	if sess == nil {
		return reply, err
	}
	newCtx := func(c context.Context) *handlers.NFSHandlerContext {
		return &handlers.NFSHandlerContext{
			Context:    c,
			ClientAddr: client.Addr,
			AuthFlavor: call.GetAuthFlavor(),
			Session:    sess,
		}
	}
	return dispatch(ctx, d, call, data, sess, "nfs", proc, newCtx, NFSStatusToString)
}

func (d *Dispatcher) procUnavail(call *rpc.RPCCallMessage, client Client) ([]byte, error) {
	logger.Debug("Unknown procedure: prog=%d proc=%d client=%s", call.Program, call.Procedure, client.Addr)
	d.metrics.RecordRejected("proc_unavail")
	return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
}

// session authenticates the call and returns its session locked. When it
// returns a nil session the reply (or error) is the rejection to send.
func (d *Dispatcher) session(ctx context.Context, call *rpc.RPCCallMessage, client Client) (*session.Session, []byte, error) {
	cred, err := credentialFor(call, client)
	if err == nil {
		var sess *session.Session
		sess, err = d.sessions.Acquire(ctx, cred)
		if err == nil {
			return sess, nil, nil
		}
	}

	if errors.Is(err, session.ErrAuthFailed) {
		logger.Warn("Authentication failed: client=%s flavor=%d: %v", client.Addr, call.GetAuthFlavor(), err)
		d.metrics.RecordRejected("auth")
		reply, rerr := rpc.MakeAuthErrorReply(call.XID, rpc.AuthBadCred)
		return nil, reply, rerr
	}
	logger.Error("Session lookup failed: client=%s: %v", client.Addr, err)
	d.metrics.RecordRejected("session")
	reply, rerr := rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	return nil, reply, rerr
}

// credentialFor decodes the credential of call. AUTH_NULL and AUTH_UNIX
// are the only flavors accepted.
func credentialFor(call *rpc.RPCCallMessage, client Client) (session.Credential, error) {
	cred := session.Credential{Protocol: client.Protocol, Addr: client.Addr}

	switch flavor := call.GetAuthFlavor(); flavor {
	case rpc.AuthNull:
		cred.Kind = session.KindNull
	case rpc.AuthUnix:
		auth, err := rpc.ParseUnixAuth(call.GetAuthBody())
		if err != nil {
			return cred, fmt.Errorf("%w: AUTH_UNIX: %v", session.ErrAuthFailed, err)
		}
		cred.Kind = session.KindUnix
		cred.MachineName = auth.MachineName
		cred.UID = auth.UID
		cred.GID = auth.GID
		cred.GIDs = auth.GIDs
	default:
		return cred, fmt.Errorf("auth flavor %d: %w", flavor, session.ErrAuthFailed)
	}
	return cred, nil
}

// dispatch runs proc on the locked session and builds the reply.
func dispatch[C any](
	ctx context.Context,
	d *Dispatcher,
	call *rpc.RPCCallMessage,
	data []byte,
	sess *session.Session,
	program string,
	proc *procedure[C],
	newCtx func(context.Context) *C,
	statusName func(uint32) string,
) ([]byte, error) {
	logger.Debug("RPC %s %s: xid=0x%x session=%s", program, proc.name, call.XID, sess)

	d.metrics.RecordRequestStart(program, proc.name)
	defer d.metrics.RecordRequestEnd(program, proc.name)
	start := time.Now()

	body, status, err := serveLocked(ctx, sess, program, proc, newCtx, data)

	switch {
	case errors.Is(err, errGarbageArgs):
		logger.Debug("%s %s: %v", program, proc.name, err)
		d.metrics.RecordRequest(program, proc.name, time.Since(start), "GARBAGE_ARGS")
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	case err != nil:
		logger.Error("%s %s: %v", program, proc.name, err)
		d.metrics.RecordRequest(program, proc.name, time.Since(start), "SYSTEM_ERR")
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}

	d.metrics.RecordRequest(program, proc.name, time.Since(start), statusName(status))
	return rpc.MakeSuccessReply(call.XID, body)
}

// serveLocked runs proc inside one transaction on a session locked by
// Manager.Acquire, and unlocks it. The transaction commits only when proc
// returns NFS3_OK; a panic escaping proc rolls it back and still releases
// the lock.
func serveLocked[C any](
	ctx context.Context,
	sess *session.Session,
	program string,
	proc *procedure[C],
	newCtx func(context.Context) *C,
	data []byte,
) (body []byte, status uint32, err error) {
	defer sess.Unlock()

	commit := false
	defer func() {
		if endErr := sess.EndTransaction(commit); endErr != nil {
			logger.Warn("%s %s: ending transaction: %v", program, proc.name, endErr)
		}
	}()

	body, status, err = proc.serve(newCtx(sess.Begin(ctx)), data)
	commit = err == nil && status == types.NFS3OK
	return body, status, err
}

// ============================================================================
// Procedure Tables
// ============================================================================

var errGarbageArgs = errors.New("garbage arguments")

// procedure is one entry of a dispatch table. serve decodes the arguments,
// runs the handler and encodes the result, returning the protocol status
// for metrics and the transaction outcome.
type procedure[C any] struct {
	name  string
	serve func(ctx *C, data []byte) ([]byte, uint32, error)
}

// response is a pointer to a response type that encodes itself.
type response[T any] interface {
	*T
	Encode() ([]byte, error)
}

type statusGetter interface{ GetStatus() uint32 }
type statusSetter interface{ SetStatus(uint32) }

// bind adapts a decoder and a handler method to a table entry. A panic in
// the decoder or the handler is answered with SERVERFAULT when the response
// has a status, and with SYSTEM_ERR otherwise.
func bind[C, Req, Resp any, P response[Resp]](
	name string,
	decode func([]byte) (*Req, error),
	handle func(*C, *Req) (P, error),
) *procedure[C] {
	serve := func(ctx *C, data []byte) (body []byte, status uint32, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("%s: handler panic: %v\n%s", name, r, debug.Stack())
			resp := P(new(Resp))
			setter, ok := any(resp).(statusSetter)
			if !ok {
				body, status, err = nil, 0, fmt.Errorf("handler panic: %v", r)
				return
			}
			setter.SetStatus(types.NFS3ErrServerFault)
			status = types.NFS3ErrServerFault
			body, err = resp.Encode()
		}()

		req, err := decode(data)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", errGarbageArgs, err)
		}

		resp, err := handle(ctx, req)
		if err != nil {
			return nil, 0, err
		}
		if g, ok := any(resp).(statusGetter); ok {
			status = g.GetStatus()
		}
		body, err = resp.Encode()
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s reply: %w", name, err)
		}
		return body, status, nil
	}
	return &procedure[C]{name: name, serve: serve}
}

func nfsProcedures(h handlers.NFSHandler) map[uint32]*procedure[handlers.NFSHandlerContext] {
	return map[uint32]*procedure[handlers.NFSHandlerContext]{
		types.NFSProcNull:        bind("NULL", handlers.DecodeNullRequest, h.Null),
		types.NFSProcGetAttr:     bind("GETATTR", handlers.DecodeGetAttrRequest, h.GetAttr),
		types.NFSProcSetAttr:     bind("SETATTR", handlers.DecodeSetAttrRequest, h.SetAttr),
		types.NFSProcLookup:      bind("LOOKUP", handlers.DecodeLookupRequest, h.Lookup),
		types.NFSProcAccess:      bind("ACCESS", handlers.DecodeAccessRequest, h.Access),
		types.NFSProcReadLink:    bind("READLINK", handlers.DecodeReadLinkRequest, h.ReadLink),
		types.NFSProcRead:        bind("READ", handlers.DecodeReadRequest, h.Read),
		types.NFSProcWrite:       bind("WRITE", handlers.DecodeWriteRequest, h.Write),
		types.NFSProcCreate:      bind("CREATE", handlers.DecodeCreateRequest, h.Create),
		types.NFSProcMkdir:       bind("MKDIR", handlers.DecodeMkdirRequest, h.Mkdir),
		types.NFSProcSymlink:     bind("SYMLINK", handlers.DecodeSymlinkRequest, h.Symlink),
		types.NFSProcMknod:       bind("MKNOD", handlers.DecodeMknodRequest, h.Mknod),
		types.NFSProcRemove:      bind("REMOVE", handlers.DecodeRemoveRequest, h.Remove),
		types.NFSProcRmdir:       bind("RMDIR", handlers.DecodeRmdirRequest, h.Rmdir),
		types.NFSProcRename:      bind("RENAME", handlers.DecodeRenameRequest, h.Rename),
		types.NFSProcLink:        bind("LINK", handlers.DecodeLinkRequest, h.Link),
		types.NFSProcReadDir:     bind("READDIR", handlers.DecodeReadDirRequest, h.ReadDir),
		types.NFSProcReadDirPlus: bind("READDIRPLUS", handlers.DecodeReadDirPlusRequest, h.ReadDirPlus),
		types.NFSProcFsStat:      bind("FSSTAT", handlers.DecodeFsStatRequest, h.FsStat),
		types.NFSProcFsInfo:      bind("FSINFO", handlers.DecodeFsInfoRequest, h.FsInfo),
		types.NFSProcPathConf:    bind("PATHCONF", handlers.DecodePathConfRequest, h.PathConf),
		types.NFSProcCommit:      bind("COMMIT", handlers.DecodeCommitRequest, h.Commit),
	}
}

func mountProcedures(h *mount.Handler) map[uint32]*procedure[mount.MountHandlerContext] {
	return map[uint32]*procedure[mount.MountHandlerContext]{
		mount.MountProcNull:    bind("NULL", mount.DecodeNullRequest, h.Null),
		mount.MountProcMnt:     bind("MNT", mount.DecodeMountRequest, h.Mount),
		mount.MountProcDump:    bind("DUMP", mount.DecodeDumpRequest, h.Dump),
		mount.MountProcUmnt:    bind("UMNT", mount.DecodeUmountRequest, h.Umnt),
		mount.MountProcUmntAll: bind("UMNTALL", mount.DecodeUmountAllRequest, h.UmntAll),
		mount.MountProcExport:  bind("EXPORT", mount.DecodeExportRequest, h.Export),
	}
}
