// Package portmap implements the portmapper, program 100000 version 2
// (RFC 1057 appendix A), so clients can find the NFS and MOUNT ports
// without a system rpcbind.
package portmap

import (
	"fmt"
	"sort"
	"sync"
)

const (
	Version = 2

	ProcNull    = 0
	ProcSet     = 1
	ProcUnset   = 2
	ProcGetport = 3
	ProcDump    = 4

	ProtoTCP = 6
	ProtoUDP = 17
)

// MappingSize is the encoded size of a mapping.
const MappingSize = 16

// Mapping binds (program, version, protocol) to a port.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

func (m Mapping) String() string {
	proto := "udp"
	if m.Prot == ProtoTCP {
		proto = "tcp"
	}
	return fmt.Sprintf("%d.%d/%s:%d", m.Prog, m.Vers, proto, m.Port)
}

type key struct {
	prog, vers, prot uint32
}

// Registry is the mapping table. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	mappings map[key]uint32
}

func NewRegistry() *Registry {
	return &Registry{mappings: make(map[key]uint32)}
}

// Set adds m. It fails when (prog, vers, prot) is already mapped.
func (r *Registry) Set(m Mapping) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{m.Prog, m.Vers, m.Prot}
	if _, ok := r.mappings[k]; ok {
		return false
	}
	r.mappings[k] = m.Port
	return true
}

// Unset removes every protocol's mapping of (prog, vers) and reports
// whether there was one.
func (r *Registry) Unset(prog, vers uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for k := range r.mappings {
		if k.prog == prog && k.vers == vers {
			delete(r.mappings, k)
			removed = true
		}
	}
	return removed
}

// Getport returns the port of (prog, vers, prot), or 0.
func (r *Registry) Getport(prog, vers, prot uint32) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings[key{prog, vers, prot}]
}

// Dump returns every mapping ordered by program, version and protocol.
func (r *Registry) Dump() []Mapping {
	r.mu.RLock()
	out := make([]Mapping, 0, len(r.mappings))
	for k, port := range r.mappings {
		out = append(out, Mapping{Prog: k.prog, Vers: k.vers, Prot: k.prot, Port: port})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Prog != b.Prog {
			return a.Prog < b.Prog
		}
		if a.Vers != b.Vers {
			return a.Vers < b.Vers
		}
		return a.Prot < b.Prot
	})
	return out
}

// RegisterService maps prog/vers to port on both TCP and UDP, replacing
// any previous mapping.
func (r *Registry) RegisterService(prog, vers, port uint32) {
	r.Unset(prog, vers)
	r.Set(Mapping{Prog: prog, Vers: vers, Prot: ProtoTCP, Port: port})
	r.Set(Mapping{Prog: prog, Vers: vers, Prot: ProtoUDP, Port: port})
}
