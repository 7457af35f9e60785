package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/nfsd/pkg/disk"
)

// record is the persisted form of one filesystem object. Records are JSON so
// the database stays inspectable with badger's own tooling.
type record struct {
	ID     uint32        `json:"id"`
	Parent uint32        `json:"parent"`
	Name   string        `json:"name"`
	Type   disk.FileType `json:"type"`
	Mode   uint32        `json:"mode"`
	UID    uint32        `json:"uid"`
	GID    uint32        `json:"gid"`
	Size   uint64        `json:"size"`
	Target string        `json:"target,omitempty"`
	Atime  time.Time     `json:"atime"`
	Mtime  time.Time     `json:"mtime"`
	Ctime  time.Time     `json:"ctime"`
}

func (r *record) info() *disk.FileInfo {
	return &disk.FileInfo{
		Name:           r.Name,
		FileID:         r.ID,
		Type:           r.Type,
		Size:           r.Size,
		AllocationSize: r.Size,
		Mode:           r.Mode,
		UID:            r.UID,
		GID:            r.GID,
		AccessTime:     r.Atime,
		ModifyTime:     r.Mtime,
		ChangeTime:     r.Ctime,
	}
}

func encodeRecord(r *record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %d: %w", r.ID, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

func encodeID(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

func decodeID(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("decode id: %d bytes", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}
