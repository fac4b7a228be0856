package fileio

import "github.com/ecp-veloc/atl/internal/model"

// ToModelMetadata converts captured Metadata into the persisted-schema
// form model.Metadata carries on a FileEntry, so StatePersistence can
// snapshot it without depending on this package's richer os.FileMode/
// time.Time-typed fields.
func ToModelMetadata(m *Metadata) *model.Metadata {
	if m == nil {
		return nil
	}
	return &model.Metadata{
		Mode:       uint32(m.Mode),
		UID:        uint32(m.UID),
		GID:        uint32(m.GID),
		Size:       m.Size,
		AtimeSecs:  m.Atime.Unix(),
		AtimeNsecs: int64(m.Atime.Nanosecond()),
		MtimeSecs:  m.Mtime.Unix(),
		MtimeNsecs: int64(m.Mtime.Nanosecond()),
		CtimeSecs:  m.Ctime.Unix(),
		CtimeNsecs: int64(m.Ctime.Nanosecond()),
	}
}
