package mail

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Point types. An email carries at most one full OR one summary point
// (mutually exclusive) plus any number of chunk points with contiguous
// ordinals starting at 0.
const (
	PointTypeFull    = "full"
	PointTypeSummary = "summary"
	PointTypeChunk   = "chunk"
)

// Point is one stored vector representing a specific view of an email.
// The whole point set for an email is replaced wholesale by the persist
// stage; no partial set survives a retry.
type Point struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EmailID uuid.UUID `gorm:"type:uuid;not null;index" json:"email_id"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	PointType string `gorm:"column:point_type;not null" json:"point_type"`
	Ordinal   int    `gorm:"column:ordinal;not null;default:0" json:"ordinal"`

	// IndexID is the id the point carries in the vector index; stable across
	// re-persists so upserts overwrite rather than accumulate.
	IndexID uuid.UUID `gorm:"type:uuid;column:index_id;not null;uniqueIndex" json:"index_id"`

	Vector        datatypes.JSON `gorm:"column:vector;type:jsonb" json:"vector,omitempty"`
	SparseIndices datatypes.JSON `gorm:"column:sparse_indices;type:jsonb" json:"sparse_indices,omitempty"`
	SparseValues  datatypes.JSON `gorm:"column:sparse_values;type:jsonb" json:"sparse_values,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Point) TableName() string { return "email_points" }

func (p *Point) DenseVector() []float32 {
	if len(p.Vector) == 0 {
		return nil
	}
	var out []float32
	if err := json.Unmarshal(p.Vector, &out); err != nil {
		return nil
	}
	return out
}

func (p *Point) Sparse() (indices []uint32, values []float32) {
	if len(p.SparseIndices) == 0 || len(p.SparseValues) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(p.SparseIndices, &indices); err != nil {
		return nil, nil
	}
	if err := json.Unmarshal(p.SparseValues, &values); err != nil {
		return nil, nil
	}
	return indices, values
}

func (p *Point) SetDenseVector(v []float32) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	p.Vector = datatypes.JSON(raw)
}

func (p *Point) SetSparse(indices []uint32, values []float32) {
	if len(indices) == 0 || len(indices) != len(values) {
		return
	}
	rawIdx, err := json.Marshal(indices)
	if err != nil {
		return
	}
	rawVal, err := json.Marshal(values)
	if err != nil {
		return
	}
	p.SparseIndices = datatypes.JSON(rawIdx)
	p.SparseValues = datatypes.JSON(rawVal)
}
