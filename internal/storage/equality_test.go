package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func doc(name string, at time.Time) *Document {
	return &Document{
		ID:         "11111111-1111-1111-1111-111111111111",
		Collection: "heroes",
		UpdatedAt:  at,
		Data:       map[string]interface{}{"name": name, "color": "red"},
	}
}

func TestEqual_IgnoresUpdatedAt(t *testing.T) {
	now := time.Now().UTC()
	a := doc("alpha", now)
	b := doc("alpha", now.Add(time.Hour))

	assert.True(t, Equal(a, b))
}

func TestEqual_IgnoresVersion(t *testing.T) {
	now := time.Now().UTC()
	a := doc("alpha", now)
	b := doc("alpha", now)
	b.Version = 42

	assert.True(t, Equal(a, b))
}

func TestEqual_DetectsContentDivergence(t *testing.T) {
	now := time.Now().UTC()

	assert.False(t, Equal(doc("alpha", now), doc("beta", now)))

	tomb := doc("alpha", now)
	tomb.Deleted = true
	assert.False(t, Equal(doc("alpha", now), tomb))
}

func TestEqual_NestedData(t *testing.T) {
	now := time.Now().UTC()
	a := doc("alpha", now)
	a.Data["tags"] = []interface{}{"x", "y"}
	a.Data["meta"] = map[string]interface{}{"rank": float64(1)}

	b := a.Clone()
	assert.True(t, Equal(a, b))

	b.Data["meta"].(map[string]interface{})["rank"] = float64(2)
	assert.False(t, Equal(a, b))
}

func TestClone_IsDeep(t *testing.T) {
	a := doc("alpha", time.Now().UTC())
	a.Data["meta"] = map[string]interface{}{"rank": float64(1)}

	b := a.Clone()
	b.Data["meta"].(map[string]interface{})["rank"] = float64(9)

	assert.Equal(t, float64(1), a.Data["meta"].(map[string]interface{})["rank"])
}

func TestNewDocument_GeneratesID(t *testing.T) {
	d := NewDocument("", "heroes", map[string]interface{}{"name": "x"})
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "heroes", d.Collection)
	assert.False(t, d.UpdatedAt.IsZero())
}
