package dbx_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestStruct struct {
	MessageID    int                    `db:"message_id"`
	EntityName   string                 `db:"entity_name"`
	EntityKey    string                 `db:"entity_key"`
	EventPayload map[string]interface{} `db:"event_payload"`
	ModifyTs     time.Time              `db:"modify_ts"`
	Age          int                    `db:"age"`
	IsActive     bool                   `db:"is_active"`
	Salary       float64                `db:"salary"`
	JoinDate     time.Time              `db:"join_date"`
	Tags         []string               `db:"tags"`
	TagsNew      []string               `db:"-"`
	internal     string                 `db:"internal"` //nolint:unused
}

type Note struct {
	dbx.BaseEntity
	ExternalID string `db:"external_id"`
	Text       string `db:"text"`
	Ignored    string
}

type Untagged struct {
	Value string
}

func (u *Untagged) GetID() int64 { return 0 }
func (u *Untagged) SetID(int64)  {}

func TestDeriveColumnNamesFromTags(t *testing.T) {
	columns, err := dbx.DeriveColumnNamesFromTags(TestStruct{}, "db")

	expectedColumns := []string{
		"message_id",
		"entity_name",
		"entity_key",
		"event_payload",
		"modify_ts",
		"age",
		"is_active",
		"salary",
		"join_date",
		"tags",
	}

	assert.NoError(t, err)
	assert.True(t, reflect.DeepEqual(expectedColumns, columns), "Expected %v but got %v", expectedColumns, columns)
}

func TestDeriveColumnNamesFromTags_PointerAndEmbedded(t *testing.T) {
	columns, err := dbx.DeriveColumnNamesFromTags(&Note{}, "db")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "external_id", "text"}, columns)

	_, err = dbx.DeriveColumnNamesFromTags(42, "db")
	assert.Error(t, err)
}

func TestNewEntityMeta(t *testing.T) {
	meta, err := dbx.NewEntityMeta[*Note]("notes")
	require.NoError(t, err)

	assert.Equal(t, "Note", meta.Name())
	assert.Equal(t, "notes", meta.Table())
	assert.Equal(t, "id", meta.IDColumn())
	assert.Equal(t, []string{"id", "external_id", "text"}, meta.ColumnNames())

	c, ok := meta.Column("ExternalID")
	require.True(t, ok)
	assert.Equal(t, "external_id", c.Name)

	c, ok = meta.Column("externalid")
	require.True(t, ok)
	assert.Equal(t, "ExternalID", c.Field)

	_, ok = meta.Column("Ignored")
	assert.False(t, ok)
}

func TestNewEntityMeta_Errors(t *testing.T) {
	_, err := dbx.NewEntityMeta[*Note]("")
	assert.Error(t, err)

	_, err = dbx.NewEntityMeta[*Untagged]("untagged")
	assert.Error(t, err)

	_, err = dbx.NewEntityMeta[*Note]("notes", dbx.WithIDColumn("note_id"))
	assert.Error(t, err)

	assert.Panics(t, func() { dbx.MustEntityMeta[*Untagged]("untagged") })
}

func TestEntityMeta_ValuesAndScanTargets(t *testing.T) {
	meta := dbx.MustEntityMeta[*Note]("notes")

	note := &Note{ExternalID: "X", Text: "A"}
	note.SetID(7)

	names, values := meta.Values(note, false)
	assert.Equal(t, []string{"external_id", "text"}, names)
	assert.Equal(t, []any{"X", "A"}, values)

	names, values = meta.Values(note, true)
	assert.Equal(t, []string{"id", "external_id", "text"}, names)
	assert.Equal(t, []any{int64(7), "X", "A"}, values)

	fresh, ok := meta.New().(*Note)
	require.True(t, ok)

	targets := meta.ScanTargets(fresh)
	require.Len(t, targets, 3)
	*(targets[0].(*int64)) = 9
	*(targets[2].(*string)) = "B"
	assert.Equal(t, int64(9), fresh.ID)
	assert.Equal(t, "B", fresh.Text)
	assert.Equal(t, int64(9), meta.ID(fresh))

	require.NoError(t, meta.Check(fresh))
	assert.Error(t, meta.Check(Note{}))
	assert.Error(t, meta.Check((*Note)(nil)))
	assert.Error(t, meta.Check(nil))
}
