package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/arhiv/pkg/types"
)

func noteSchema() DataSchema {
	return New("arhiv-core", []DataDescription{
		{
			DocumentType:  "note",
			TitleTemplate: "{title}",
			Fields: []Field{
				{Name: "title", Type: FieldString, Mandatory: true},
				{Name: "body", Type: FieldMarkupString},
				{Name: "pinned", Type: FieldFlag, Readonly: true},
				{Name: "tags", Type: FieldRefList, IsCollection: true},
				{Name: "cover", Type: FieldBLOBId},
				{Name: "status", Type: FieldEnum, EnumValues: []string{"draft", "final"}},
			},
		},
		{DocumentType: "tag"},
	})
}

func newDoc(id, docType string, data map[string]interface{}) *types.Document {
	return &types.Document{ID: id, DocumentType: docType, UpdatedAt: time.Unix(0, 0).UTC(), Data: data}
}

func TestValidateMandatoryField(t *testing.T) {
	s := noteSchema()
	err := s.Validate(newDoc("doc1", "note", map[string]interface{}{}), nil, ValidationContext{})
	require.Error(t, err)
}

func TestValidateRejectsExtraneousField(t *testing.T) {
	s := noteSchema()
	doc := newDoc("doc1", "note", map[string]interface{}{"title": "hi", "bogus": "x"})
	err := s.Validate(doc, nil, ValidationContext{})
	require.Error(t, err)
}

func TestValidateReadonlyFieldCannotChange(t *testing.T) {
	s := noteSchema()
	prev := newDoc("doc1", "note", map[string]interface{}{"title": "hi", "pinned": true})
	next := newDoc("doc1", "note", map[string]interface{}{"title": "hi", "pinned": false})
	next.UpdatedAt = prev.UpdatedAt
	err := s.Validate(next, prev, ValidationContext{})
	require.Error(t, err)
}

func TestValidateDocumentTypeImmutable(t *testing.T) {
	s := noteSchema()
	prev := newDoc("doc1", "note", map[string]interface{}{"title": "hi"})
	next := newDoc("doc1", "tag", map[string]interface{}{})
	next.UpdatedAt = prev.UpdatedAt
	err := s.Validate(next, prev, ValidationContext{})
	require.Error(t, err)
}

func TestValidateEnumConstraint(t *testing.T) {
	s := noteSchema()
	doc := newDoc("doc1", "note", map[string]interface{}{"title": "hi", "status": "bogus"})
	require.Error(t, s.Validate(doc, nil, ValidationContext{}))

	doc.Data["status"] = "draft"
	require.NoError(t, s.Validate(doc, nil, ValidationContext{}))
}

func TestValidateRefListResolution(t *testing.T) {
	s := noteSchema()
	doc := newDoc("doc1", "note", map[string]interface{}{
		"title": "hi",
		"tags":  []interface{}{"tag-1"},
	})
	ctx := ValidationContext{DocumentExists: func(id string) (string, bool) { return "", false }}
	require.Error(t, s.Validate(doc, nil, ctx))

	ctx.DocumentExists = func(id string) (string, bool) { return "tag", true }
	require.NoError(t, s.Validate(doc, nil, ctx))
}

func TestValidateBlobIDFormatAndKnown(t *testing.T) {
	s := noteSchema()
	doc := newDoc("doc1", "note", map[string]interface{}{"title": "hi", "cover": "not-a-hash!"})
	require.Error(t, s.Validate(doc, nil, ValidationContext{}))

	validHash := "abcdef0123456789abcdef0123456789"
	doc.Data["cover"] = validHash
	ctx := ValidationContext{BlobKnown: func(id string) bool { return false }}
	require.Error(t, s.Validate(doc, nil, ctx))

	ctx.BlobKnown = func(id string) bool { return true }
	require.NoError(t, s.Validate(doc, nil, ctx))
}

func TestRenderTitleFallsBackToIDPrefix(t *testing.T) {
	s := noteSchema()
	doc := newDoc("abcdefghijklmnop", "note", map[string]interface{}{})
	require.Equal(t, "abcdefgh", s.RenderTitle(doc))

	doc.Data["title"] = "My Note"
	require.Equal(t, "My Note", s.RenderTitle(doc))
}

func TestExtractRefsCollectsDocumentsCollectionAndBlobs(t *testing.T) {
	s := noteSchema()
	doc := newDoc("doc1", "note", map[string]interface{}{
		"title": "hi",
		"body":  "see [[deadbeefcafe1234]] for more",
		"tags":  []interface{}{"tag-1", "tag-2"},
		"cover": "abcdef0123456789abcdef0123456789",
	})
	refs := s.ExtractRefs(doc)
	require.Contains(t, refs.Documents, "deadbeefcafe1234")
	require.Contains(t, refs.Collection, "tag-1")
	require.Contains(t, refs.Collection, "tag-2")
	require.Contains(t, refs.Blobs, "abcdef0123456789abcdef0123456789")
}

func TestKnowsTypeAcceptsErasedTombstone(t *testing.T) {
	s := noteSchema()
	require.True(t, s.KnowsType(types.ErasedType))
	require.False(t, s.KnowsType("unknown"))
}

func TestValidateRejectsErasedViaOrdinaryPath(t *testing.T) {
	s := noteSchema()
	doc := newDoc("doc1", types.ErasedType, nil)
	require.Error(t, s.Validate(doc, nil, ValidationContext{}))
}
