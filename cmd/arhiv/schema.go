package main

import "github.com/cuemby/arhiv/pkg/schema"

// defaultSchema is this CLI's document type declarations: a small personal
// archive of notes, tasks, and contacts, deliberately ordinary so it
// exercises most of pkg/schema's field types (spec.md leaves schema
// authorship to the host application, not the core).
func defaultSchema() schema.DataSchema {
	return schema.New("arhiv-default", []schema.DataDescription{
		{
			DocumentType:  "note",
			TitleTemplate: "{title}",
			Fields: []schema.Field{
				{Name: "title", Type: schema.FieldString, Mandatory: true},
				{Name: "body", Type: schema.FieldMarkupString},
				{Name: "tags", Type: schema.FieldRefList, IsCollection: true},
				{Name: "attachment", Type: schema.FieldBLOBId},
			},
		},
		{
			DocumentType:  "task",
			TitleTemplate: "{title}",
			Fields: []schema.Field{
				{Name: "title", Type: schema.FieldString, Mandatory: true},
				{Name: "done", Type: schema.FieldFlag},
				{Name: "due", Type: schema.FieldDate},
				{Name: "priority", Type: schema.FieldEnum, EnumValues: []string{"low", "normal", "high"}},
				{Name: "related_note", Type: schema.FieldRef, AllowedTypes: []string{"note"}},
			},
		},
		{
			DocumentType:  "contact",
			TitleTemplate: "{name}",
			Fields: []schema.Field{
				{Name: "name", Type: schema.FieldString, Mandatory: true},
				{Name: "country", Type: schema.FieldCountries},
				{Name: "notes", Type: schema.FieldRefList, AllowedTypes: []string{"note"}},
			},
		},
	})
}

// schemaDataVersion identifies the shape of defaultSchema for container and
// mirror metadata; bump it whenever defaultSchema's fields change in a way
// an older replica could misinterpret.
const schemaDataVersion = 1
