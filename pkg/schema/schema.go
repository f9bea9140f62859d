/*
Package schema implements Arhiv's data definitions and the six-step
validation policy of spec.md §4.4: which document types exist, what fields
they carry, how a document's title is rendered, which ids and blob hashes a
document's data references, and whether a staged snapshot is acceptable.
*/
package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cuemby/arhiv/pkg/arherr"
	"github.com/cuemby/arhiv/pkg/types"
)

// FieldType is one of the semantic field-type discriminants from spec.md §3.
// These are deliberately not Go types: a Ref is still a JSON string in
// Data, just one this package knows to validate and extract specially.
type FieldType string

const (
	FieldString       FieldType = "string"
	FieldMarkupString FieldType = "markup_string"
	FieldFlag         FieldType = "flag"
	FieldNaturalNumber FieldType = "natural_number"
	FieldRef          FieldType = "ref"
	FieldRefList      FieldType = "ref_list"
	FieldBLOBId       FieldType = "blob_id"
	FieldEnum         FieldType = "enum"
	FieldDate         FieldType = "date"
	FieldDuration     FieldType = "duration"
	FieldPeople       FieldType = "people"
	FieldCountries    FieldType = "countries"
)

// Field describes one entry in a DataDescription's field list.
type Field struct {
	Name     string
	Type     FieldType
	Mandatory bool
	Readonly bool
	// Subtypes restricts this field to specific subtypes of its document
	// type; empty means the field applies to every subtype.
	Subtypes []string
	// AllowedTypes restricts Ref/RefList to specific document types; empty
	// means any type is allowed.
	AllowedTypes []string
	// EnumValues is the ordered set of allowed values for FieldEnum.
	EnumValues []string
	// IsCollection marks a RefList field whose targets should be recorded
	// in Refs.Collection rather than Refs.Documents.
	IsCollection bool
}

// DataDescription names one document type: its title template, optional
// subtypes, and ordered fields.
type DataDescription struct {
	DocumentType  string
	TitleTemplate string
	Subtypes      []string
	Fields        []Field
}

// fieldsFor returns the fields applicable to subtype (all fields with no
// Subtypes restriction, plus those naming subtype explicitly).
func (d DataDescription) fieldsFor(subtype string) []Field {
	out := make([]Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		if len(f.Subtypes) == 0 || contains(f.Subtypes, subtype) {
			out = append(out, f)
		}
	}
	return out
}

func (d DataDescription) field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DataSchema is a named collection of DataDescriptions, keyed by document
// type.
type DataSchema struct {
	Name         string
	Descriptions map[string]DataDescription
}

// New builds a DataSchema from a name and a list of descriptions.
func New(name string, descs []DataDescription) DataSchema {
	s := DataSchema{Name: name, Descriptions: make(map[string]DataDescription, len(descs))}
	for _, d := range descs {
		s.Descriptions[d.DocumentType] = d
	}
	return s
}

// KnowsType reports whether docType is declared in this schema.
func (s DataSchema) KnowsType(docType string) bool {
	if docType == types.ErasedType {
		return true
	}
	_, ok := s.Descriptions[docType]
	return ok
}

// Fields returns the fields applicable to (docType, subtype).
func (s DataSchema) Fields(docType, subtype string) ([]Field, error) {
	desc, ok := s.Descriptions[docType]
	if !ok {
		return nil, arherr.New(arherr.KindValidation, "unknown document type %q", docType)
	}
	return desc.fieldsFor(subtype), nil
}

var titleTokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// RenderTitle substitutes {field} tokens in the type's title template
// against doc.Data, falling back to a truncated id prefix when the
// template cannot be fully resolved (e.g. a mandatory field is still
// empty, such as right after NewDocument is staged).
func (s DataSchema) RenderTitle(doc *types.Document) string {
	desc, ok := s.Descriptions[doc.DocumentType]
	if !ok || desc.TitleTemplate == "" {
		return idPrefix(doc.ID)
	}
	missing := false
	title := titleTokenPattern.ReplaceAllStringFunc(desc.TitleTemplate, func(tok string) string {
		name := tok[1 : len(tok)-1]
		v, ok := doc.Data[name]
		if !ok || v == nil {
			missing = true
			return ""
		}
		s := fmt.Sprintf("%v", v)
		if s == "" {
			missing = true
		}
		return s
	})
	if missing || strings.TrimSpace(title) == "" {
		return idPrefix(doc.ID)
	}
	return title
}

func idPrefix(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// ExtractRefs computes the Refs set for a committed snapshot: referenced
// document ids, collection ids, and blob ids, per spec.md §3.
func (s DataSchema) ExtractRefs(doc *types.Document) types.Refs {
	refs := types.NewRefs()
	desc, ok := s.Descriptions[doc.DocumentType]
	if !ok {
		return refs
	}
	for _, f := range desc.fieldsFor(doc.Subtype) {
		v, present := doc.Data[f.Name]
		if !present || v == nil {
			continue
		}
		switch f.Type {
		case FieldRef:
			if id, ok := v.(string); ok && id != "" {
				refs.Documents[id] = struct{}{}
			}
		case FieldRefList:
			target := refs.Documents
			if f.IsCollection {
				target = refs.Collection
			}
			for _, id := range asStringList(v) {
				target[id] = struct{}{}
			}
		case FieldBLOBId:
			if id, ok := v.(string); ok && id != "" {
				refs.Blobs[id] = struct{}{}
			}
		case FieldMarkupString:
			if text, ok := v.(string); ok {
				for _, id := range extractMarkupLinks(text) {
					refs.Documents[id] = struct{}{}
				}
			}
		}
	}
	return refs
}

// markupLinkPattern matches the original_source markup-link syntax
// `[[document-id]]`, Arhiv's wiki-style cross-reference.
var markupLinkPattern = regexp.MustCompile(`\[\[([a-zA-Z0-9_-]{8,})\]\]`)

func extractMarkupLinks(text string) []string {
	matches := markupLinkPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func asStringList(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// ValidationContext carries the lookups the validator needs beyond the
// staged and previous document: which document ids exist (and their type,
// for allowed-type checks), and which blob ids are known (committed or
// staged).
type ValidationContext struct {
	DocumentExists func(id string) (docType string, ok bool)
	BlobKnown      func(id string) bool
}

var blobIDPattern = regexp.MustCompile(`^[0-9a-f]{32,128}$`)

// Validate runs the six-step policy of spec.md §4.4 against a candidate
// snapshot, returning a structured *arherr.Error with one FieldError per
// offending field plus any document-level message.
func (s DataSchema) Validate(candidate, previous *types.Document, ctx ValidationContext) error {
	if candidate.IsErased() {
		return arherr.New(arherr.KindValidation, "erasure must go through the erase operation, not ordinary validation")
	}

	if previous != nil {
		if candidate.DocumentType != previous.DocumentType {
			return arherr.New(arherr.KindValidation, "document_type is immutable: was %q, staged %q", previous.DocumentType, candidate.DocumentType)
		}
		if !candidate.UpdatedAt.Equal(previous.UpdatedAt) {
			return arherr.New(arherr.KindValidation, "updated_at must match the previous snapshot until this edit commits")
		}
	}

	desc, ok := s.Descriptions[candidate.DocumentType]
	if !ok {
		return arherr.New(arherr.KindValidation, "unknown document type %q", candidate.DocumentType)
	}
	fields := desc.fieldsFor(candidate.Subtype)

	var fieldErrs []arherr.FieldError
	declared := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		declared[f.Name] = struct{}{}
	}
	for key, v := range candidate.Data {
		if v == nil {
			continue
		}
		if _, ok := declared[key]; !ok {
			fieldErrs = append(fieldErrs, arherr.FieldError{Field: key, Message: "not declared for this type/subtype"})
		}
	}

	for _, f := range fields {
		v, present := candidate.Data[f.Name]
		empty := !present || v == nil || isEmptyValue(v)

		if f.Mandatory && empty {
			fieldErrs = append(fieldErrs, arherr.FieldError{Field: f.Name, Message: "mandatory field missing or empty"})
			continue
		}
		if empty {
			continue
		}
		if f.Readonly && previous != nil {
			prevVal := previous.Data[f.Name]
			if !valuesEqual(v, prevVal) {
				fieldErrs = append(fieldErrs, arherr.FieldError{Field: f.Name, Message: "readonly field changed"})
				continue
			}
		}
		if msg := checkFieldType(f, v); msg != "" {
			fieldErrs = append(fieldErrs, arherr.FieldError{Field: f.Name, Message: msg})
			continue
		}
		switch f.Type {
		case FieldRef:
			if id, ok := v.(string); ok && id != "" {
				if msg := checkRefTarget(id, f.AllowedTypes, ctx); msg != "" {
					fieldErrs = append(fieldErrs, arherr.FieldError{Field: f.Name, Message: msg})
				}
			}
		case FieldRefList:
			for _, id := range asStringList(v) {
				if msg := checkRefTarget(id, f.AllowedTypes, ctx); msg != "" {
					fieldErrs = append(fieldErrs, arherr.FieldError{Field: f.Name, Message: msg})
				}
			}
		case FieldBLOBId:
			if id, ok := v.(string); ok && id != "" && ctx.BlobKnown != nil && !ctx.BlobKnown(id) {
				fieldErrs = append(fieldErrs, arherr.FieldError{Field: f.Name, Message: "blob not known to the store"})
			}
		}
	}

	if len(fieldErrs) > 0 {
		return arherr.New(arherr.KindValidation, "validation failed for %s", candidate.ID).WithFields(fieldErrs...)
	}
	return nil
}

func checkRefTarget(id string, allowed []string, ctx ValidationContext) string {
	if ctx.DocumentExists == nil {
		return ""
	}
	docType, ok := ctx.DocumentExists(id)
	if !ok {
		return "referenced document does not exist"
	}
	if len(allowed) > 0 && !contains(allowed, docType) {
		return fmt.Sprintf("referenced document has type %q, not one of %v", docType, allowed)
	}
	return ""
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func checkFieldType(f Field, v interface{}) string {
	switch f.Type {
	case FieldString, FieldMarkupString, FieldDate, FieldDuration:
		if _, ok := v.(string); !ok {
			return "expected a string"
		}
	case FieldFlag:
		if _, ok := v.(bool); !ok {
			return "expected a boolean"
		}
	case FieldNaturalNumber:
		n, ok := v.(float64) // JSON numbers decode as float64
		if !ok || n < 0 || n != float64(int64(n)) {
			return "expected a non-negative integer"
		}
		if n > float64(^uint64(0)>>11) { // generous bound; avoids float precision loss
			return "value too large"
		}
	case FieldRef:
		if _, ok := v.(string); !ok {
			return "expected a document id string"
		}
	case FieldRefList:
		list, ok := v.([]interface{})
		if !ok {
			return "expected a list of document ids"
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return "ref_list entries must be strings"
			}
		}
	case FieldBLOBId:
		id, ok := v.(string)
		if !ok || !blobIDPattern.MatchString(id) {
			return "not a syntactically valid blob hash"
		}
	case FieldEnum:
		s, ok := v.(string)
		if !ok || !contains(f.EnumValues, s) {
			return fmt.Sprintf("value not in allowed set %v", f.EnumValues)
		}
	case FieldPeople, FieldCountries:
		if _, ok := v.([]interface{}); !ok {
			return "expected a list of strings"
		}
	}
	return ""
}

// ParseNaturalNumber is a convenience used by callers that stored a
// NaturalNumber field as a JSON string rather than a number.
func ParseNaturalNumber(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, arherr.Wrap(arherr.KindValidation, err, "not a natural number")
	}
	return n, nil
}
