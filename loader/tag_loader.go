package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/ridoystarlord/schemadeploy/schema"
)

// TagLoader loads a schema from Go structs carrying deploy tags.
//
//	type Post struct {
//		Title  string  `deploy:"required"`
//		Author *User   `deploy:"relation:Authorship;host;column:author_id"`
//		Tags   []Tag   `deploy:"relation:PostTags"`
//	}
//
// A struct whose fields are all tagged "enum" declares an enum of the field
// names.
type TagLoader struct {
	modelsDir string
}

func NewTagLoader(modelsDir string) *TagLoader {
	return &TagLoader{modelsDir: modelsDir}
}

// LoadSchemaFromTags loads the schema declared by the structs of modelsDir.
func LoadSchemaFromTags(modelsDir string) (schema.Schema, error) {
	return NewTagLoader(modelsDir).Load()
}

// FieldTag is a parsed deploy tag.
type FieldTag struct {
	Ignore   bool
	Name     string
	OldName  string
	Type     schema.TypeIdentifier
	Enum     string
	Required bool
	Unique   bool
	Default  *string
	Relation string
	Host     bool
	Column   string
	Table    string
	// EnumValue marks a value of an enum struct.
	EnumValue bool
}

type relationPart struct {
	side schema.RelationSide
	list bool
	tag  *FieldTag
}

func (tl *TagLoader) Load() (schema.Schema, error) {
	if _, err := os.Stat(tl.modelsDir); os.IsNotExist(err) {
		return schema.Schema{}, fmt.Errorf("models directory '%s' does not exist", tl.modelsDir)
	}

	var files []string
	err := filepath.Walk(tl.modelsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return schema.Schema{}, fmt.Errorf("failed to load models: %w", err)
	}
	sort.Strings(files)

	var s schema.Schema
	parts := map[string][]relationPart{}
	var relationOrder []string
	for _, path := range files {
		if err := tl.parseGoFile(path, &s, parts, &relationOrder); err != nil {
			return schema.Schema{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	for _, name := range relationOrder {
		r, err := buildRelation(name, parts[name])
		if err != nil {
			return schema.Schema{}, err
		}
		s.Relations = append(s.Relations, r)
	}
	return s, nil
}

func (tl *TagLoader) parseGoFile(path string, s *schema.Schema, parts map[string][]relationPart, order *[]string) error {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}

	var parseErr error
	ast.Inspect(node, func(n ast.Node) bool {
		spec, ok := n.(*ast.TypeSpec)
		if !ok || parseErr != nil {
			return parseErr == nil
		}
		st, ok := spec.Type.(*ast.StructType)
		if !ok {
			return true
		}
		if e, ok := tl.parseEnum(spec.Name.Name, st); ok {
			s.Enums = append(s.Enums, e)
			return false
		}
		m, err := tl.parseStruct(spec.Name.Name, st, parts, order)
		if err != nil {
			parseErr = err
			return false
		}
		s.Models = append(s.Models, m)
		return false
	})
	return parseErr
}

func (tl *TagLoader) parseEnum(name string, st *ast.StructType) (schema.Enum, bool) {
	e := schema.Enum{Name: name}
	for _, field := range st.Fields.List {
		tag := tl.parseTag(field.Tag)
		if !tag.EnumValue {
			return schema.Enum{}, false
		}
		for _, n := range field.Names {
			e.Values = append(e.Values, n.Name)
		}
	}
	return e, len(e.Values) > 0
}

func (tl *TagLoader) parseStruct(name string, st *ast.StructType, parts map[string][]relationPart, order *[]string) (schema.Model, error) {
	model := schema.Model{Name: name}
	for _, field := range st.Fields.List {
		if len(field.Names) == 0 {
			continue
		}
		goName := field.Names[0].Name
		if !ast.IsExported(goName) {
			continue
		}
		tag := tl.parseTag(field.Tag)
		if tag.Ignore {
			continue
		}
		if goName == "ID" && tag.Name == "" {
			if tag.Type != "" {
				model.IDType = schema.IDType(tag.Type)
			} else {
				model.IDType = idType(tl.getFieldType(field.Type))
			}
			continue
		}

		f := schema.Field{
			Name:     tag.Name,
			OldName:  tag.OldName,
			Type:     tag.Type,
			Enum:     tag.Enum,
			Required: tag.Required,
			Unique:   tag.Unique,
			Default:  tag.Default,
		}
		if f.Name == "" {
			f.Name = lowerFirst(goName)
		}
		goType := tl.getFieldType(field.Type)
		if tag.Relation != "" {
			f.Type = schema.TypeRelation
			f.Relation = tag.Relation
			f.List = strings.HasPrefix(goType, "[]")
			if _, seen := parts[tag.Relation]; !seen {
				*order = append(*order, tag.Relation)
			}
			parts[tag.Relation] = append(parts[tag.Relation], relationPart{
				side: schema.RelationSide{Model: name, Field: f.Name},
				list: f.List,
				tag:  tag,
			})
		}
		if f.Type == "" && f.Enum != "" {
			f.Type = schema.TypeEnum
		}
		if f.Type == "" {
			f.Type = inferType(goType)
		}
		model.Fields = append(model.Fields, f)
	}
	return model, nil
}

// buildRelation assembles a relation from its tagged fields. Two to-many
// sides, or a "table" tag, make a join table; otherwise the side tagged
// "host", or the only to-one side, hosts the foreign key.
func buildRelation(name string, parts []relationPart) (schema.Relation, error) {
	if len(parts) != 2 {
		return schema.Relation{}, fmt.Errorf("relation %s: expected 2 tagged fields, found %d", name, len(parts))
	}
	r := schema.Relation{Name: name, A: parts[0].side, B: parts[1].side}

	table := ""
	for _, p := range parts {
		if p.tag.Table != "" {
			table = p.tag.Table
		}
	}
	if table != "" || (parts[0].list && parts[1].list) {
		r.Link = schema.Link{Strategy: schema.LinkTable, Table: table}
		return r, nil
	}

	var host *relationPart
	for i := range parts {
		if parts[i].tag.Host {
			host = &parts[i]
		}
	}
	if host == nil {
		switch {
		case !parts[0].list && parts[1].list:
			host = &parts[0]
		case parts[0].list && !parts[1].list:
			host = &parts[1]
		default:
			return schema.Relation{}, fmt.Errorf("relation %s: tag one side as host", name)
		}
	}
	side := host.side
	r.Link = schema.Link{Strategy: schema.LinkInline, Host: &side, Column: host.tag.Column}
	return r, nil
}

func (tl *TagLoader) parseTag(tag *ast.BasicLit) *FieldTag {
	if tag == nil {
		return &FieldTag{}
	}
	value := reflect.StructTag(strings.Trim(tag.Value, "`")).Get("deploy")
	return tl.parseDeployTag(value)
}

// parseDeployTag parses a tag value such as "name:email;required;unique;default:x".
func (tl *TagLoader) parseDeployTag(value string) *FieldTag {
	tag := &FieldTag{}
	if value == "-" {
		tag.Ignore = true
		return tag
	}

	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, val, ok := strings.Cut(part, ":"); ok {
			key, val = strings.TrimSpace(key), strings.TrimSpace(val)
			switch key {
			case "name":
				tag.Name = val
			case "old":
				tag.OldName = val
			case "type":
				tag.Type = schema.TypeIdentifier(val)
			case "enum":
				tag.Enum = val
			case "default":
				tag.Default = &val
			case "relation":
				tag.Relation = val
			case "column":
				tag.Column = val
			case "table":
				tag.Table = val
			}
			continue
		}
		switch part {
		case "required":
			tag.Required = true
		case "unique":
			tag.Unique = true
		case "host":
			tag.Host = true
		case "enum":
			tag.EnumValue = true
		}
	}
	return tag
}

func (tl *TagLoader) getFieldType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return tl.getFieldType(t.X)
	case *ast.ArrayType:
		return "[]" + tl.getFieldType(t.Elt)
	case *ast.MapType:
		return "map"
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return x.Name + "." + t.Sel.Name
		}
	}
	return ""
}

func inferType(goType string) schema.TypeIdentifier {
	switch goType {
	case "int", "int32", "int64", "uint", "uint32":
		return schema.TypeInt
	case "float32", "float64":
		return schema.TypeFloat
	case "bool":
		return schema.TypeBoolean
	case "time.Time":
		return schema.TypeDateTime
	case "uuid.UUID":
		return schema.TypeUUID
	case "json.RawMessage", "map", "[]byte":
		return schema.TypeJSON
	}
	return schema.TypeString
}

func idType(goType string) schema.IDType {
	switch inferType(goType) {
	case schema.TypeInt:
		return schema.IDInt
	case schema.TypeUUID:
		return schema.IDUUID
	}
	return ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	if strings.ToUpper(s) == s {
		return strings.ToLower(s)
	}
	return strings.ToLower(s[:1]) + s[1:]
}
