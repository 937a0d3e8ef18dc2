package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ridoystarlord/schemadeploy/schema"
)

type yamlFile struct {
	Models    []yamlModel    `yaml:"models"`
	Enums     []yamlEnum     `yaml:"enums"`
	Relations []yamlRelation `yaml:"relations"`
}

type yamlModel struct {
	Name    string      `yaml:"name"`
	OldName string      `yaml:"oldName"`
	IDType  string      `yaml:"idType"`
	Fields  []yamlField `yaml:"fields"`
}

type yamlField struct {
	Name     string  `yaml:"name"`
	OldName  string  `yaml:"oldName"`
	Type     string  `yaml:"type"`
	Enum     string  `yaml:"enum"`
	Relation string  `yaml:"relation"`
	Required bool    `yaml:"required"`
	Unique   bool    `yaml:"unique"`
	List     bool    `yaml:"list"`
	Default  *string `yaml:"default"`
}

type yamlEnum struct {
	Name    string   `yaml:"name"`
	OldName string   `yaml:"oldName"`
	Values  []string `yaml:"values"`
}

type yamlSide struct {
	Model string `yaml:"model"`
	Field string `yaml:"field"`
}

type yamlRelation struct {
	Name    string   `yaml:"name"`
	OldName string   `yaml:"oldName"`
	A       yamlSide `yaml:"a"`
	B       yamlSide `yaml:"b"`
	Link    struct {
		Strategy string    `yaml:"strategy"`
		Host     *yamlSide `yaml:"host"`
		Column   string    `yaml:"column"`
		Table    string    `yaml:"table"`
	} `yaml:"link"`
}

// Load reads a schema from a YAML or JSON file, or from the Go model
// structs of a directory.
func Load(path string) (schema.Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("reading schema: %w", err)
	}
	if info.IsDir() {
		return LoadSchemaFromTags(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("reading schema file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var s schema.Schema
		if err := json.Unmarshal(data, &s); err != nil {
			return schema.Schema{}, fmt.Errorf("unmarshalling JSON: %w", err)
		}
		return s, nil
	}
	return ParseYAML(data)
}

// ParseYAML parses a schema document. A field naming an enum or a relation
// may omit its type.
func ParseYAML(data []byte) (schema.Schema, error) {
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return schema.Schema{}, fmt.Errorf("unmarshalling YAML: %w", err)
	}

	var s schema.Schema
	for _, e := range yf.Enums {
		s.Enums = append(s.Enums, schema.Enum{Name: e.Name, OldName: e.OldName, Values: e.Values})
	}
	for _, m := range yf.Models {
		model := schema.Model{Name: m.Name, OldName: m.OldName, IDType: schema.IDType(m.IDType)}
		for _, f := range m.Fields {
			field := schema.Field{
				Name:     f.Name,
				OldName:  f.OldName,
				Type:     schema.TypeIdentifier(f.Type),
				Enum:     f.Enum,
				Relation: f.Relation,
				Required: f.Required,
				Unique:   f.Unique,
				List:     f.List,
				Default:  f.Default,
			}
			if field.Type == "" {
				switch {
				case f.Relation != "":
					field.Type = schema.TypeRelation
				case f.Enum != "":
					field.Type = schema.TypeEnum
				default:
					return schema.Schema{}, fmt.Errorf("model %s field %s: missing type", m.Name, f.Name)
				}
			}
			model.Fields = append(model.Fields, field)
		}
		s.Models = append(s.Models, model)
	}
	for _, r := range yf.Relations {
		rel := schema.Relation{
			Name:    r.Name,
			OldName: r.OldName,
			A:       schema.RelationSide(r.A),
			B:       schema.RelationSide(r.B),
			Link: schema.Link{
				Strategy: schema.LinkStrategy(r.Link.Strategy),
				Column:   r.Link.Column,
				Table:    r.Link.Table,
			},
		}
		if r.Link.Host != nil {
			host := schema.RelationSide(*r.Link.Host)
			rel.Link.Host = &host
		}
		if rel.Link.Strategy == "" {
			rel.Link.Strategy = schema.LinkInline
			if rel.Link.Host == nil {
				rel.Link.Strategy = schema.LinkTable
			}
		}
		s.Relations = append(s.Relations, rel)
	}
	return s, nil
}
