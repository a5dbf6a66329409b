// Command check_openapi verifies that api/openapi.yaml agrees with the JSON
// the server actually writes: the error envelope and the Book and User
// resources derived from their Go json tags.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bookshelf/pkg/domain"
)

const defaultDocPath = "api/openapi.yaml"

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

// requiredOperations lists every route the server registers.
var requiredOperations = map[string][]string{
	"/healthz":    {"get"},
	"/login":      {"post"},
	"/logout":     {"post"},
	"/me":         {"get"},
	"/books":      {"get", "post"},
	"/books/{id}": {"get", "put", "patch", "delete"},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	path := defaultDocPath
	switch len(args) {
	case 0:
	case 1:
		path = args[0]
	default:
		return errors.New("usage: check_openapi [openapi.yaml]")
	}

	doc, err := loadDoc(path)
	if err != nil {
		return err
	}
	if err := validatePaths(doc); err != nil {
		return err
	}

	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	detail, err := getSchema(doc, "ErrorDetail")
	if err != nil {
		return err
	}
	if err := validateErrorDetail(detail); err != nil {
		return err
	}

	book, err := getSchema(doc, "Book")
	if err != nil {
		return err
	}
	if err := ensureMatchesStruct("Book", book, reflect.TypeOf(domain.Book{}), true); err != nil {
		return err
	}
	user, err := getSchema(doc, "User")
	if err != nil {
		return err
	}
	if err := ensureMatchesStruct("User", user, reflect.TypeOf(domain.User{}), false); err != nil {
		return err
	}
	if _, ok := user.Properties["password"]; ok {
		return errors.New("User must not expose password")
	}

	fmt.Fprintln(stdout, "OpenAPI consistency check passed.")
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validatePaths(doc openAPIDoc) error {
	paths := make([]string, 0, len(requiredOperations))
	for p := range requiredOperations {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		item, ok := doc.Paths[p]
		if !ok {
			return fmt.Errorf("path %q missing", p)
		}
		for _, method := range requiredOperations[p] {
			if _, ok := item[method]; !ok {
				return fmt.Errorf("operation %s %s missing", strings.ToUpper(method), p)
			}
		}
	}
	return nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	detailsProp, ok := s.Properties["details"]
	if !ok || detailsProp.Type != "array" {
		return errors.New("ErrorResponse.details must be array")
	}
	if detailsProp.Items == nil || strings.TrimSpace(detailsProp.Items.Ref) != "#/components/schemas/ErrorDetail" {
		return errors.New("ErrorResponse.details.items must reference ErrorDetail")
	}
	return nil
}

func validateErrorDetail(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorDetail must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"field", "reason"} {
		if !required[field] {
			return fmt.Errorf("ErrorDetail.required must include %q", field)
		}
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorDetail.%s must be string", field)
		}
	}
	return nil
}

// ensureMatchesStruct compares a schema with the json-tagged fields of t.
// With exact set, the schema may not declare extra properties.
func ensureMatchesStruct(name string, s schema, t reflect.Type, exact bool) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	want := jsonFields(t)
	required := makeSet(s.Required)
	for field, typ := range want {
		prop, ok := s.Properties[field]
		if !ok {
			return fmt.Errorf("%s.%s missing", name, field)
		}
		if prop.Type != typ {
			return fmt.Errorf("%s.%s must be %s, got %q", name, field, typ, prop.Type)
		}
		if !required[field] {
			return fmt.Errorf("%s.required must include %q", name, field)
		}
	}
	if exact && len(s.Properties) != len(want) {
		var extra []string
		for field := range s.Properties {
			if _, ok := want[field]; !ok {
				extra = append(extra, field)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("%s has unexpected properties %v", name, extra)
	}
	return nil
}

var timeType = reflect.TypeOf(time.Time{})

// jsonFields maps each exported json name of t to its OpenAPI type.
func jsonFields(t reflect.Type) map[string]string {
	out := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = openAPIType(f.Type)
	}
	return out
}

func openAPIType(t reflect.Type) string {
	if t == timeType {
		return "string"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}
