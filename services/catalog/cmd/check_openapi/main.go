package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"vidarchive/pkg/storage"
	"vidarchive/pkg/store"
	"vidarchive/services/catalog/internal/app"
	"vidarchive/services/catalog/internal/server"
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

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "patch": true, "delete": true, "head": true, "options": true,
}

func main() {
	if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [openapi.yaml]\n", os.Args[0])
		os.Exit(2)
	}
	path := defaultDocPath
	if len(os.Args) == 2 {
		path = os.Args[1]
	}

	doc, err := loadDoc(path)
	if err != nil {
		exitErr(err)
	}
	routes, err := catalogRoutes()
	if err != nil {
		exitErr(err)
	}
	problems := append(checkEnvelopes(doc), checkRoutes(doc, routes)...)
	if len(problems) > 0 {
		exitErr(errors.Join(problems...))
	}
	fmt.Printf("OpenAPI check passed: %d routes documented.\n", len(routes))
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

// catalogRoutes builds an in-memory server with every optional route on and
// returns its method patterns.
func catalogRoutes() ([]string, error) {
	sessions, err := store.NewJWTSessionStore(strings.Repeat("x", 32), time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		return nil, err
	}
	core, err := app.New(app.Config{
		Store:    store.NewMemoryStore(),
		Sessions: sessions,
		Objects:  storage.NewMemoryStore(""),
	})
	if err != nil {
		return nil, err
	}
	srv, err := server.New(server.Config{App: core, MetricsEnabled: true})
	if err != nil {
		return nil, err
	}
	return srv.Routes(), nil
}

// documentedRoutes flattens paths into "METHOD /path" patterns.
func documentedRoutes(doc openAPIDoc) []string {
	out := make([]string, 0, len(doc.Paths))
	for path, item := range doc.Paths {
		for method := range item {
			if httpMethods[method] {
				out = append(out, strings.ToUpper(method)+" "+path)
			}
		}
	}
	sort.Strings(out)
	return out
}

func checkRoutes(doc openAPIDoc, routes []string) []error {
	documented := makeSet(documentedRoutes(doc))
	served := makeSet(routes)
	var problems []error
	for _, route := range sortedKeys(served) {
		if !documented[route] {
			problems = append(problems, fmt.Errorf("route %q is served but not documented", route))
		}
	}
	for _, route := range sortedKeys(documented) {
		if !served[route] {
			problems = append(problems, fmt.Errorf("route %q is documented but not served", route))
		}
	}
	return problems
}

func checkEnvelopes(doc openAPIDoc) []error {
	var problems []error
	check := func(name string, fields map[string]string) {
		s, err := getSchema(doc, name)
		if err != nil {
			problems = append(problems, err)
			return
		}
		if err := requireFields(name, s, fields); err != nil {
			problems = append(problems, err)
		}
	}
	check("FailResponse", map[string]string{"status": "string", "message": "string"})
	check("ErrorResponse", map[string]string{"status": "string", "message": "string"})
	check("ValidationFailResponse", map[string]string{"status": "string", "message": "string", "errors": "array"})
	check("FieldError", map[string]string{"field": "string", "tag": "string", "message": "string"})
	check("DataResponse", map[string]string{"status": "string"})
	check("ListResponse", map[string]string{"status": "string", "results": "integer", "data": "array"})
	check("PageResponse", map[string]string{
		"status": "string", "results": "integer", "total": "integer",
		"totalPages": "integer", "currentPage": "integer", "limit": "integer", "data": "array",
	})
	check("SessionResponse", map[string]string{"status": "string", "token": "string"})

	if s, err := getSchema(doc, "ValidationFailResponse"); err == nil {
		items := s.Properties["errors"].Items
		if items == nil || strings.TrimSpace(items.Ref) != "#/components/schemas/FieldError" {
			problems = append(problems, errors.New("ValidationFailResponse.errors.items must reference FieldError"))
		}
	}
	return problems
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

// requireFields checks that every field is required and has the given type.
func requireFields(name string, s schema, fields map[string]string) error {
	if s.Type != "object" {
		return fmt.Errorf("%s must be object", name)
	}
	required := makeSet(s.Required)
	for _, field := range sortedKeys(fields) {
		if !required[field] {
			return fmt.Errorf("%s.required must include %q", name, field)
		}
		prop, ok := s.Properties[field]
		if !ok || prop.Type != fields[field] {
			return fmt.Errorf("%s.%s must be %s", name, field, fields[field])
		}
	}
	return nil
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

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
