package main

import (
	"strings"
	"testing"
)

func TestCatalogDocMatchesServer(t *testing.T) {
	doc, err := loadDoc("../../" + defaultDocPath)
	if err != nil {
		t.Fatalf("load doc: %v", err)
	}
	routes, err := catalogRoutes()
	if err != nil {
		t.Fatalf("catalog routes: %v", err)
	}
	for _, problem := range checkEnvelopes(doc) {
		t.Errorf("envelope: %v", problem)
	}
	for _, problem := range checkRoutes(doc, routes) {
		t.Errorf("routes: %v", problem)
	}
}

func TestCheckRoutesReportsBothDirections(t *testing.T) {
	doc, err := loadDoc("../../" + defaultDocPath)
	if err != nil {
		t.Fatalf("load doc: %v", err)
	}
	delete(doc.Paths, "/healthz")
	problems := checkRoutes(doc, []string{"GET /healthz", "GET /metrics"})
	var served, documented int
	for _, p := range problems {
		switch {
		case strings.Contains(p.Error(), "served but not documented"):
			served++
		case strings.Contains(p.Error(), "documented but not served"):
			documented++
		}
	}
	if served != 1 {
		t.Fatalf("expected /healthz to be reported undocumented, got %v", problems)
	}
	if documented == 0 {
		t.Fatalf("expected API routes to be reported unserved")
	}
}

func TestCheckEnvelopesRequiresPageFields(t *testing.T) {
	doc, err := loadDoc("../../" + defaultDocPath)
	if err != nil {
		t.Fatalf("load doc: %v", err)
	}
	page := doc.Components.Schemas["PageResponse"]
	page.Required = []string{"status", "data"}
	doc.Components.Schemas["PageResponse"] = page
	problems := checkEnvelopes(doc)
	if len(problems) != 1 || !strings.Contains(problems[0].Error(), "PageResponse") {
		t.Fatalf("unexpected problems %v", problems)
	}
}
