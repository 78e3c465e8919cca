package rubyextractor

import (
	"context"
	"testing"

	"archsync/internal/extractors"
	"archsync/internal/facts"
)

func extract(t *testing.T, files map[string]string, relPath string) *facts.FileFacts {
	t.Helper()
	var names []string
	for name := range files {
		names = append(names, name)
	}
	res := extractors.NewResolver(names, "")

	ff, err := New().ExtractFile(context.Background(), res, relPath, []byte(files[relPath]))
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	return ff
}

func TestRequireRelativeEdges(t *testing.T) {
	files := map[string]string{
		"lib/shop/pricing.rb": `require_relative "tax"
require_relative "../util/log"
require "json"

class Pricing
end
`,
		"lib/shop/tax.rb":  "class Tax\nend\n",
		"lib/util/log.rb":  "module Log\nend\n",
		"lib/util/none.rb": "",
	}
	ff := extract(t, files, "lib/shop/pricing.rb")

	if len(ff.Edges) != 2 {
		t.Fatalf("edges = %d, want 2 (require of a gem is skipped)", len(ff.Edges))
	}
	wantTargets := map[string]bool{
		facts.ModuleID("lib/shop/tax.rb"): true,
		facts.ModuleID("lib/util/log.rb"): true,
	}
	for _, edge := range ff.Edges {
		if !wantTargets[edge.DstModuleID] {
			t.Errorf("unexpected edge target %s (label %s)", edge.DstModuleID, edge.Label)
		}
		if edge.EvidenceID == "" {
			t.Errorf("edge %s has no evidence", edge.Label)
		}
	}
}

func TestSymbolsAndVisibility(t *testing.T) {
	src := `class Order
  def total
    0
  end

  def self.create
  end

  private

  def recalc
  end
end
`
	ff := extract(t, map[string]string{"app/order.rb": src}, "app/order.rb")

	byName := map[string]facts.SymbolFact{}
	for _, sym := range ff.Symbols {
		byName[sym.Name] = sym
	}

	if sym, ok := byName["Order"]; !ok || sym.Kind != "class" {
		t.Errorf("missing class symbol: %+v", byName)
	}
	if sym, ok := byName["Order#total"]; !ok || sym.Visibility != "public" {
		t.Errorf("Order#total = %+v", sym)
	}
	if sym, ok := byName["Order.create"]; !ok || sym.Kind != "class_method" {
		t.Errorf("Order.create = %+v", sym)
	}
	if sym, ok := byName["Order#recalc"]; !ok || sym.Visibility != "private" {
		t.Errorf("Order#recalc should be private: %+v", sym)
	}
}

func TestRailsRoutesBecomePorts(t *testing.T) {
	src := `Rails.application.routes.draw do
  get "/orders" => "orders#index"
  post "/orders", to: "orders#create"
end
`
	ff := extract(t, map[string]string{"config/routes.rb": src}, "config/routes.rb")

	if len(ff.Interfaces) != 2 {
		t.Fatalf("interfaces = %d, want 2", len(ff.Interfaces))
	}
	for _, iface := range ff.Interfaces {
		if iface.Protocol != "HTTP" || iface.Direction != facts.DirectionIn {
			t.Errorf("unexpected port %+v", iface)
		}
		if iface.EvidenceID == "" {
			t.Error("port without evidence")
		}
	}
}

func TestRoutesOutsideRoutesFileIgnored(t *testing.T) {
	src := `class Thing
  get "/not-a-route"
end
`
	ff := extract(t, map[string]string{"app/thing.rb": src}, "app/thing.rb")
	if len(ff.Interfaces) != 0 {
		t.Errorf("interfaces = %d, want 0", len(ff.Interfaces))
	}
}
