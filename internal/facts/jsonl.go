package facts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// jsonlRecord is the tagged line format for facts.jsonl artifacts. Each line
// carries exactly one fact with a kind discriminator.
type jsonlRecord struct {
	Kind      string          `json:"kind"`
	Module    *ModuleFact     `json:"module,omitempty"`
	Symbol    *SymbolFact     `json:"symbol,omitempty"`
	Interface *InterfaceFact  `json:"interface,omitempty"`
	Edge      *EdgeFact       `json:"edge,omitempty"`
	Evidence  *Evidence       `json:"evidence,omitempty"`
}

// WriteJSONL writes the snapshot's facts as JSONL in canonical order.
func (s *Snapshot) WriteJSONL(w io.Writer) error {
	s.Canonicalize()
	enc := json.NewEncoder(w)
	for i := range s.Modules {
		if err := enc.Encode(jsonlRecord{Kind: "module", Module: &s.Modules[i]}); err != nil {
			return fmt.Errorf("encoding module %s: %w", s.Modules[i].ID, err)
		}
	}
	for i := range s.Symbols {
		if err := enc.Encode(jsonlRecord{Kind: "symbol", Symbol: &s.Symbols[i]}); err != nil {
			return fmt.Errorf("encoding symbol %s: %w", s.Symbols[i].ID, err)
		}
	}
	for i := range s.Interfaces {
		if err := enc.Encode(jsonlRecord{Kind: "interface", Interface: &s.Interfaces[i]}); err != nil {
			return fmt.Errorf("encoding interface %s: %w", s.Interfaces[i].ID, err)
		}
	}
	for i := range s.Edges {
		if err := enc.Encode(jsonlRecord{Kind: "edge", Edge: &s.Edges[i]}); err != nil {
			return fmt.Errorf("encoding edge %s: %w", s.Edges[i].ID, err)
		}
	}
	for i := range s.Evidences {
		if err := enc.Encode(jsonlRecord{Kind: "evidence", Evidence: &s.Evidences[i]}); err != nil {
			return fmt.Errorf("encoding evidence %s: %w", s.Evidences[i].ID, err)
		}
	}
	return nil
}

// WriteJSONLFile writes the snapshot's facts as JSONL to the given path.
func (s *Snapshot) WriteJSONLFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := s.WriteJSONL(bw); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadJSONL reads facts from a JSONL reader into the snapshot.
func (s *Snapshot) ReadJSONL(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decoding fact line: %w", err)
		}
		switch {
		case rec.Module != nil:
			s.Modules = append(s.Modules, *rec.Module)
		case rec.Symbol != nil:
			s.Symbols = append(s.Symbols, *rec.Symbol)
		case rec.Interface != nil:
			s.Interfaces = append(s.Interfaces, *rec.Interface)
		case rec.Edge != nil:
			s.Edges = append(s.Edges, *rec.Edge)
		case rec.Evidence != nil:
			s.Evidences = append(s.Evidences, *rec.Evidence)
		}
	}
	return scanner.Err()
}

// ReadJSONLFile reads facts from a JSONL file into the snapshot.
func (s *Snapshot) ReadJSONLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return s.ReadJSONL(f)
}
