package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// maxLineSize bounds a single audit line; Write content can be large.
const maxLineSize = 8 * 1024 * 1024

// VerifyResult is the outcome of checking a JSONL log's hash chain, plus a
// summary of what the intact prefix contains.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
	Decisions map[string]int `json:"decisions,omitempty"`
	// Policies counts distinct policy hashes, i.e. how many policy
	// versions made the recorded decisions.
	Policies int    `json:"policies"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
}

// chain walks records in order, checking each prev_hash against the line
// before it.
type chain struct {
	result   VerifyResult
	prev     []byte
	policies map[string]bool
}

func (c *chain) add(line []byte) error {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("parse error: %v", err)
	}

	want := GenesisHash
	if c.prev != nil {
		want = HashLine(c.prev)
	}
	if rec.PrevHash != want {
		if c.prev == nil {
			return fmt.Errorf("first record prev_hash is %q, expected genesis hash", rec.PrevHash)
		}
		return fmt.Errorf("hash mismatch: expected %s, got %s", want, rec.PrevHash)
	}

	c.result.Decisions[rec.Decision]++
	if rec.PolicyHash != "" && !c.policies[rec.PolicyHash] {
		c.policies[rec.PolicyHash] = true
		c.result.Policies++
	}
	if c.result.First == "" {
		c.result.First = rec.Timestamp
	}
	c.result.Last = rec.Timestamp
	c.prev = line
	return nil
}

// Verify checks the hash chain of the JSONL log at path and reports the
// first broken link. SQLite stores carry no chain and are rejected.
func Verify(path string) VerifyResult {
	if inferFormat(path) == FormatSQLite {
		return VerifyResult{Error: "sqlite audit stores are not hash-chained"}
	}
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	c := &chain{
		result:   VerifyResult{Decisions: make(map[string]int)},
		policies: make(map[string]bool),
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if err := c.add(line); err != nil {
			c.result.Error = err.Error()
			c.result.ErrorLine = c.result.Lines + 1
			return c.result
		}
		c.result.Lines++
	}
	if err := scanner.Err(); err != nil {
		c.result.Error = fmt.Sprintf("scan: %v", err)
		c.result.ErrorLine = c.result.Lines + 1
		return c.result
	}

	c.result.Valid = true
	return c.result
}
