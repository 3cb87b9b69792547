package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// outputResult prints v as JSON when --output json is set, otherwise
// hands off to the caller-provided text renderer. Matches beads' own
// --json flag, which every command checks before falling back to a
// human-readable rendering.
func outputResult(v any, textFn func()) {
	if flagOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			fatalf("encoding output: %v", err)
		}
		return
	}
	textFn()
}

func printKV(pairs ...string) {
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Printf("%-16s %s\n", pairs[i]+":", pairs[i+1])
	}
}
