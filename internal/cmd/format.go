package cmd

import (
	"encoding/json"
	"os"
)

// printJSON writes indented JSON to stdout. All command output goes
// through here so results stay pipeable (logs go to stderr).
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
