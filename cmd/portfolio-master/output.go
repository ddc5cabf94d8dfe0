package main

import (
	"encoding/json"
	"io"
	"time"
)

type commandOutput struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result"`
}

func writeJSON(w io.Writer, command string, start time.Time, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(commandOutput{
		Command:    command,
		DurationMS: time.Since(start).Milliseconds(),
		Result:     result,
	})
}
