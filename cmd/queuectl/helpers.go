package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

func (c *commandContext) business() (uint, error) {
	if c.businessID == nil || *c.businessID == 0 {
		return 0, errors.New("--business is required")
	}
	return *c.businessID, nil
}

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return uint(id), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
