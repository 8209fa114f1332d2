package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// parseAssignments turns key=value arguments into a config update. Values
// are read as JSON when they parse, so numbers and booleans keep their
// type. Anything else is taken as a string, and an empty value clears the key.
func parseAssignments(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("invalid number of arguments")
	}

	values := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", arg)
		}
		if raw == "" {
			values[key] = nil
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[key] = v
	}

	return values, nil
}

func printValues(cmd *cobra.Command, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Printf("  %s: %s\n", k, bold("%v", values[k]))
	}
}

func newValuesCommand(
	use, short string,
	group string,
	get func() (map[string]any, error),
	set func(map[string]any) (map[string]any, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: group,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print " + short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := get()
				if err != nil {
					return err
				}
				if len(args) == 1 {
					v, ok := values[args[0]]
					if !ok {
						return fmt.Errorf("unknown key %q", args[0])
					}
					cmd.Println(v)
					return nil
				}
				printValues(cmd, values)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set key=value...",
			Short: "Change " + short,
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := parseAssignments(args)
				if err != nil {
					return err
				}
				updated, err := set(values)
				if err != nil {
					return fmt.Errorf("failed to set %s: %v", use, err)
				}
				printValues(cmd, updated)
				return nil
			},
		},
	)

	return cmd
}
