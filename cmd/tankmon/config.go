package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/tankmon/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: gAdvanced,
		Short:   "Read and write the daemon's config records",
		Long: `Read and write the daemon's config records: ` + strings.Join(config.RecordNames, ", ") + `.

Network, pins and system changes take effect on the next mode switch or
daemon restart. Tank changes apply immediately.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [record]",
			Short: "Print one record, or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 1 {
					rec, err := apiClient.GetRecord(args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, rec)
				}

				recs, err := apiClient.GetConfigs()
				if err != nil {
					return err
				}
				names := make([]string, 0, len(recs))
				for name := range recs {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					cmd.Println(bold("%s:", name))
					if err := printJSON(cmd, recs[name]); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <record> <key=value>...",
			Short: "Change fields of a record",
			Example: `  tankmon config set network sta_ssid=home sta_password=secret
  tankmon config set system "measurement_interval=@every 2s" publish_interval=5000`,
			Args: cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				patch, err := buildPatch(args[1:])
				if err != nil {
					return err
				}
				rec, err := apiClient.SaveRecord(args[0], patch)
				if err != nil {
					return err
				}
				logrus.WithField("record", args[0]).Info("record saved")
				return printJSON(cmd, rec)
			},
		},
	)

	return cmd
}

// buildPatch turns key=value pairs into a JSON object. Values that parse
// as JSON (numbers, booleans, quoted strings) are sent as such; anything
// else is sent as a string.
func buildPatch(pairs []string) (json.RawMessage, error) {
	patch := make(map[string]json.RawMessage, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", p)
		}
		if json.Valid([]byte(value)) && value != "" {
			patch[key] = json.RawMessage(value)
			continue
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		patch[key] = b
	}
	return json.Marshal(patch)
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "  ", "  "); err != nil {
		return err
	}
	cmd.Println("  " + buf.String())
	return nil
}
