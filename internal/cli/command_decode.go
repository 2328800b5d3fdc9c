package cli

import (
	"encoding/hex"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/TheCjw/DoHVerifier/pkg/stamp"
)

type decoded struct {
	Stamp    string   `json:"stamp"`
	Error    string   `json:"error,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
	Props    uint64   `json:"props"`
	Address  string   `json:"address,omitempty"`
	Hashes   []string `json:"hashes,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	Path     string   `json:"path,omitempty"`
	URL      string   `json:"url,omitempty"`
}

var CommandDecode = &cobra.Command{
	Use:   "decode stamps...",
	Short: "Decode DoH stamps",
	Long: `Decode one or more sdns:// stamps and print each as a JSON object on its own line.

Stamps that cannot be decoded, including stamps of protocols other than DoH, are
printed with an error field instead of the decoded fields.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := json.NewEncoder(cmd.OutOrStdout())

		for _, arg := range args {
			out := decoded{Stamp: arg}

			entry, err := stamp.DecodeURI("", "", arg)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.Protocol = entry.Proto.String()
				out.Props = uint64(entry.Props)
				out.Address = entry.Address
				for _, h := range entry.Hashes {
					out.Hashes = append(out.Hashes, hex.EncodeToString(h))
				}
				out.Hostname = entry.Hostname
				out.Path = entry.Path
				out.URL = entry.URL
			}

			if err := output.Encode(&out); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	CommandRoot.AddCommand(CommandDecode)
}
