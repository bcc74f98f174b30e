package commands

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/skycoin/relchan/pkg/sim"
	"github.com/skycoin/relchan/pkg/util/pathutil"
)

var replace bool

func init() {
	configCmd.Flags().BoolVarP(&replace, "replace", "r", false, "whether to overwrite an existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config [sim.json|sim.yaml]",
	Short: "Prints the default config, or writes it to the given file",
	Args:  cobra.MaximumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		conf := sim.DefaultConfig()
		if len(args) == 0 {
			raw, err := json.MarshalIndent(conf, "", "  ")
			if err != nil {
				log.Fatal("Failed to encode config: ", err)
			}
			fmt.Println(string(raw))
			return
		}

		output, err := pathutil.Expand(args[0])
		if err != nil {
			log.Fatal("Failed to expand path: ", err)
		}
		if _, err := pathutil.EnsureDir(filepath.Dir(output)); err != nil {
			log.Fatal(err)
		}
		if exists(output) && !replace {
			log.Fatalf("file %s already exists, stopping as 'replace,r' flag is not set", output)
		}

		var raw []byte
		switch strings.ToLower(filepath.Ext(output)) {
		case ".yaml", ".yml":
			raw, err = yaml.Marshal(conf)
		default:
			raw, err = json.MarshalIndent(conf, "", "  ")
		}
		if err != nil {
			log.Fatal("Failed to encode config: ", err)
		}
		if err := pathutil.AtomicWriteFile(output, raw); err != nil {
			log.Fatal("Failed to write config: ", err)
		}
		log.Printf("Wrote %d bytes to %s", len(raw), output)
	},
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
