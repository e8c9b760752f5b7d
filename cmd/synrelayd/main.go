// Command synrelayd is the daemon entrypoint. Grounded on mbp/cmd.Run's
// argument dispatch (default server start, a password-hash helper
// subcommand), trimmed of the teacher's DB-backed purge/reset operations
// since this module has no per-day log table to purge.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"synrelay/common/logx"
	"synrelay/server"
)

const defaultConfig = "./config/config.yaml"

var log = logx.New(logx.WithPrefix("cmd"))

func main() {
	if len(os.Args) == 1 {
		must(server.Run(defaultConfig))
		return
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		printHelp()
	case "hashpass":
		if len(os.Args) < 3 || os.Args[2] == "" {
			fmt.Fprintln(os.Stderr, "Usage: synrelayd hashpass <PASSWORD>")
			os.Exit(2)
		}
		sum := sha256.Sum256([]byte(os.Args[2]))
		fmt.Println(hex.EncodeToString(sum[:]))
	case "-c", "--config":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: synrelayd -c <config path>")
			os.Exit(2)
		}
		must(server.Run(os.Args[2]))
	default:
		must(server.Run(defaultConfig))
	}
}

func must(err error) {
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage:
  synrelayd                     # start the daemon with ./config/config.yaml
  synrelayd -c <path>           # start with an explicit config path
  synrelayd hashpass <PASSWORD> # print the sha256 hex to put in admin.password_sha256`)
}
