// Command opnsensectl backs up, restores and checks a single OPNsense
// firewall through its management API.
package main

import "os"

func main() {
	os.Exit(Execute())
}
